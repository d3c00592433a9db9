package params

import (
	"reflect"
	"testing"
)

func changedSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestDefaults(t *testing.T) {
	s := NewStore()
	if got := s.Model(); got != "stabilityai/sdxl-turbo" {
		t.Fatalf("unexpected default model: %s", got)
	}
	if got := s.TIndexList(); !reflect.DeepEqual(got, []int{11}) {
		t.Fatalf("unexpected default schedule: %v", got)
	}
}

func TestSetValidation(t *testing.T) {
	s := NewStore()

	if err := s.Set("Prompt", "a castle"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	if err := s.Set("Nonexistent", 1); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
	if err := s.Set("Guidance", 50.0); err == nil {
		t.Fatal("expected range error for Guidance=50")
	}
	if err := s.Set("Model", "not/a-model"); err == nil {
		t.Fatal("expected menu error for unknown model")
	}
	if err := s.Set("Seed", "forty-two"); err == nil {
		t.Fatal("expected type error for string seed")
	}
}

func TestStepScheduleFiltersNegatives(t *testing.T) {
	s := NewStore()
	s.SetStepSchedule([]int{4, -1, 20})
	if got := s.TIndexList(); !reflect.DeepEqual(got, []int{4, 20}) {
		t.Fatalf("unexpected schedule: %v", got)
	}

	s.SetStepSchedule(nil)
	if got := s.TIndexList(); !reflect.DeepEqual(got, []int{11}) {
		t.Fatalf("empty schedule should default to [11], got %v", got)
	}
}

func TestBuildCreateParamsFullSnapshot(t *testing.T) {
	s := NewStore()
	model, p := s.BuildCreateParams()

	if model != "stabilityai/sdxl-turbo" {
		t.Fatalf("unexpected model: %s", model)
	}
	if p["prompt"] != "strawberry" {
		t.Fatalf("unexpected prompt: %v", p["prompt"])
	}
	if p["width"] != 512 || p["height"] != 512 {
		t.Fatalf("resolution missing: %v %v", p["width"], p["height"])
	}
	if p["num_inference_steps"] != 50 {
		t.Fatalf("steps missing: %v", p["num_inference_steps"])
	}
	if p["seed"] != 42 {
		t.Fatalf("seed missing: %v", p["seed"])
	}
	cns, ok := p["controlnets"].([]map[string]any)
	if !ok || len(cns) != 3 {
		t.Fatalf("sdxl-turbo should carry 3 controlnets: %v", p["controlnets"])
	}
	if _, ok := p["ip_adapter"]; !ok {
		t.Fatal("sdxl-turbo supports IP adapter, payload missing")
	}
	if _, ok := p["ip_adapter_style_image_url"]; ok {
		t.Fatal("no style image set, url must be absent")
	}
}

func TestNegativeSeedOmitted(t *testing.T) {
	s := NewStore()
	if err := s.Set("Seed", -1); err != nil {
		t.Fatalf("set seed: %v", err)
	}
	_, p := s.BuildCreateParams()
	if _, ok := p["seed"]; ok {
		t.Fatal("negative seed must be omitted")
	}
}

func TestBuildChangedParamsMinimalDiff(t *testing.T) {
	s := NewStore()
	s.Set("Prompt", "a lighthouse")

	p := s.BuildChangedParams(changedSet("Prompt"))
	if len(p) != 1 {
		t.Fatalf("expected single-key diff, got %v", p)
	}
	if p["prompt"] != "a lighthouse" {
		t.Fatalf("unexpected prompt: %v", p["prompt"])
	}
}

func TestChangedControlnetRebuildsWholeGroup(t *testing.T) {
	s := NewStore()
	p := s.BuildChangedParams(changedSet("Depth"))

	cns, ok := p["controlnets"].([]map[string]any)
	if !ok {
		t.Fatalf("expected controlnets group, got %v", p)
	}
	if len(cns) != 3 {
		t.Fatalf("expected whole group (3 entries), got %d", len(cns))
	}
	if _, ok := p["prompt"]; ok {
		t.Fatal("diff must not include unchanged parameters")
	}
}

func TestControlnetChangeOnUnsupportedModelYieldsEmptyDiff(t *testing.T) {
	s := NewStore()
	// No schema model is controlnet-free, so write past Set's menu check.
	s.mu.Lock()
	s.values["Model"] = "unknown/model"
	s.mu.Unlock()

	p := s.BuildChangedParams(changedSet("Depth"))
	if len(p) != 0 {
		t.Fatalf("expected empty diff for unsupported controlnet, got %v", p)
	}
}

func TestIPAdapterGroupRebuild(t *testing.T) {
	s := NewStore()
	s.Set("Styleimage", "https://example.com/style.jpg")

	p := s.BuildChangedParams(changedSet("Ipadapterscale"))
	ip, ok := p["ip_adapter"].(map[string]any)
	if !ok {
		t.Fatalf("expected ip_adapter group, got %v", p)
	}
	if ip["enabled"] != true {
		t.Fatalf("ip adapter should be enabled with a style image: %v", ip)
	}
	if p["ip_adapter_style_image_url"] != "https://example.com/style.jpg" {
		t.Fatalf("style url missing: %v", p)
	}
}

func TestIPAdapterChangeOnUnsupportedModelYieldsEmptyDiff(t *testing.T) {
	s := NewStore()
	if err := s.Set("Model", "stabilityai/sd-turbo"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	p := s.BuildChangedParams(changedSet("Ipadapter"))
	if len(p) != 0 {
		t.Fatalf("sd-turbo has no IP adapter, expected empty diff: %v", p)
	}
}

func TestStepScheduleChangeCollapsesToTIndexList(t *testing.T) {
	s := NewStore()
	s.SetStepSchedule([]int{7, 21})

	p := s.BuildChangedParams(changedSet("Stepschedule0step", "Stepschedule1step"))
	if got, ok := p["t_index_list"].([]int); !ok || !reflect.DeepEqual(got, []int{7, 21}) {
		t.Fatalf("unexpected t_index_list: %v", p["t_index_list"])
	}
	if len(p) != 1 {
		t.Fatalf("expected only t_index_list, got %v", p)
	}
}

func TestSanitizeReplacesDataURL(t *testing.T) {
	p := map[string]any{
		"prompt":                     "x",
		"ip_adapter_style_image_url": "data:image/jpeg;base64,AAAA",
	}
	out := Sanitize(p)

	if out["ip_adapter_style_image_url"] != "<data_url_omitted>" {
		t.Fatalf("data url not omitted: %v", out["ip_adapter_style_image_url"])
	}
	if out["has_style_image"] != true {
		t.Fatalf("has_style_image flag missing: %v", out)
	}
	// Original payload untouched.
	if p["ip_adapter_style_image_url"] == "<data_url_omitted>" {
		t.Fatal("sanitize mutated the original payload")
	}
}

func TestSanitizeKeepsPlainURL(t *testing.T) {
	out := Sanitize(map[string]any{"ip_adapter_style_image_url": "https://x/y.jpg"})
	if out["ip_adapter_style_image_url"] != "https://x/y.jpg" {
		t.Fatalf("plain url should pass through: %v", out)
	}
	if out["has_style_image"] != true {
		t.Fatalf("has_style_image flag missing: %v", out)
	}
}

func TestCapabilities(t *testing.T) {
	s := NewStore()
	caps := s.Capabilities()

	if caps["backend"] != "daydream" {
		t.Fatalf("unexpected backend: %v", caps["backend"])
	}
	if caps["version"] != "0.1.0" {
		t.Fatalf("unexpected version: %v", caps["version"])
	}
	cns, _ := caps["controlnets"].([]string)
	if !reflect.DeepEqual(cns, []string{"depth", "canny", "tile"}) {
		t.Fatalf("unexpected controlnets for sdxl-turbo: %v", cns)
	}
	ip, _ := caps["ip_adapter_types"].([]string)
	if !reflect.DeepEqual(ip, []string{"regular", "faceid"}) {
		t.Fatalf("unexpected ip adapter types: %v", ip)
	}
}

func TestIsHot(t *testing.T) {
	for _, name := range []string{"Prompt", "Depth", "Styleimage", "Stepschedule0step"} {
		if !IsHot(name) {
			t.Errorf("%s should be hot", name)
		}
	}
	for _, name := range []string{"Model", "Width", "Height", "Steps", "Noise", "Ipadaptertype"} {
		if IsHot(name) {
			t.Errorf("%s should be cold", name)
		}
	}
}
