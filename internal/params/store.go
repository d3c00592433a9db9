package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Store holds the current parameter values. Values are read by payload
// builders on the control loop and written by the HTTP parameter endpoint,
// so access is mutex-guarded.
type Store struct {
	mu       sync.RWMutex
	values   map[string]any
	schedule []int
}

// NewStore creates a Store populated with schema defaults and a single-entry
// step schedule.
func NewStore() *Store {
	s := &Store{values: make(map[string]any, len(Schema))}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	for name, spec := range Schema {
		s.values[name] = spec.Default
	}
	s.schedule = []int{11}
}

// Reset restores every parameter to its schema default.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Set validates and stores a parameter value. Returns an error for unknown
// names or values that fail the schema's type/range/menu rules.
func (s *Store) Set(name string, value any) error {
	spec, ok := Schema[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	coerced, err := coerce(spec, value)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", name, err)
	}

	s.mu.Lock()
	s.values[name] = coerced
	s.mu.Unlock()
	return nil
}

// SetStepSchedule replaces the step schedule. Negative entries are dropped.
func (s *Store) SetStepSchedule(steps []int) {
	filtered := make([]int, 0, len(steps))
	for _, v := range steps {
		if v >= 0 {
			filtered = append(filtered, v)
		}
	}

	s.mu.Lock()
	s.schedule = filtered
	s.mu.Unlock()
}

// TIndexList returns the ordered step schedule, defaulting to [11] when the
// schedule is empty.
func (s *Store) TIndexList() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.schedule) == 0 {
		return []int{11}
	}
	out := make([]int, len(s.schedule))
	copy(out, s.schedule)
	return out
}

func (s *Store) get(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[name]
}

func (s *Store) getString(name string) string {
	v, _ := s.get(name).(string)
	return v
}

func (s *Store) getInt(name string) int {
	switch v := s.get(name).(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (s *Store) getFloat(name string) float64 {
	switch v := s.get(name).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func (s *Store) getBool(name string) bool {
	v, _ := s.get(name).(bool)
	return v
}

// Model returns the requested model id.
func (s *Store) Model() string {
	return s.getString("Model")
}

// StyleImageSource returns the style image reference: "", an http(s) URL, or
// a data URL captured by the host.
func (s *Store) StyleImageSource() string {
	return s.getString("Styleimage")
}

// Values returns a copy of the current parameter values.
func (s *Store) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Capabilities reports what the currently selected model supports.
func (s *Store) Capabilities() map[string]any {
	model := s.Model()
	cns := make([]string, 0)
	for _, entry := range controlnetOrder {
		if _, ok := controlnetSupport[model][entry.Type]; ok {
			cns = append(cns, entry.Type)
		}
	}
	ipTypes := ipAdapterSupport[model]
	if ipTypes == nil {
		ipTypes = []string{}
	}
	return map[string]any{
		"backend":          "daydream",
		"version":          bridgeVersion,
		"model":            model,
		"supported_models": SupportedModels(),
		"controlnets":      cns,
		"ip_adapter_types": ipTypes,
	}
}

// buildControlnets assembles the controlnet sub-payload for the current
// model, or nil if the model supports none.
func (s *Store) buildControlnets() []map[string]any {
	support := controlnetSupport[s.Model()]
	if len(support) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(support))
	for _, entry := range controlnetOrder {
		cn, ok := support[entry.Type]
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"model_id":            cn.ModelID,
			"conditioning_scale":  s.getFloat(entry.Param),
			"preprocessor":        cn.Preprocessor,
			"preprocessor_params": map[string]any{},
			"enabled":             true,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Store) buildIPAdapter(hasStyleImage bool) map[string]any {
	return map[string]any{
		"type":    s.getString("Ipadaptertype"),
		"enabled": s.getBool("Ipadapter") && hasStyleImage,
		"scale":   s.getFloat("Ipadapterscale"),
	}
}

// BuildCreateParams builds the full parameter snapshot sent at stream
// creation, including the cold resolution/steps fields that PATCHes omit.
func (s *Store) BuildCreateParams() (string, map[string]any) {
	model := s.Model()
	p := map[string]any{
		"prompt":          s.getString("Prompt"),
		"negative_prompt": s.getString("Negprompt"),
		"guidance_scale":  s.getFloat("Guidance"),
		"delta":           s.getFloat("Delta"),
		"t_index_list":    s.TIndexList(),
		"do_add_noise":    s.getBool("Noise"),
	}
	if seed := s.getInt("Seed"); seed >= 0 {
		p["seed"] = seed
	}
	if cns := s.buildControlnets(); cns != nil {
		p["controlnets"] = cns
	}
	if len(ipAdapterSupport[model]) > 0 {
		style := s.StyleImageSource()
		p["ip_adapter"] = s.buildIPAdapter(style != "")
		if style != "" {
			p["ip_adapter_style_image_url"] = style
		}
	}
	p["width"] = atoiOr(s.getString("Width"), 512)
	p["height"] = atoiOr(s.getString("Height"), 512)
	p["num_inference_steps"] = s.getInt("Steps")
	return model, p
}

// BuildChangedParams builds a minimal diff payload from the changed parameter
// names. Step-schedule names collapse to one recomputed t_index_list; a
// change inside the controlnet or IP-adapter group rebuilds that group's
// whole sub-payload. Returns an empty map when nothing maps to a payload key
// (e.g. a controlnet change on a model with no controlnet support).
func (s *Store) BuildChangedParams(changed map[string]struct{}) map[string]any {
	p := map[string]any{}
	if _, ok := changed["Prompt"]; ok {
		p["prompt"] = s.getString("Prompt")
	}
	if _, ok := changed["Negprompt"]; ok {
		p["negative_prompt"] = s.getString("Negprompt")
	}
	if _, ok := changed["Seed"]; ok {
		if seed := s.getInt("Seed"); seed >= 0 {
			p["seed"] = seed
		}
	}
	if _, ok := changed["Guidance"]; ok {
		p["guidance_scale"] = s.getFloat("Guidance")
	}
	if _, ok := changed["Delta"]; ok {
		p["delta"] = s.getFloat("Delta")
	}
	if _, ok := changed["Noise"]; ok {
		p["do_add_noise"] = s.getBool("Noise")
	}
	for name := range changed {
		if isStepSchedule(name) {
			p["t_index_list"] = s.TIndexList()
			break
		}
	}
	if intersects(changed, controlnetParamSet) {
		if cns := s.buildControlnets(); cns != nil {
			p["controlnets"] = cns
		}
	}
	if intersects(changed, ipParamSet) && len(ipAdapterSupport[s.Model()]) > 0 {
		style := s.StyleImageSource()
		p["ip_adapter"] = s.buildIPAdapter(style != "")
		if style != "" {
			p["ip_adapter_style_image_url"] = style
		}
	}
	return p
}

// Sanitize returns a copy of a PATCH payload safe to log or emit: embedded
// style-image data URLs are replaced with a has_style_image flag.
func Sanitize(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	if v, ok := out["ip_adapter_style_image_url"].(string); ok {
		out["has_style_image"] = v != ""
		if strings.HasPrefix(v, "data:") {
			out["ip_adapter_style_image_url"] = "<data_url_omitted>"
		}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func coerce(spec Spec, value any) (any, error) {
	switch spec.Kind {
	case KindString:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return v, nil
	case KindBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return v, nil
	case KindInt:
		n, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if n < spec.Min || n > spec.Max {
			return nil, fmt.Errorf("value %v out of range [%v, %v]", n, spec.Min, spec.Max)
		}
		return int(n), nil
	case KindFloat:
		n, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if n < spec.Min || n > spec.Max {
			return nil, fmt.Errorf("value %v out of range [%v, %v]", n, spec.Min, spec.Max)
		}
		return n, nil
	case KindMenu:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		for _, m := range spec.Menu {
			if m == v {
				return v, nil
			}
		}
		return nil, fmt.Errorf("value %q not in menu %v", v, spec.Menu)
	}
	return nil, fmt.Errorf("unknown kind %d", spec.Kind)
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}
