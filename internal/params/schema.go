// Package params owns the generation parameter schema, the current parameter
// values, and the coalescer that turns rapid edits into debounced PATCHes.
package params

import "strings"

// bridgeVersion is reported in the capabilities snapshot.
const bridgeVersion = "0.1.0"

// Kind is the value type of a parameter.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindMenu
)

// Spec describes one watched parameter. Hot parameters may be patched onto a
// live stream; cold ones only apply at stream creation.
type Spec struct {
	Name    string
	Kind    Kind
	Default any
	Menu    []string
	Min     float64
	Max     float64
	Hot     bool
}

// Schema is the fixed table of watched parameters. The step schedule is
// handled separately (see Store.SetStepSchedule).
var Schema = map[string]Spec{
	"Model": {Name: "Model", Kind: KindMenu, Default: "stabilityai/sdxl-turbo",
		Menu: []string{"stabilityai/sdxl-turbo", "stabilityai/sd-turbo", "Lykon/dreamshaper-8", "prompthero/openjourney-v4"}},
	"Prompt":    {Name: "Prompt", Kind: KindString, Default: "strawberry", Hot: true},
	"Negprompt": {Name: "Negprompt", Kind: KindString, Default: "blurry, low quality, flat, 2d", Hot: true},
	"Seed":      {Name: "Seed", Kind: KindInt, Default: 42, Min: -1, Max: 1 << 31, Hot: true},
	"Noise":     {Name: "Noise", Kind: KindBool, Default: true},
	"Guidance":  {Name: "Guidance", Kind: KindFloat, Default: 1.0, Min: 0.1, Max: 20.0, Hot: true},
	"Delta":     {Name: "Delta", Kind: KindFloat, Default: 0.7, Min: 0.0, Max: 1.0, Hot: true},
	"Steps":     {Name: "Steps", Kind: KindInt, Default: 50, Min: 1, Max: 100},
	"Width": {Name: "Width", Kind: KindMenu, Default: "512",
		Menu: []string{"512", "448", "384", "320", "256", "192", "128", "64"}},
	"Height": {Name: "Height", Kind: KindMenu, Default: "512",
		Menu: []string{"512", "448", "384", "320", "256", "192", "128", "64"}},
	"Depth":          {Name: "Depth", Kind: KindFloat, Default: 0.45, Min: 0, Max: 1, Hot: true},
	"Canny":          {Name: "Canny", Kind: KindFloat, Default: 0.0, Min: 0, Max: 1, Hot: true},
	"Tile":           {Name: "Tile", Kind: KindFloat, Default: 0.21, Min: 0, Max: 1, Hot: true},
	"Hed":            {Name: "Hed", Kind: KindFloat, Default: 0.0, Min: 0, Max: 1, Hot: true},
	"Openpose":       {Name: "Openpose", Kind: KindFloat, Default: 0.0, Min: 0, Max: 1, Hot: true},
	"Color":          {Name: "Color", Kind: KindFloat, Default: 0.0, Min: 0, Max: 1, Hot: true},
	"Ipadapter":      {Name: "Ipadapter", Kind: KindBool, Default: true, Hot: true},
	"Ipadapterscale": {Name: "Ipadapterscale", Kind: KindFloat, Default: 0.5, Min: 0, Max: 1, Hot: true},
	"Ipadaptertype":  {Name: "Ipadaptertype", Kind: KindMenu, Default: "regular", Menu: []string{"regular", "faceid"}},
	"Styleimage":     {Name: "Styleimage", Kind: KindString, Default: "", Hot: true},
}

type controlnet struct {
	ModelID      string
	Preprocessor string
}

// controlnetSupport maps remote model id -> controlnet type -> controlnet
// model and preprocessor. Order of application is fixed by controlnetOrder.
var controlnetSupport = map[string]map[string]controlnet{
	"stabilityai/sdxl-turbo": {
		"depth": {"xinsir/controlnet-depth-sdxl-1.0", "depth_tensorrt"},
		"canny": {"xinsir/controlnet-canny-sdxl-1.0", "canny"},
		"tile":  {"xinsir/controlnet-tile-sdxl-1.0", "feedback"},
	},
	"stabilityai/sd-turbo": {
		"depth":    {"thibaud/controlnet-sd21-depth-diffusers", "depth_tensorrt"},
		"canny":    {"thibaud/controlnet-sd21-canny-diffusers", "canny"},
		"hed":      {"thibaud/controlnet-sd21-hed-diffusers", "hed"},
		"openpose": {"thibaud/controlnet-sd21-openpose-diffusers", "openpose"},
		"color":    {"thibaud/controlnet-sd21-color-diffusers", "passthrough"},
	},
	"Lykon/dreamshaper-8": {
		"depth": {"lllyasviel/control_v11f1p_sd15_depth", "depth_tensorrt"},
		"canny": {"lllyasviel/control_v11p_sd15_canny", "canny"},
		"tile":  {"lllyasviel/control_v11f1e_sd15_tile", "feedback"},
	},
	"prompthero/openjourney-v4": {
		"depth": {"lllyasviel/control_v11f1p_sd15_depth", "depth_tensorrt"},
		"canny": {"lllyasviel/control_v11p_sd15_canny", "canny"},
		"tile":  {"lllyasviel/control_v11f1e_sd15_tile", "feedback"},
	},
}

var controlnetOrder = []struct {
	Type  string
	Param string
}{
	{"depth", "Depth"},
	{"canny", "Canny"},
	{"tile", "Tile"},
	{"hed", "Hed"},
	{"openpose", "Openpose"},
	{"color", "Color"},
}

// ipAdapterSupport maps remote model id to the IP-adapter variants it accepts.
var ipAdapterSupport = map[string][]string{
	"stabilityai/sdxl-turbo":    {"regular", "faceid"},
	"stabilityai/sd-turbo":      {},
	"Lykon/dreamshaper-8":       {"regular"},
	"prompthero/openjourney-v4": {"regular"},
}

// controlnetParamSet and ipParamSet are the interdependent parameter groups:
// a change to any member rebuilds the group's whole sub-payload.
var controlnetParamSet = map[string]struct{}{
	"Depth": {}, "Canny": {}, "Tile": {}, "Hed": {}, "Openpose": {}, "Color": {},
}

var ipParamSet = map[string]struct{}{
	"Ipadapter": {}, "Ipadapterscale": {}, "Styleimage": {}, "Ipadaptertype": {},
}

// SupportedModels lists the model ids the bridge knows how to drive.
func SupportedModels() []string {
	return []string{
		"stabilityai/sdxl-turbo",
		"stabilityai/sd-turbo",
		"Lykon/dreamshaper-8",
		"prompthero/openjourney-v4",
	}
}

// IsHot reports whether a changed-parameter name may be patched onto a live
// stream. Step-schedule entries are always hot.
func IsHot(name string) bool {
	if isStepSchedule(name) {
		return true
	}
	spec, ok := Schema[name]
	return ok && spec.Hot
}

func isStepSchedule(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "stepschedule")
}
