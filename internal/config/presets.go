package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vardalab/varda/pkg/varda"
)

// presets are named overrides of the defaults
var presets = map[string]map[string]any{
	"default": {},
	"example": {
		"ALPHA": 2.0,
	},
	"ae": {
		"COMPRESSION_METHOD": "AE",
		"AE_MODEL_FP":        "models/ae_dim4.yaml",
		"NUMBER_MODES":       4,
	},
	"toy-ae": {
		"COMPRESSION_METHOD": "AE",
		"AE_MODEL_FP":        "models/ae_toy_32_128.yaml",
		"NUMBER_MODES":       32,
	},
}

// PresetNames returns the known preset names in sorted order
func PresetNames() []string {
	return slices.Sorted(maps.Keys(presets))
}

// PresetOverrides returns a copy of the overrides a preset applies to the defaults
func PresetOverrides(name string) (map[string]any, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown preset %q, expected one of %v", varda.ErrConfiguration, name, PresetNames())
	}
	return maps.Clone(p), nil
}

// Preset returns the validated defaults with a preset applied
func Preset(name string) (*Config, error) {
	overrides, err := PresetOverrides(name)
	if err != nil {
		return nil, err
	}
	base, err := New(Defaults())
	if err != nil {
		return nil, err
	}
	return base.WithOverrides(overrides)
}
