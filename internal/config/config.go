package config

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vardalab/varda/pkg/varda"
)

// Values is the flat set of resolved configuration options.
// YAML keys match the viper keys and the environment variable names.
type Values struct {
	// filepaths
	DataFP         string `yaml:"DATA_FP"`
	IntermediateFP string `yaml:"INTERMEDIATE_FP" validate:"required_if=Save true"`
	XFP            string `yaml:"X_FP"`

	Seed          uint64 `yaml:"SEED"`
	Normalize     bool   `yaml:"NORMALIZE"`
	UndoNormalize bool   `yaml:"UNDO_NORMALIZE"`

	// history / observation / control split
	HistFrac      float64 `yaml:"HIST_FRAC" validate:"gt=0,lt=1"`
	TDAIdxFromEnd int     `yaml:"TDA_IDX_FROM_END" validate:"gte=1"`
	ObsMode       string  `yaml:"OBS_MODE" validate:"oneof=rand single_max"`
	ObsFrac       float64 `yaml:"OBS_FRAC" validate:"gt=0,lte=1"`

	// VarDA hyperparameters
	Alpha       float64 `yaml:"ALPHA" validate:"gte=0"`
	ObsVariance float64 `yaml:"OBS_VARIANCE" validate:"gt=0"`

	// reduced space
	CompressionMethod string  `yaml:"COMPRESSION_METHOD"`
	NumberModes       int     `yaml:"NUMBER_MODES" validate:"gte=0"`
	TruncationRule    string  `yaml:"TRUNCATION_RULE" validate:"oneof=energy condition"`
	EnergyThreshold   float64 `yaml:"ENERGY_THRESHOLD" validate:"gt=0,lte=1"`
	CenterEnsemble    bool    `yaml:"CENTER_ENSEMBLE"`
	StateShape        []int   `yaml:"STATE_SHAPE" validate:"omitempty,dive,gt=0"`
	ReducedSpace      bool    `yaml:"REDUCED_SPACE"`
	JacNotImplem      bool    `yaml:"JAC_NOT_IMPLEM"`
	AEModelFP         string  `yaml:"AE_MODEL_FP"`

	// minimization
	Tol                float64       `yaml:"TOL" validate:"gt=0"`
	MaxIterations      int           `yaml:"MAX_ITERATIONS" validate:"gte=0"`
	MaxFuncEvaluations int           `yaml:"MAX_FUNC_EVALUATIONS" validate:"gte=0"`
	RuntimeLimit       time.Duration `yaml:"RUNTIME_LIMIT" validate:"gte=0s"`

	// output
	Save           bool   `yaml:"SAVE"`
	Debug          bool   `yaml:"DEBUG"`
	V              int    `yaml:"V" validate:"gte=0"`
	MetricsOut     string `yaml:"METRICS_OUT"`
	MaxConcurrency int    `yaml:"MAX_CONCURRENCY" validate:"gte=1"`
}

// Defaults returns the baseline configuration
func Defaults() Values {
	return Values{
		DataFP:            "data/small3DLSBU/",
		IntermediateFP:    "data/small3D_intermediate/",
		XFP:               "data/small3D_intermediate/X_small3D_Tracer.csv",
		Seed:              42,
		HistFrac:          2.0 / 3.0,
		TDAIdxFromEnd:     2,
		ObsMode:           "rand",
		ObsFrac:           0.01,
		Alpha:             1.0,
		ObsVariance:       0.01,
		CompressionMethod: string(varda.CompressionSVD),
		TruncationRule:    "energy",
		EnergyThreshold:   varda.DefaultEnergyThreshold,
		CenterEnsemble:    true,
		Tol:               varda.DefaultTolerance,
		MaxIterations:     varda.DefaultMaxIterations,
		MaxConcurrency:    1,
	}
}

// Config is the validated, immutable configuration of an assimilation run.
// Derive variants with WithOverrides.
type Config struct {
	values Values
}

// New validates values and wraps them in a Config
func New(values Values) (*Config, error) {
	values.StateShape = slices.Clone(values.StateShape)
	if err := Validate(&values); err != nil {
		return nil, err
	}
	return &Config{values: values}, nil
}

// WithOverrides returns a new validated Config with the given keys replaced.
// Keys are the option names (e.g. "ALPHA"); the receiver is not modified.
func (c *Config) WithOverrides(overrides map[string]any) (*Config, error) {
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		if _, ok := flagBindings[key]; !ok {
			return nil, fmt.Errorf("%w: unknown configuration key %q", varda.ErrConfiguration, key)
		}
	}
	v := newViper(c.values)
	for key, val := range overrides {
		v.Set(key, val)
	}
	values, err := readValues(v)
	if err != nil {
		return nil, err
	}
	return New(values)
}

// Values returns a copy of the resolved options
func (c *Config) Values() Values {
	out := c.values
	out.StateShape = slices.Clone(c.values.StateShape)
	return out
}

func (c *Config) DataFP() string         { return c.values.DataFP }
func (c *Config) IntermediateFP() string { return c.values.IntermediateFP }
func (c *Config) XFP() string            { return c.values.XFP }
func (c *Config) Seed() uint64           { return c.values.Seed }
func (c *Config) Normalize() bool        { return c.values.Normalize }
func (c *Config) UndoNormalize() bool    { return c.values.UndoNormalize }
func (c *Config) HistFrac() float64      { return c.values.HistFrac }
func (c *Config) TDAIdxFromEnd() int     { return c.values.TDAIdxFromEnd }
func (c *Config) ObsMode() string        { return c.values.ObsMode }
func (c *Config) ObsFrac() float64       { return c.values.ObsFrac }
func (c *Config) Alpha() float64         { return c.values.Alpha }
func (c *Config) ObsVariance() float64   { return c.values.ObsVariance }
func (c *Config) NumberModes() int       { return c.values.NumberModes }
func (c *Config) ReducedSpace() bool     { return c.values.ReducedSpace }
func (c *Config) JacNotImplem() bool     { return c.values.JacNotImplem }
func (c *Config) AEModelFP() string      { return c.values.AEModelFP }
func (c *Config) Save() bool             { return c.values.Save }
func (c *Config) Debug() bool            { return c.values.Debug }
func (c *Config) Verbosity() int         { return c.values.V }
func (c *Config) MetricsOut() string     { return c.values.MetricsOut }
func (c *Config) MaxConcurrency() int    { return c.values.MaxConcurrency }

// CompressionMethod returns the validated compression method
func (c *Config) CompressionMethod() varda.CompressionMethod {
	return varda.CompressionMethod(c.values.CompressionMethod)
}

// BasisOptions translates the reduced space options
func (c *Config) BasisOptions() (varda.BasisOptions, error) {
	rule, err := varda.ParseTruncationRule(c.values.TruncationRule, c.values.EnergyThreshold)
	if err != nil {
		return varda.BasisOptions{}, err
	}
	return varda.BasisOptions{
		Modes:      c.values.NumberModes,
		Rule:       rule,
		Center:     c.values.CenterEnsemble,
		Scale:      true,
		StateShape: slices.Clone(c.values.StateShape),
	}, nil
}

// OptimizerSettings translates the minimization options
func (c *Config) OptimizerSettings() varda.OptimizerSettings {
	settings := varda.DefaultOptimizerSettings()
	settings.Tol = c.values.Tol
	settings.MaxIterations = c.values.MaxIterations
	settings.MaxFuncEvaluations = c.values.MaxFuncEvaluations
	settings.RuntimeLimit = c.values.RuntimeLimit
	return settings
}

// DecoderOptions translates the autoencoder Jacobian options
func (c *Config) DecoderOptions() varda.DecoderOptions {
	return varda.DecoderOptions{AllowNumericalJacobian: c.values.JacNotImplem}
}
