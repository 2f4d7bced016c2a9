package config

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagBindings maps viper keys (= env var names = YAML keys) to pflag names.
var flagBindings = map[string]string{
	"DATA_FP":              "data-fp",
	"INTERMEDIATE_FP":      "intermediate-fp",
	"X_FP":                 "x-fp",
	"SEED":                 "seed",
	"NORMALIZE":            "normalize",
	"UNDO_NORMALIZE":       "undo-normalize",
	"HIST_FRAC":            "hist-frac",
	"TDA_IDX_FROM_END":     "tda-idx-from-end",
	"OBS_MODE":             "obs-mode",
	"OBS_FRAC":             "obs-frac",
	"ALPHA":                "alpha",
	"OBS_VARIANCE":         "obs-variance",
	"COMPRESSION_METHOD":   "compression-method",
	"NUMBER_MODES":         "number-modes",
	"TRUNCATION_RULE":      "truncation-rule",
	"ENERGY_THRESHOLD":     "energy-threshold",
	"CENTER_ENSEMBLE":      "center-ensemble",
	"STATE_SHAPE":          "state-shape",
	"REDUCED_SPACE":        "reduced-space",
	"JAC_NOT_IMPLEM":       "jac-not-implem",
	"AE_MODEL_FP":          "ae-model-fp",
	"TOL":                  "tol",
	"MAX_ITERATIONS":       "max-iterations",
	"MAX_FUNC_EVALUATIONS": "max-func-evaluations",
	"RUNTIME_LIMIT":        "runtime-limit",
	"SAVE":                 "save",
	"DEBUG":                "debug",
	"V":                    "v",
	"METRICS_OUT":          "metrics-out",
	"MAX_CONCURRENCY":      "max-concurrency",
}

// Source selects the optional layers below environment variables and flags
type Source struct {
	File   string // YAML configuration file (optional)
	Preset string // named preset applied over the defaults (optional)
}

// BindFlags registers one flag per configuration key on fs
func BindFlags(fs *flag.FlagSet) {
	d := Defaults()
	fs.String("data-fp", d.DataFP, "directory holding the state snapshots")
	fs.String("intermediate-fp", d.IntermediateFP, "directory for intermediate and exported files")
	fs.String("x-fp", d.XFP, "snapshot matrix file (.csv or gonum binary)")
	fs.Uint64("seed", d.Seed, "random seed for observation selection")
	fs.Bool("normalize", d.Normalize, "normalize inputs with history statistics")
	fs.Bool("undo-normalize", d.UndoNormalize, "undo normalization before computing metrics")
	fs.Float64("hist-frac", d.HistFrac, "fraction of snapshots used as history")
	fs.Int("tda-idx-from-end", d.TDAIdxFromEnd, "offset of the control state from the final snapshot")
	fs.String("obs-mode", d.ObsMode, "observation mode: rand or single_max")
	fs.Float64("obs-frac", d.ObsFrac, "fraction of the state observed in rand mode")
	fs.Float64("alpha", d.Alpha, "background regularization weight")
	fs.Float64("obs-variance", d.ObsVariance, "observation error variance")
	fs.String("compression-method", d.CompressionMethod, "reduced space: SVD or AE")
	fs.Int("number-modes", d.NumberModes, "retained modes (0 selects automatically)")
	fs.String("truncation-rule", d.TruncationRule, "automatic mode selection: energy or condition")
	fs.Float64("energy-threshold", d.EnergyThreshold, "retained energy fraction for the energy rule")
	fs.Bool("center-ensemble", d.CenterEnsemble, "subtract the ensemble mean before the SVD")
	fs.IntSlice("state-shape", d.StateShape, "optional multi-dimensional state shape")
	fs.Bool("reduced-space", d.ReducedSpace, "run the autoencoder in reduced space (no gradient)")
	fs.Bool("jac-not-implem", d.JacNotImplem, "allow the slow numerical decoder Jacobian")
	fs.String("ae-model-fp", d.AEModelFP, "autoencoder weights file (YAML)")
	fs.Float64("tol", d.Tol, "minimization tolerance")
	fs.Int("max-iterations", d.MaxIterations, "maximum optimizer iterations (0 for unlimited)")
	fs.Int("max-func-evaluations", d.MaxFuncEvaluations, "maximum cost evaluations (0 for unlimited)")
	fs.Duration("runtime-limit", d.RuntimeLimit, "wall-clock limit of one minimization (0 disables)")
	fs.Bool("save", d.Save, "export ref_MAE and DA_MAE fields")
	fs.Bool("debug", d.Debug, "log sample values of every state")
	fs.Int("v", d.V, "log verbosity")
	fs.String("metrics-out", d.MetricsOut, "write Prometheus text metrics to this file")
	fs.Int("max-concurrency", d.MaxConcurrency, "maximum concurrent assimilation windows")
}

// Load loads and validates the configuration.
// Precedence: flags > env > file > preset > defaults
// Returns error if the configuration is invalid (fail-fast).
// flagSet may be nil (e.g. in tests that don't set CLI flags).
func Load(flagSet *flag.FlagSet, src Source) (*Config, error) {
	values, err := loadValues(flagSet, src)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := New(values)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadValues(flagSet *flag.FlagSet, src Source) (Values, error) {
	base := Defaults()
	if src.Preset != "" {
		preset, err := Preset(src.Preset)
		if err != nil {
			return Values{}, err
		}
		base = preset.Values()
	}
	v := newViper(base)

	if src.File != "" {
		v.SetConfigFile(src.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Values{}, fmt.Errorf("failed to read %s: %w", src.File, err)
		}
	}

	// Bind environment variables (precedence above file, below flags)
	v.AutomaticEnv()

	// Bind pflag flags (highest precedence for explicitly-set flags)
	if flagSet != nil {
		for viperKey, flagName := range flagBindings {
			if f := flagSet.Lookup(flagName); f != nil {
				_ = v.BindPFlag(viperKey, f)
			}
		}
	}
	return readValues(v)
}

// newViper returns a viper instance whose defaults are the given values
func newViper(d Values) *viper.Viper {
	v := viper.New()
	v.SetDefault("DATA_FP", d.DataFP)
	v.SetDefault("INTERMEDIATE_FP", d.IntermediateFP)
	v.SetDefault("X_FP", d.XFP)
	v.SetDefault("SEED", d.Seed)
	v.SetDefault("NORMALIZE", d.Normalize)
	v.SetDefault("UNDO_NORMALIZE", d.UndoNormalize)
	v.SetDefault("HIST_FRAC", d.HistFrac)
	v.SetDefault("TDA_IDX_FROM_END", d.TDAIdxFromEnd)
	v.SetDefault("OBS_MODE", d.ObsMode)
	v.SetDefault("OBS_FRAC", d.ObsFrac)
	v.SetDefault("ALPHA", d.Alpha)
	v.SetDefault("OBS_VARIANCE", d.ObsVariance)
	v.SetDefault("COMPRESSION_METHOD", d.CompressionMethod)
	v.SetDefault("NUMBER_MODES", d.NumberModes)
	v.SetDefault("TRUNCATION_RULE", d.TruncationRule)
	v.SetDefault("ENERGY_THRESHOLD", d.EnergyThreshold)
	v.SetDefault("CENTER_ENSEMBLE", d.CenterEnsemble)
	v.SetDefault("STATE_SHAPE", d.StateShape)
	v.SetDefault("REDUCED_SPACE", d.ReducedSpace)
	v.SetDefault("JAC_NOT_IMPLEM", d.JacNotImplem)
	v.SetDefault("AE_MODEL_FP", d.AEModelFP)
	v.SetDefault("TOL", d.Tol)
	v.SetDefault("MAX_ITERATIONS", d.MaxIterations)
	v.SetDefault("MAX_FUNC_EVALUATIONS", d.MaxFuncEvaluations)
	v.SetDefault("RUNTIME_LIMIT", d.RuntimeLimit)
	v.SetDefault("SAVE", d.Save)
	v.SetDefault("DEBUG", d.Debug)
	v.SetDefault("V", d.V)
	v.SetDefault("METRICS_OUT", d.MetricsOut)
	v.SetDefault("MAX_CONCURRENCY", d.MaxConcurrency)
	return v
}

// readValues reads resolved values out of viper
func readValues(v *viper.Viper) (Values, error) {
	shape, err := ParseIntList(v.Get("STATE_SHAPE"))
	if err != nil {
		return Values{}, fmt.Errorf("invalid STATE_SHAPE: %w", err)
	}
	return Values{
		DataFP:             v.GetString("DATA_FP"),
		IntermediateFP:     v.GetString("INTERMEDIATE_FP"),
		XFP:                v.GetString("X_FP"),
		Seed:               v.GetUint64("SEED"),
		Normalize:          v.GetBool("NORMALIZE"),
		UndoNormalize:      v.GetBool("UNDO_NORMALIZE"),
		HistFrac:           v.GetFloat64("HIST_FRAC"),
		TDAIdxFromEnd:      v.GetInt("TDA_IDX_FROM_END"),
		ObsMode:            strings.ToLower(v.GetString("OBS_MODE")),
		ObsFrac:            v.GetFloat64("OBS_FRAC"),
		Alpha:              v.GetFloat64("ALPHA"),
		ObsVariance:        v.GetFloat64("OBS_VARIANCE"),
		CompressionMethod:  v.GetString("COMPRESSION_METHOD"),
		NumberModes:        v.GetInt("NUMBER_MODES"),
		TruncationRule:     strings.ToLower(v.GetString("TRUNCATION_RULE")),
		EnergyThreshold:    v.GetFloat64("ENERGY_THRESHOLD"),
		CenterEnsemble:     v.GetBool("CENTER_ENSEMBLE"),
		StateShape:         shape,
		ReducedSpace:       v.GetBool("REDUCED_SPACE"),
		JacNotImplem:       v.GetBool("JAC_NOT_IMPLEM"),
		AEModelFP:          v.GetString("AE_MODEL_FP"),
		Tol:                v.GetFloat64("TOL"),
		MaxIterations:      v.GetInt("MAX_ITERATIONS"),
		MaxFuncEvaluations: v.GetInt("MAX_FUNC_EVALUATIONS"),
		RuntimeLimit:       v.GetDuration("RUNTIME_LIMIT"),
		Save:               v.GetBool("SAVE"),
		Debug:              v.GetBool("DEBUG"),
		V:                  v.GetInt("V"),
		MetricsOut:         v.GetString("METRICS_OUT"),
		MaxConcurrency:     v.GetInt("MAX_CONCURRENCY"),
	}, nil
}
