package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vardalab/varda/pkg/varda"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "varda.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, Source{})
	require.NoError(t, err)

	assert.Equal(t, uint64(42), cfg.Seed())
	assert.InDelta(t, 2.0/3.0, cfg.HistFrac(), 1e-12)
	assert.Equal(t, 2, cfg.TDAIdxFromEnd())
	assert.Equal(t, "rand", cfg.ObsMode())
	assert.Equal(t, 0.01, cfg.ObsFrac())
	assert.Equal(t, 1.0, cfg.Alpha())
	assert.Equal(t, 0.01, cfg.ObsVariance())
	assert.Equal(t, varda.CompressionSVD, cfg.CompressionMethod())
	assert.Equal(t, 0, cfg.NumberModes())
	assert.False(t, cfg.Normalize())
	assert.Equal(t, 1, cfg.MaxConcurrency())

	settings := cfg.OptimizerSettings()
	assert.Equal(t, 1e-3, settings.Tol)
	assert.Equal(t, 1000, settings.MaxIterations)

	opts, err := cfg.BasisOptions()
	require.NoError(t, err)
	assert.Equal(t, "energy", opts.Rule.Name())
	assert.True(t, opts.Center)
}

func TestLoad_Precedence(t *testing.T) {
	file := writeConfigFile(t, "ALPHA: 3\nOBS_MODE: single_max\n")

	// file over preset
	cfg, err := Load(nil, Source{File: file, Preset: "example"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.Alpha())
	assert.Equal(t, "single_max", cfg.ObsMode())

	// preset over defaults
	cfg, err = Load(nil, Source{Preset: "example"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Alpha())

	// env over file
	t.Setenv("ALPHA", "4")
	cfg, err = Load(nil, Source{File: file})
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.Alpha())

	// flags over env, but only when set
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	BindFlags(fs)
	cfg, err = Load(fs, Source{File: file})
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.Alpha())

	require.NoError(t, fs.Parse([]string{"--alpha=5", "--runtime-limit=30s", "--state-shape=2,3"}))
	cfg, err = Load(fs, Source{File: file})
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Alpha())
	assert.Equal(t, 30*time.Second, cfg.OptimizerSettings().RuntimeLimit)
	assert.Equal(t, []int{2, 3}, cfg.Values().StateShape)
}

func TestLoad_StateShapeSources(t *testing.T) {
	file := writeConfigFile(t, "STATE_SHAPE: [4, 5, 6]\n")
	cfg, err := Load(nil, Source{File: file})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, cfg.Values().StateShape)

	t.Setenv("STATE_SHAPE", "10,10,1")
	cfg, err = Load(nil, Source{File: file})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 1}, cfg.Values().StateShape)

	opts, err := cfg.BasisOptions()
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 1}, opts.StateShape)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(nil, Source{File: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Load(nil, Source{Preset: "nope"})
	assert.ErrorIs(t, err, varda.ErrConfiguration)

	t.Setenv("COMPRESSION_METHOD", "PCA")
	_, err = Load(nil, Source{})
	assert.ErrorIs(t, err, varda.ErrConfiguration)
}

func TestLoad_NormalizesCase(t *testing.T) {
	t.Setenv("COMPRESSION_METHOD", "ae")
	t.Setenv("AE_MODEL_FP", "model.yaml")
	t.Setenv("TRUNCATION_RULE", "Condition")
	cfg, err := Load(nil, Source{})
	require.NoError(t, err)
	assert.Equal(t, varda.CompressionAE, cfg.CompressionMethod())
	opts, err := cfg.BasisOptions()
	require.NoError(t, err)
	assert.Equal(t, "condition", opts.Rule.Name())
}
