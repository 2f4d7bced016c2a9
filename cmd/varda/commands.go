package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vardalab/varda/internal/config"
	"github.com/vardalab/varda/internal/engines/assimilation"
	"github.com/vardalab/varda/internal/logging"
	"github.com/vardalab/varda/internal/metrics"
)

// newRootCmd builds the command tree. Every configuration key is a persistent
// flag; --config and --preset select the lower precedence layers.
func newRootCmd() *cobra.Command {
	src := &config.Source{}
	root := &cobra.Command{
		Use:   "varda",
		Short: "Variational data assimilation in a reduced space",
		Long: `varda corrects a background state with sparse observations by minimizing
a 3D-Var cost in a reduced space built from a history ensemble (truncated SVD)
or from a trained autoencoder, and reports the error against a control state.

Configuration precedence: flags > environment > --config file > --preset > defaults.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&src.File, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&src.Preset, "preset", "", "named preset applied over the defaults")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(src), newDemoCmd(src), newPresetsCmd())
	return root
}

// session is the resolved configuration and logger of one invocation
type session struct {
	cfg      *config.Config
	logger   logr.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder
}

func newSession(cmd *cobra.Command, src *config.Source) (*session, error) {
	cfg, err := config.Load(cmd.Flags(), *src)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.Verbosity(), cfg.Debug())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, err
	}
	logger.V(logging.DEBUG).Info("Configuration loaded", "file", src.File, "preset", src.Preset)
	return &session{cfg: cfg, logger: logger, registry: reg, recorder: rec}, nil
}

func (s *session) options() []assimilation.Option {
	return []assimilation.Option{
		assimilation.WithRecorder(s.recorder),
		assimilation.WithLogger(s.logger),
	}
}

// flushMetrics writes the run metrics when METRICS_OUT is set
func (s *session) flushMetrics() error {
	path := s.cfg.MetricsOut()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metrics.WriteText(f, s.registry); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printReport(w io.Writer, name string, res *assimilation.Result) {
	m := res.Metrics
	if name != "" {
		fmt.Fprintf(w, "WINDOW %s\n", name)
	}
	fmt.Fprintln(w, "RESULTS")
	fmt.Fprintf(w, "Reference MAE: %g\n", m.RefMAEMean)
	fmt.Fprintf(w, "DA MAE: %g\n", m.DAMAEMean)
	fmt.Fprintf(w, "ref_MAE_mean > da_MAE_mean for %d/%d\n", m.ImprovedCount, len(m.DAMAE))
	fmt.Fprintf(w, "Percentage improvement: %.2f%%\n", m.PercentImprovement)
	fmt.Fprintf(w, "Optimizer: %s after %d iterations, J(w0)=%g, J(w_opt)=%g\n",
		res.Diagnostics.Status, res.Diagnostics.Iterations,
		res.Diagnostics.InitialCost, res.Diagnostics.OptimalCost)
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}
