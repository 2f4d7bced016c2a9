package main

import (
	"github.com/spf13/cobra"

	"github.com/vardalab/varda/internal/config"
	"github.com/vardalab/varda/internal/engines/assimilation"
	"github.com/vardalab/varda/internal/synthetic"
)

// reduced modes of the demo when NUMBER_MODES selects automatically
const demoModes = 5

func newDemoCmd(src *config.Source) *cobra.Command {
	opts := synthetic.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Assimilate a seeded synthetic scenario",
		Long: `Generates a low-rank synthetic history ensemble, a noisy background and a
control state observed at a few random points, then runs the configured
assimilation on it. The scenario is fully determined by SEED.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(cmd, src)
			if err != nil {
				return err
			}
			cfg := s.cfg
			if cfg.NumberModes() == 0 {
				if cfg, err = cfg.WithOverrides(map[string]any{"NUMBER_MODES": demoModes}); err != nil {
					return err
				}
			}
			opts.Seed = cfg.Seed()
			sc, err := synthetic.Generate(opts)
			if err != nil {
				return err
			}
			s.logger.Info("Generated synthetic scenario",
				"stateSize", opts.StateDim, "ensemble", opts.Ensemble, "observations", opts.Observations, "seed", opts.Seed)

			p, err := assimilation.NewPipeline(cfg, assimilation.Inputs{
				History:    sc.Ensemble,
				Background: sc.Background,
				Truth:      sc.Truth,
				ObsIndices: sc.ObsIndices,
				ObsValues:  sc.ObsValues,
				Reference:  "synthetic",
			}, s.options()...)
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), "", res)
			return s.flushMetrics()
		},
	}
	cmd.Flags().IntVar(&opts.StateDim, "state-dim", opts.StateDim, "synthetic state size")
	cmd.Flags().IntVar(&opts.Ensemble, "ensemble", opts.Ensemble, "synthetic history ensemble size")
	cmd.Flags().IntVar(&opts.Observations, "observations", opts.Observations, "number of observed points")
	return cmd
}
