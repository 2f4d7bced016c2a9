package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vardalab/varda/internal/config"
	"github.com/vardalab/varda/internal/datasplit"
	"github.com/vardalab/varda/internal/engines/assimilation"
	"github.com/vardalab/varda/internal/snapshot"
)

func newRunCmd(src *config.Source) *cobra.Command {
	var windows int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Assimilate observations of a control snapshot from a snapshot matrix",
		Long: `Loads the snapshot matrix X_FP (.csv or gonum binary, one snapshot per row),
uses the first HIST_FRAC of it as history, snapshot T-TDA_IDX_FROM_END as control
state and observes it according to OBS_MODE.

With --windows k, k independent windows are assimilated with control offsets
TDA_IDX_FROM_END, TDA_IDX_FROM_END+1, ... using at most MAX_CONCURRENCY at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(cmd, src)
			if err != nil {
				return err
			}
			cfg := s.cfg
			x, err := snapshot.Load(cfg.XFP())
			if err != nil {
				return fmt.Errorf("failed to load snapshots: %w", err)
			}
			rows, cols := x.Dims()
			s.logger.Info("Loaded snapshots", "path", cfg.XFP(), "snapshots", rows, "stateSize", cols)

			if windows < 1 {
				return fmt.Errorf("--windows must be at least 1, got %d", windows)
			}
			batch := make([]assimilation.Window, 0, windows)
			for i := range windows {
				split, err := datasplit.New(x, datasplit.Options{
					HistFrac:      cfg.HistFrac(),
					TDAIdxFromEnd: cfg.TDAIdxFromEnd() + i,
					ObsMode:       cfg.ObsMode(),
					ObsFrac:       cfg.ObsFrac(),
					Seed:          cfg.Seed(),
				})
				if err != nil {
					return err
				}
				batch = append(batch, assimilation.Window{
					Name: fmt.Sprintf("tda-%d", cfg.TDAIdxFromEnd()+i),
					Inputs: assimilation.Inputs{
						History:    split.History,
						Background: split.Background,
						Truth:      split.Control,
						ObsIndices: split.ObsIndices,
						ObsValues:  split.ObsValues,
						Reference:  cfg.XFP(),
					},
				})
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if windows == 1 {
				p, err := assimilation.NewPipeline(cfg, batch[0].Inputs, s.options()...)
				if err != nil {
					return err
				}
				res, err := p.Run(ctx)
				if err != nil {
					return err
				}
				printReport(out, "", res)
				return s.flushMetrics()
			}

			results, err := assimilation.NewRunner(cfg, s.options()...).RunWindows(ctx, batch, cfg.MaxConcurrency())
			if err != nil {
				return err
			}
			for i, res := range results {
				printReport(out, batch[i].Name, res)
			}
			return s.flushMetrics()
		},
	}
	cmd.Flags().IntVar(&windows, "windows", 1, "number of assimilation windows")
	return cmd
}
