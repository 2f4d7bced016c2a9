package assimilation

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vardalab/varda/internal/config"
	"github.com/vardalab/varda/internal/engines/common"
	"github.com/vardalab/varda/internal/logging"
	"github.com/vardalab/varda/pkg/varda"
)

// Window is one independent assimilation cycle
type Window struct {
	Name   string
	Inputs Inputs
}

// Runner runs independent windows with a shared configuration. Every window
// gets its own Pipeline; the latest result per window is kept for readers.
type Runner struct {
	cfg     *config.Config
	opts    []Option
	results *common.ResultCache[*Result]
}

// NewRunner returns a runner applying opts to every window pipeline
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	return &Runner{cfg: cfg, opts: opts, results: common.NewResultCache[*Result]()}
}

// Latest returns the last successful result of a window
func (r *Runner) Latest(window string) (*Result, bool) {
	return r.results.Get(window)
}

// Windows returns the names of windows with a cached result
func (r *Runner) Windows() []string {
	return r.results.Windows()
}

// RunWindows runs the windows with at most maxConcurrency pipelines at a time.
// Results are returned in window order and cached only when every window
// succeeds. The first failure cancels the remaining windows and is returned.
func (r *Runner) RunWindows(ctx context.Context, windows []Window, maxConcurrency int) ([]*Result, error) {
	if maxConcurrency < 1 {
		return nil, fmt.Errorf("%w: max concurrency %d must be at least 1", varda.ErrConfiguration, maxConcurrency)
	}
	seen := make(map[string]struct{}, len(windows))
	pipelines := make([]*Pipeline, len(windows))
	for i, w := range windows {
		if w.Name == "" {
			return nil, fmt.Errorf("%w: window %d has no name", varda.ErrConfiguration, i)
		}
		if _, dup := seen[w.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate window %q", varda.ErrConfiguration, w.Name)
		}
		seen[w.Name] = struct{}{}

		opts := append(append([]Option(nil), r.opts...), withOutputDir(filepath.Join(r.cfg.IntermediateFP(), w.Name)))
		p, err := NewPipeline(r.cfg, w.Inputs, opts...)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.Name, err)
		}
		pipelines[i] = p
	}

	logger := logging.FromContext(ctx)
	results := make([]*Result, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, p := range pipelines {
		name := windows[i].Name
		g.Go(func() error {
			wctx := logging.IntoContext(gctx, logger.WithValues("window", name))
			res, err := p.Run(wctx)
			if err != nil {
				return fmt.Errorf("window %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, res := range results {
		r.results.Set(windows[i].Name, res)
	}
	logger.V(logging.DEBUG).Info("Assimilation windows completed", "windows", len(windows), "maxConcurrency", maxConcurrency)
	return results, nil
}
