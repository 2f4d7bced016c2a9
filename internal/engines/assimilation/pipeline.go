/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package assimilation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/vardalab/varda/internal/config"
	"github.com/vardalab/varda/internal/constants"
	"github.com/vardalab/varda/internal/export"
	"github.com/vardalab/varda/internal/logging"
	"github.com/vardalab/varda/internal/metrics"
	"github.com/vardalab/varda/pkg/autoencoder"
	"github.com/vardalab/varda/pkg/varda"
)

// exported field names
const (
	RefMAEField = "ref_MAE"
	DAMAEField  = "DA_MAE"
)

// number of trailing values logged per state in debug mode
const debugTail = 4

var ErrAlreadyRun = errors.New("pipeline has already run")

// Inputs are the data of one assimilation cycle
type Inputs struct {
	History    *mat.Dense // history ensemble, one snapshot per row (M x n)
	Background []float64  // u_0
	Truth      []float64  // u_c, the control state metrics are computed against
	ObsIndices []int
	ObsValues  []float64
	Reference  string // sample file recorded in exported fields (optional)
}

// Result is the outcome of a completed run. Callers must treat it as read-only.
type Result struct {
	RunID       uuid.UUID
	Method      string            // reduction strategy name
	Stage       Stage             // StageReconstructed for a completed run
	Outcome     Stage             // StageConverged or StageMaxIter
	WOpt        []float64         // optimal reduced coordinates
	UDA         []float64         // corrected state, in the units metrics were computed in
	States      varda.StateTriple // background, truth and corrected state the metrics refer to
	Metrics     *varda.Metrics
	Diagnostics varda.Diagnostics
	Warnings    []varda.Warning // construction and optimizer warnings
	Duration    time.Duration
}

// Status returns the metrics status label of the run
func (r *Result) Status() string {
	if r.Outcome == StageConverged {
		return constants.StatusConverged
	}
	return constants.StatusMaxIter
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithRecorder records every run on rec
func WithRecorder(rec *metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = rec }
}

// WithSink exports the error fields through sink when saving is enabled
func WithSink(sink export.FieldSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithModel supplies the autoencoder instead of loading AE_MODEL_FP
func WithModel(model varda.Autoencoder) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithLogger sets the logger; by default the logger in the Run context is used
func WithLogger(logger logr.Logger) Option {
	return func(p *Pipeline) { p.logger = &logger }
}

// withOutputDir overrides the export directory (per-window runs)
func withOutputDir(dir string) Option {
	return func(p *Pipeline) { p.outDir = dir }
}

// Pipeline runs one assimilation cycle. Stages only move forward and a
// pipeline runs at most once.
type Pipeline struct {
	cfg      *config.Config
	in       Inputs
	obs      *varda.Observation
	model    varda.Autoencoder
	strategy varda.ReductionStrategy
	warnings []varda.Warning

	recorder *metrics.Recorder
	sink     export.FieldSink
	logger   *logr.Logger
	outDir   string

	stage Stage
}

// NewPipeline validates the configuration and the inputs and selects the
// reduction. Configuration, shape and capability errors surface here, before
// any optimization.
func NewPipeline(cfg *config.Config, in Inputs, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", varda.ErrConfiguration)
	}
	p := &Pipeline{cfg: cfg, in: copyInputs(in), outDir: cfg.IntermediateFP(), stage: StageInitialized}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.checkInputs(); err != nil {
		return nil, err
	}

	obs, err := varda.NewObservation(p.in.ObsIndices, p.in.ObsValues, cfg.ObsVariance())
	if err != nil {
		return nil, err
	}
	p.obs = obs

	if cfg.CompressionMethod() == varda.CompressionAE {
		if err := p.selectDecoder(); err != nil {
			return nil, err
		}
	}
	if cfg.Save() && p.sink == nil {
		p.sink = export.NewYAMLFieldWriter(p.in.Reference)
	}
	return p, nil
}

// Stage returns the current stage
func (p *Pipeline) Stage() Stage { return p.stage }

// Run executes the cycle: build the reduced space, minimize the cost,
// reconstruct the corrected state and compute metrics.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.stage != StageInitialized {
		return nil, fmt.Errorf("%w (stage %s)", ErrAlreadyRun, p.stage)
	}
	start := time.Now()
	runID := uuid.New()
	logger := logging.FromContext(ctx)
	if p.logger != nil {
		logger = *p.logger
	}
	method := string(p.cfg.CompressionMethod())
	logger = logger.WithValues("runID", runID.String(), "method", method)
	ctx = logging.IntoContext(ctx, logger)

	res, err := p.run(ctx, runID)
	if err != nil {
		p.stage = StageFailed
		logger.Error(err, "Assimilation failed")
		p.recorder.Observe(metrics.RunSample{
			Method:   method,
			Status:   constants.StatusFailed,
			Duration: time.Since(start),
		})
		return nil, err
	}
	res.Duration = time.Since(start)
	p.recorder.Observe(metrics.RunSample{
		Method:      method,
		Status:      res.Status(),
		RefMAEMean:  res.Metrics.RefMAEMean,
		DAMAEMean:   res.Metrics.DAMAEMean,
		Iterations:  res.Diagnostics.Iterations,
		InitialCost: res.Diagnostics.InitialCost,
		OptimalCost: res.Diagnostics.OptimalCost,
		Duration:    res.Duration,
	})
	logger.Info("Assimilation completed",
		"strategy", res.Method,
		"status", res.Status(),
		"refMAE", res.Metrics.RefMAEMean,
		"daMAE", res.Metrics.DAMAEMean,
		"improved", res.Metrics.ImprovedCount,
		"percentImprovement", res.Metrics.PercentImprovement,
		"duration", res.Duration)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, runID uuid.UUID) (*Result, error) {
	logger := logging.FromContext(ctx)
	cfg := p.cfg

	history := p.in.History
	u0, truth, obs := p.in.Background, p.in.Truth, p.obs
	var stats *varda.Statistics
	if cfg.Normalize() {
		var err error
		stats, err = varda.ComputeStatistics(history)
		if err != nil {
			return nil, err
		}
		if history, u0, truth, obs, err = p.normalize(stats); err != nil {
			return nil, err
		}
		logger.V(logging.DEBUG).Info("Normalized inputs with history statistics")
	}

	strategy, w0, err := p.buildReduction(logger, history, u0)
	if err != nil {
		return nil, err
	}
	p.advance(logger, StageBasisBuilt)

	cost, err := varda.NewCostFunctional(u0, obs, cfg.Alpha(), strategy)
	if err != nil {
		return nil, err
	}
	p.advance(logger, StageOptimizing)
	opt, err := varda.Minimize(ctx, cost, w0, cfg.OptimizerSettings())
	if err != nil {
		return nil, err
	}
	outcome := StageMaxIter
	if opt.Diagnostics.Converged {
		outcome = StageConverged
	}
	p.advance(logger, outcome)
	warnings := append(slices.Clone(p.warnings), opt.Diagnostics.Warnings...)
	for _, w := range opt.Diagnostics.Warnings {
		logger.Info("Optimizer warning", "kind", w.Kind, "message", w.Message)
	}
	logger.V(logging.DEBUG).Info("Minimization finished",
		"status", opt.Diagnostics.Status,
		"iterations", opt.Diagnostics.Iterations,
		"initialCost", opt.Diagnostics.InitialCost,
		"optimalCost", opt.Diagnostics.OptimalCost)

	uDA, err := varda.Reconstruct(strategy, u0, opt.WOpt)
	if err != nil {
		return nil, err
	}
	states := varda.StateTriple{Background: u0, Truth: truth, Analysis: uDA}
	if cfg.UndoNormalize() {
		if states, err = states.Denormalize(stats); err != nil {
			return nil, err
		}
	} else if cfg.Normalize() {
		logger.Info("Normalization not undone, metrics are in normalized units")
	}
	m, err := varda.ComputeMetrics(states)
	if err != nil {
		return nil, err
	}
	p.advance(logger, StageReconstructed)

	if cfg.Debug() {
		p.logDebugSample(logger, stats, states, m)
	}
	if cfg.Save() {
		if err := p.save(m); err != nil {
			return nil, err
		}
	}

	return &Result{
		RunID:       runID,
		Method:      strategy.Name(),
		Stage:       p.stage,
		Outcome:     outcome,
		WOpt:        opt.WOpt,
		UDA:         states.Analysis,
		States:      states,
		Metrics:     m,
		Diagnostics: opt.Diagnostics,
		Warnings:    warnings,
	}, nil
}

// buildReduction returns the reduction strategy and the initial guess w0
func (p *Pipeline) buildReduction(logger logr.Logger, history *mat.Dense, u0 []float64) (varda.ReductionStrategy, []float64, error) {
	switch p.cfg.CompressionMethod() {
	case varda.CompressionSVD:
		opts, err := p.cfg.BasisOptions()
		if err != nil {
			return nil, nil, err
		}
		basis, err := varda.BuildBasis(history, opts)
		if err != nil {
			return nil, nil, err
		}
		logger.V(logging.DEBUG).Info("Built reduced basis", "basis", basis.String(), "options", opts.String())
		strategy, err := varda.NewLinearBasis(basis.VTrunc)
		if err != nil {
			return nil, nil, err
		}
		w0, err := basis.InitialGuess(u0)
		if err != nil {
			return nil, nil, err
		}
		return strategy, w0, nil

	case varda.CompressionAE:
		w0, err := varda.EncoderInitialGuess(p.model, u0)
		if err != nil {
			return nil, nil, err
		}
		return p.strategy, w0, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown compression method %q", varda.ErrConfiguration, p.cfg.CompressionMethod())
}

// selectDecoder resolves the autoencoder and its gradient capability
func (p *Pipeline) selectDecoder() error {
	// L-BFGS needs the gradient, which reduced-space minimization does not have
	if p.cfg.ReducedSpace() {
		return fmt.Errorf("%w: REDUCED_SPACE minimization has no gradient", varda.ErrCapabilityGap)
	}
	if p.model == nil {
		if p.cfg.AEModelFP() == "" {
			return fmt.Errorf("%w: AE compression requires AE_MODEL_FP or a model", varda.ErrConfiguration)
		}
		model, err := autoencoder.LoadYAML(p.cfg.AEModelFP())
		if err != nil {
			return fmt.Errorf("%w: %w", varda.ErrConfiguration, err)
		}
		p.model = model
	}
	n, r := p.model.Dims()
	if n != len(p.in.Background) {
		return fmt.Errorf("%w: model state size %d, inputs have %d", varda.ErrShape, n, len(p.in.Background))
	}
	if modes := p.cfg.NumberModes(); modes > 0 && modes != r {
		return fmt.Errorf("%w: NUMBER_MODES=%d does not match the model latent size %d",
			varda.ErrConfiguration, modes, r)
	}
	decoder, warnings, err := varda.NewLearnedDecoder(p.model, p.cfg.DecoderOptions())
	if err != nil {
		return err
	}
	p.strategy = decoder
	p.warnings = append(p.warnings, warnings...)
	return nil
}

// normalize returns normalized copies of the history, the states and the observation
func (p *Pipeline) normalize(stats *varda.Statistics) (*mat.Dense, []float64, []float64, *varda.Observation, error) {
	history, err := stats.NormalizeEnsemble(p.in.History)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	u0, err := stats.Normalize(p.in.Background)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	truth, err := stats.Normalize(p.in.Truth)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	values := make([]float64, len(p.in.ObsValues))
	for k, idx := range p.in.ObsIndices {
		values[k] = (p.in.ObsValues[k] - stats.Mean[idx]) / stats.Std[idx]
	}
	obs, err := varda.NewObservation(p.in.ObsIndices, values, p.cfg.ObsVariance())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return history, u0, truth, obs, nil
}

func (p *Pipeline) save(m *varda.Metrics) error {
	if p.sink == nil {
		return nil
	}
	if err := p.sink.WriteField(RefMAEField, m.RefMAE, filepath.Join(p.outDir, RefMAEField+".yaml")); err != nil {
		return err
	}
	return p.sink.WriteField(DAMAEField, m.DAMAE, filepath.Join(p.outDir, DAMAEField+".yaml"))
}

func (p *Pipeline) advance(logger logr.Logger, next Stage) {
	logger.V(logging.TRACE).Info("Stage transition", "from", p.stage.String(), "to", next.String())
	p.stage = next
}

func (p *Pipeline) logDebugSample(logger logr.Logger, stats *varda.Statistics, states varda.StateTriple, m *varda.Metrics) {
	kv := []any{
		"u0", tail(states.Background),
		"uc", tail(states.Truth),
		"uDA", tail(states.Analysis),
		"refMAE", tail(m.RefMAE),
		"daMAE", tail(m.DAMAE),
	}
	if stats != nil {
		kv = append(kv, "std", tail(stats.Std), "mean", tail(stats.Mean))
	}
	logger.Info("Debug sample of the trailing state values", kv...)
}

func (p *Pipeline) checkInputs() error {
	in := p.in
	if in.History == nil || in.History.IsEmpty() {
		return fmt.Errorf("%w: empty history ensemble", varda.ErrShape)
	}
	_, n := in.History.Dims()
	if len(in.Background) != n || len(in.Truth) != n {
		return fmt.Errorf("%w: history snapshots have %d elements, background %d, truth %d",
			varda.ErrShape, n, len(in.Background), len(in.Truth))
	}
	if shape := p.cfg.Values().StateShape; len(shape) > 0 {
		size := 1
		for _, d := range shape {
			size *= d
		}
		if size != n {
			return fmt.Errorf("%w: STATE_SHAPE %v flattens to %d, snapshots have %d elements", varda.ErrShape, shape, size, n)
		}
	}
	for _, idx := range in.ObsIndices {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: observation index %d outside state of size %d", varda.ErrShape, idx, n)
		}
	}
	return nil
}

func copyInputs(in Inputs) Inputs {
	out := in
	if in.History != nil && !in.History.IsEmpty() {
		out.History = mat.DenseCopyOf(in.History)
	}
	out.Background = slices.Clone(in.Background)
	out.Truth = slices.Clone(in.Truth)
	out.ObsIndices = slices.Clone(in.ObsIndices)
	out.ObsValues = slices.Clone(in.ObsValues)
	return out
}

func tail(x []float64) []float64 {
	return slices.Clone(x[max(0, len(x)-debugTail):])
}
