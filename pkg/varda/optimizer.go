package varda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/optimize"
)

// default optimizer parameters
const (
	DefaultTolerance     = 1e-3
	DefaultMaxIterations = 1000
	DefaultLBFGSStore    = 10
)

// OptimizerSettings bounds the quasi-Newton minimization
type OptimizerSettings struct {
	Tol                float64       // gradient threshold and relative cost convergence tolerance
	MaxIterations      int           // major iteration budget (0 means unlimited)
	MaxFuncEvaluations int           // cost evaluation budget (0 means unlimited)
	RuntimeLimit       time.Duration // wall-clock guard (0 disables)
	Store              int           // number of L-BFGS correction pairs
}

// DefaultOptimizerSettings mirrors the original tolerance of 1e-3
func DefaultOptimizerSettings() OptimizerSettings {
	return OptimizerSettings{
		Tol:           DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		Store:         DefaultLBFGSStore,
	}
}

// Diagnostics describes how the minimization ended
type Diagnostics struct {
	Status          string        // optimizer termination status
	Converged       bool          // tolerance met before any limit
	Iterations      int           // major iterations
	FuncEvaluations int           // cost evaluations
	GradEvaluations int           // gradient evaluations
	Runtime         time.Duration // wall-clock time spent
	InitialCost     float64       // J(w0)
	OptimalCost     float64       // J(wOpt)
	Warnings        []Warning     // non-fatal diagnostics
}

// OptimizationResult is the optimal reduced-space correction and how it was reached
type OptimizationResult struct {
	WOpt        []float64
	Diagnostics Diagnostics
}

// Minimize runs L-BFGS on the objective starting from w0. Only a missing or
// malformed gradient and objective evaluation failures are fatal; hitting a
// limit is reported as a ConvergenceWarning with the best iterate returned.
func Minimize(ctx context.Context, obj Objective, w0 []float64, settings OptimizerSettings) (*OptimizationResult, error) {
	if obj == nil {
		return nil, configErrorf("nil objective")
	}
	if err := settings.check(); err != nil {
		return nil, err
	}
	if len(w0) != obj.Dim() {
		return nil, shapeErrorf("initial guess has %d elements, objective expects %d", len(w0), obj.Dim())
	}
	if !allFinite(w0) {
		return nil, degeneracyErrorf("initial guess contains NaN or Inf")
	}
	if !obj.HasGradient() {
		return nil, capabilityErrorf("objective has no gradient; L-BFGS cannot run")
	}

	// fail fast on the gradient signature before any iteration
	f0, err := obj.Value(w0)
	if err != nil {
		return nil, err
	}
	g0, err := obj.Gradient(w0)
	if err != nil {
		return nil, err
	}
	if len(g0) != len(w0) {
		return nil, shapeErrorf("gradient has %d elements for %d reduced coordinates", len(g0), len(w0))
	}

	p := &problem{ctx: ctx, obj: obj, dim: len(w0)}
	store := settings.Store
	if store == 0 {
		store = DefaultLBFGSStore
	}
	method := &optimize.LBFGS{Store: store}
	res, optErr := optimize.Minimize(p.toGonum(), append([]float64(nil), w0...), &optimize.Settings{
		GradientThreshold: settings.Tol,
		Converger: &optimize.FunctionConverge{
			Relative:   settings.Tol,
			Iterations: 1,
		},
		MajorIterations: settings.MaxIterations,
		FuncEvaluations: settings.MaxFuncEvaluations,
		Runtime:         settings.RuntimeLimit,
	}, method)

	// errors raised by the objective itself are fatal
	if p.err != nil {
		return nil, p.err
	}

	diag := Diagnostics{InitialCost: f0}
	wOpt := append([]float64(nil), w0...)
	fOpt := f0
	if res != nil {
		diag.Status = res.Status.String()
		diag.Iterations = res.MajorIterations
		diag.FuncEvaluations = res.FuncEvaluations
		diag.GradEvaluations = res.GradEvaluations
		diag.Runtime = res.Runtime
		if res.X != nil && allFinite(res.X) && res.F <= f0 {
			wOpt = append([]float64(nil), res.X...)
			fOpt = res.F
		}
		diag.Converged = optErr == nil && converged(res.Status)
	}
	diag.OptimalCost = fOpt

	if !diag.Converged {
		msg := fmt.Sprintf("optimizer stopped with status %s after %d iterations", diag.Status, diag.Iterations)
		if optErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, optErr)
		}
		diag.Warnings = append(diag.Warnings, Warning{Kind: ConvergenceWarning, Message: msg})
	}
	if optErr != nil && res == nil {
		return nil, fmt.Errorf("optimizer failed: %w", optErr)
	}
	return &OptimizationResult{WOpt: wOpt, Diagnostics: diag}, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

// problem adapts an Objective to gonum's error-free callbacks; the first
// evaluation error is held and reported through Status to stop the run.
type problem struct {
	ctx context.Context
	obj Objective
	dim int
	err error
}

var errCancelled = errors.New("minimization cancelled")

func (p *problem) toGonum() optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			if p.err != nil {
				return 0
			}
			f, err := p.obj.Value(x)
			if err != nil {
				p.err = err
				return 0
			}
			return f
		},
		Grad: func(grad, x []float64) {
			if p.err != nil {
				return
			}
			g, err := p.obj.Gradient(x)
			if err != nil {
				p.err = err
				return
			}
			if len(g) != p.dim {
				p.err = shapeErrorf("gradient has %d elements for %d reduced coordinates", len(g), p.dim)
				return
			}
			copy(grad, g)
		},
		Status: func() (optimize.Status, error) {
			if p.err != nil {
				return optimize.Failure, p.err
			}
			if p.ctx != nil {
				if err := p.ctx.Err(); err != nil {
					p.err = fmt.Errorf("%w: %w", errCancelled, err)
					return optimize.Failure, p.err
				}
			}
			return optimize.NotTerminated, nil
		},
	}
}
