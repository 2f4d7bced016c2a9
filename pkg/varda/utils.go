package varda

import (
	"fmt"
	"math"
)

// check validity of basis options against an ensemble of m snapshots of size n
func (o *BasisOptions) check(n, m int) error {
	if n == 0 || m == 0 {
		return shapeErrorf("empty ensemble %dx%d", m, n)
	}
	if len(o.StateShape) > 0 {
		size := 1
		for _, d := range o.StateShape {
			if d <= 0 {
				return shapeErrorf("invalid state shape %v", o.StateShape)
			}
			size *= d
		}
		if size != n {
			return shapeErrorf("state shape %v flattens to %d, ensemble snapshots have %d elements", o.StateShape, size, n)
		}
	}
	if o.Modes < 0 {
		return configErrorf("invalid number of modes %d", o.Modes)
	}
	if bound := min(n, m); o.Modes > bound {
		return shapeErrorf("requested %d modes, at most min(n=%d, M=%d)=%d available", o.Modes, n, m, bound)
	}
	return nil
}

// check validity of optimizer settings
func (s *OptimizerSettings) check() error {
	if s.Tol <= 0 || math.IsNaN(s.Tol) {
		return configErrorf("invalid tolerance %v", s.Tol)
	}
	if s.MaxIterations < 0 || s.MaxFuncEvaluations < 0 || s.RuntimeLimit < 0 || s.Store < 0 {
		return configErrorf("invalid optimizer limits %s", s)
	}
	return nil
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

/*
 * toString() functions
 */

func (o BasisOptions) String() string {
	rule := "none"
	if o.Rule != nil {
		rule = o.Rule.Name()
	}
	return fmt.Sprintf("{modes=%d, rule=%s, center=%t, scale=%t, shape=%v}",
		o.Modes, rule, o.Center, o.Scale, o.StateShape)
}

func (b *Basis) String() string {
	n, r := b.Dims()
	return fmt.Sprintf("{n=%d, r=%d, energy=%.4f}", n, r, b.Energy)
}

func (s *OptimizerSettings) String() string {
	return fmt.Sprintf("{tol=%g, maxIter=%d, maxEval=%d, runtime=%v, store=%d}",
		s.Tol, s.MaxIterations, s.MaxFuncEvaluations, s.RuntimeLimit, s.Store)
}

func (o *Observation) String() string {
	return fmt.Sprintf("{count=%d, variance=%v}", len(o.indices), o.variance)
}

func (m *Metrics) String() string {
	return fmt.Sprintf("{refMAE=%.6f, daMAE=%.6f, improved=%d/%d, improvement=%.2f%%}",
		m.RefMAEMean, m.DAMAEMean, m.ImprovedCount, len(m.DAMAE), m.PercentImprovement)
}

func (d *Diagnostics) String() string {
	return fmt.Sprintf("{status=%s, iter=%d, evals=%d, J0=%.6g, Jopt=%.6g, warnings=%d}",
		d.Status, d.Iterations, d.FuncEvaluations, d.InitialCost, d.OptimalCost, len(d.Warnings))
}
