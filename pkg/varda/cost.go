package varda

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Observation is a fixed subset of observed state components with their error variance.
// It is immutable once built.
type Observation struct {
	indices  []int
	values   []float64
	variance []float64
}

// NewObservation builds an observation from indices into the state vector, the
// observed values and either one scalar variance or one variance per component.
func NewObservation(indices []int, values []float64, variance ...float64) (*Observation, error) {
	p := len(indices)
	if p == 0 {
		return nil, shapeErrorf("observation has no observed components")
	}
	if len(values) != p {
		return nil, shapeErrorf("observation has %d indices and %d values", p, len(values))
	}
	var vars []float64
	switch len(variance) {
	case 1:
		vars = make([]float64, p)
		for i := range vars {
			vars[i] = variance[0]
		}
	case p:
		vars = append([]float64(nil), variance...)
	default:
		return nil, shapeErrorf("observation has %d components and %d variances", p, len(variance))
	}
	for i, v := range vars {
		if !(v > 0) {
			return nil, degeneracyErrorf("observation variance %v at component %d must be positive", v, i)
		}
	}
	seen := make(map[int]struct{}, p)
	for _, idx := range indices {
		if idx < 0 {
			return nil, shapeErrorf("negative observation index %d", idx)
		}
		if _, dup := seen[idx]; dup {
			return nil, shapeErrorf("duplicate observation index %d", idx)
		}
		seen[idx] = struct{}{}
	}
	return &Observation{
		indices:  append([]int(nil), indices...),
		values:   append([]float64(nil), values...),
		variance: vars,
	}, nil
}

// Len returns the number of observed components
func (o *Observation) Len() int { return len(o.indices) }

// Indices returns a copy of the observed state indices
func (o *Observation) Indices() []int { return append([]int(nil), o.indices...) }

// Values returns a copy of the observed values
func (o *Observation) Values() []float64 { return append([]float64(nil), o.values...) }

// Variance returns a copy of the per-component observation error variance
func (o *Observation) Variance() []float64 { return append([]float64(nil), o.variance...) }

// Objective is a scalar function of the reduced coordinates with an optional gradient
type Objective interface {
	Dim() int
	Value(w []float64) (float64, error)
	Gradient(w []float64) ([]float64, error)
	HasGradient() bool
}

// CostFunctional evaluates
//
//	J(w) = α‖w‖² + Σ_k (H(u0+δ(w)) − y)_k² / (2σ_k²)
//
// and its gradient 2αw + Jac(w)ᵀ Hᵀ (H(u0+δ(w)) − y)/σ² over reduced coordinates.
type CostFunctional struct {
	u0       []float64
	obs      *Observation
	alpha    float64
	strategy ReductionStrategy

	// u0 restricted to the observed components
	observedBackground []float64
}

// NewCostFunctional binds the background, observation, regularization weight and reduction
func NewCostFunctional(u0 []float64, obs *Observation, alpha float64, strategy ReductionStrategy) (*CostFunctional, error) {
	if strategy == nil {
		return nil, configErrorf("cost functional requires a reduction strategy")
	}
	if obs == nil {
		return nil, configErrorf("cost functional requires an observation")
	}
	if alpha < 0 {
		return nil, configErrorf("regularization weight alpha=%v must be non-negative", alpha)
	}
	n, _ := strategy.Dims()
	if len(u0) != n {
		return nil, shapeErrorf("background has %d elements, reduction expects %d", len(u0), n)
	}
	observed := make([]float64, obs.Len())
	for k, idx := range obs.indices {
		if idx >= n {
			return nil, shapeErrorf("observation index %d outside state of size %d", idx, n)
		}
		observed[k] = u0[idx]
	}
	return &CostFunctional{
		u0:                 append([]float64(nil), u0...),
		obs:                obs,
		alpha:              alpha,
		strategy:           strategy,
		observedBackground: observed,
	}, nil
}

// Dim returns the number of reduced coordinates
func (c *CostFunctional) Dim() int {
	_, r := c.strategy.Dims()
	return r
}

// HasGradient reports whether the underlying reduction provides a sensitivity
func (c *CostFunctional) HasGradient() bool { return c.strategy.HasSensitivity() }

// Strategy returns the reduction the cost is evaluated through
func (c *CostFunctional) Strategy() ReductionStrategy { return c.strategy }

// Innovation returns the observation-space misfit H(u0+δ(w)) − y
func (c *CostFunctional) Innovation(w []float64) ([]float64, error) {
	delta, err := c.strategy.Reduce(w)
	if err != nil {
		return nil, err
	}
	d := make([]float64, c.obs.Len())
	for k, idx := range c.obs.indices {
		d[k] = c.observedBackground[k] + delta[idx] - c.obs.values[k]
	}
	return d, nil
}

// Value evaluates J(w)
func (c *CostFunctional) Value(w []float64) (float64, error) {
	if err := c.checkDim(w); err != nil {
		return 0, err
	}
	d, err := c.Innovation(w)
	if err != nil {
		return 0, err
	}
	var misfit float64
	for k, dk := range d {
		misfit += dk * dk / (2 * c.obs.variance[k])
	}
	return c.alpha*floats.Dot(w, w) + misfit, nil
}

// Gradient evaluates ∇J(w). It fails with ErrCapabilityGap when the reduction
// has no sensitivity, never returning an approximate gradient.
func (c *CostFunctional) Gradient(w []float64) ([]float64, error) {
	if !c.strategy.HasSensitivity() {
		return nil, capabilityErrorf("cost gradient unavailable for reduction %q", c.strategy.Name())
	}
	if err := c.checkDim(w); err != nil {
		return nil, err
	}
	d, err := c.Innovation(w)
	if err != nil {
		return nil, err
	}
	jac, err := c.strategy.Sensitivity(w)
	if err != nil {
		return nil, err
	}

	// Jacᵀ Hᵀ (d/σ²): accumulate the observed rows of the Jacobian only
	r := len(w)
	grad := make([]float64, r)
	row := make([]float64, r)
	for k, idx := range c.obs.indices {
		mat.Row(row, idx, jac)
		floats.AddScaled(grad, d[k]/c.obs.variance[k], row)
	}
	floats.AddScaled(grad, 2*c.alpha, w)
	return grad, nil
}

func (c *CostFunctional) checkDim(w []float64) error {
	if r := c.Dim(); len(w) != r {
		return shapeErrorf("reduced vector has %d elements, expected %d", len(w), r)
	}
	return nil
}
