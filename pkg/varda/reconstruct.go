package varda

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics are pointwise and aggregate errors of the background and corrected
// states against the truth
type Metrics struct {
	RefMAE             []float64 // |u_0 - u_c|
	DAMAE              []float64 // |u_DA - u_c|
	RefMAEMean         float64   // mean of RefMAE
	DAMAEMean          float64   // mean of DAMAE
	ImprovedCount      int       // number of elements where RefMAE > DAMAE
	PercentImprovement float64   // 100 * (RefMAEMean - DAMAEMean) / RefMAEMean
}

// Reconstruct returns the corrected state u_DA = u_0 + δ(wOpt)
func Reconstruct(strategy ReductionStrategy, u0, wOpt []float64) ([]float64, error) {
	if strategy == nil {
		return nil, configErrorf("reconstruction requires a reduction strategy")
	}
	n, _ := strategy.Dims()
	if len(u0) != n {
		return nil, shapeErrorf("background has %d elements, reduction expects %d", len(u0), n)
	}
	delta, err := strategy.Reduce(wOpt)
	if err != nil {
		return nil, err
	}
	uDA := make([]float64, n)
	floats.AddTo(uDA, u0, delta)
	return uDA, nil
}

// ComputeMetrics computes the mean absolute errors of a state triple. A
// background identical to the truth is a numerical degeneracy.
func ComputeMetrics(t StateTriple) (*Metrics, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	n := len(t.Background)
	m := &Metrics{
		RefMAE: make([]float64, n),
		DAMAE:  make([]float64, n),
	}
	absDiff(m.RefMAE, t.Background, t.Truth)
	absDiff(m.DAMAE, t.Analysis, t.Truth)
	m.RefMAEMean = stat.Mean(m.RefMAE, nil)
	m.DAMAEMean = stat.Mean(m.DAMAE, nil)
	for i := range n {
		if m.RefMAE[i] > m.DAMAE[i] {
			m.ImprovedCount++
		}
	}
	if m.RefMAEMean == 0 {
		return nil, degeneracyErrorf("background equals the truth, percentage improvement is undefined")
	}
	m.PercentImprovement = 100 * (m.RefMAEMean - m.DAMAEMean) / m.RefMAEMean
	return m, nil
}

func absDiff(dst, a, b []float64) {
	floats.SubTo(dst, a, b)
	for i, v := range dst {
		if v < 0 {
			dst[i] = -v
		}
	}
}
