package varda

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Statistics are per-element normalization statistics of a state vector
type Statistics struct {
	Mean []float64 // per-element mean
	Std  []float64 // per-element standard deviation
}

// ComputeStatistics computes per-element mean and standard deviation over an
// ensemble (M x n, one snapshot per row)
func ComputeStatistics(ensemble mat.Matrix) (*Statistics, error) {
	if ensemble == nil {
		return nil, shapeErrorf("nil ensemble")
	}
	m, n := ensemble.Dims()
	if m == 0 || n == 0 {
		return nil, shapeErrorf("empty ensemble %dx%d", m, n)
	}
	stats := &Statistics{Mean: make([]float64, n), Std: make([]float64, n)}
	col := make([]float64, m)
	for j := range n {
		mat.Col(col, j, ensemble)
		if m == 1 {
			stats.Mean[j] = col[0]
			continue
		}
		stats.Mean[j], stats.Std[j] = stat.MeanStdDev(col, nil)
	}
	return stats, nil
}

// Dim returns the state dimension the statistics apply to
func (s *Statistics) Dim() int { return len(s.Mean) }

func (s *Statistics) check(n int) error {
	if len(s.Mean) != len(s.Std) {
		return shapeErrorf("normalization mean has %d elements and std %d", len(s.Mean), len(s.Std))
	}
	if len(s.Mean) != n {
		return shapeErrorf("normalization statistics have %d elements, state has %d", len(s.Mean), n)
	}
	return nil
}

// Normalize returns (x - mean) / std. A non-positive std is a degeneracy.
func (s *Statistics) Normalize(x []float64) ([]float64, error) {
	if err := s.check(len(x)); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, v := range x {
		if !(s.Std[i] > 0) {
			return nil, degeneracyErrorf("normalization std %v at element %d must be positive", s.Std[i], i)
		}
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out, nil
}

// NormalizeEnsemble normalizes every snapshot row of an ensemble
func (s *Statistics) NormalizeEnsemble(ensemble mat.Matrix) (*mat.Dense, error) {
	m, n := ensemble.Dims()
	out := mat.NewDense(m, n, nil)
	row := make([]float64, n)
	for i := range m {
		mat.Row(row, i, ensemble)
		z, err := s.Normalize(row)
		if err != nil {
			return nil, err
		}
		out.SetRow(i, z)
	}
	return out, nil
}

// Denormalize returns x * std + mean
func (s *Statistics) Denormalize(x []float64) ([]float64, error) {
	if err := s.check(len(x)); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v*s.Std[i] + s.Mean[i]
	}
	return out, nil
}

// StateTriple holds the background, truth and corrected states of one cycle
type StateTriple struct {
	Background []float64 // u_0
	Truth      []float64 // u_c
	Analysis   []float64 // u_DA
}

func (t StateTriple) check() error {
	n := len(t.Background)
	if n == 0 {
		return shapeErrorf("empty background state")
	}
	if len(t.Truth) != n || len(t.Analysis) != n {
		return shapeErrorf("state sizes differ: background=%d truth=%d analysis=%d",
			n, len(t.Truth), len(t.Analysis))
	}
	return nil
}

// Denormalize undoes normalization on all three states in one step. Either a
// new fully denormalized triple is returned or an error with the receiver untouched.
func (t StateTriple) Denormalize(stats *Statistics) (StateTriple, error) {
	if err := t.check(); err != nil {
		return StateTriple{}, err
	}
	if stats == nil {
		return StateTriple{}, configErrorf("denormalization requested without statistics")
	}
	if err := stats.check(len(t.Background)); err != nil {
		return StateTriple{}, err
	}
	// sizes are validated above, so none of these can fail part way
	bg, _ := stats.Denormalize(t.Background)
	truth, _ := stats.Denormalize(t.Truth)
	analysis, _ := stats.Denormalize(t.Analysis)
	return StateTriple{Background: bg, Truth: truth, Analysis: analysis}, nil
}
