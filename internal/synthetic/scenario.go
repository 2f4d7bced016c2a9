package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Options describes a seeded low-rank assimilation scenario
type Options struct {
	StateDim      int     // n, state size
	Ensemble      int     // M, number of history snapshots
	Patterns      int     // number of smooth spatial patterns driving the ensemble
	Observations  int     // number of observed indices
	BackgroundStd float64 // std of the Gaussian noise added to the background
	EnsembleStd   float64 // std of the unstructured noise in each snapshot
	Seed          uint64  // random seed
}

// DefaultOptions is the reference scenario: n=100, M=20, five patterns, ten observations
func DefaultOptions() Options {
	return Options{
		StateDim:      100,
		Ensemble:      20,
		Patterns:      5,
		Observations:  10,
		BackgroundStd: 0.05,
		EnsembleStd:   0.01,
		Seed:          42,
	}
}

// Scenario holds every input of one assimilation cycle
type Scenario struct {
	Ensemble   *mat.Dense // history snapshots (M x n)
	Mean       []float64  // ensemble mean (n)
	Background []float64  // u_0: ensemble mean plus Gaussian noise
	Truth      []float64  // u_c: ensemble mean plus a fixed pattern perturbation
	ObsIndices []int      // sorted distinct observed indices
	ObsValues  []float64  // Truth at ObsIndices
}

// Generate builds a scenario. The same options always produce the same scenario.
//
// Snapshots are x_i = Σ_k a_ik φ_k + ε_i with φ_k(x) = sin(kπx) and a_ik drawn
// with standard deviation 1/k, so the leading singular vectors of the ensemble
// span the patterns.
func Generate(opts Options) (*Scenario, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	n, m, p := opts.StateDim, opts.Ensemble, opts.Patterns
	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)

	patterns := mat.NewDense(p, n, nil)
	patterns.Apply(func(k, i int, _ float64) float64 {
		x := (float64(i) + 0.5) / float64(n)
		return math.Sin(float64(k+1) * math.Pi * x)
	}, patterns)

	// amplitudes (M x p), pattern k scaled by 1/(k+1)
	amp := mat.NewDense(m, p, nil)
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	amp.Apply(func(_, k int, _ float64) float64 {
		return unit.Rand() / float64(k+1)
	}, amp)

	ensemble := mat.NewDense(m, n, nil)
	ensemble.Mul(amp, patterns)
	if opts.EnsembleStd > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: opts.EnsembleStd, Src: src}
		ensemble.Apply(func(_, _ int, v float64) float64 {
			return v + noise.Rand()
		}, ensemble)
	}

	mean := make([]float64, n)
	col := make([]float64, m)
	for j := range n {
		mat.Col(col, j, ensemble)
		mean[j] = stat.Mean(col, nil)
	}

	background := slices.Clone(mean)
	if opts.BackgroundStd > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: opts.BackgroundStd, Src: src}
		for i := range background {
			background[i] += noise.Rand()
		}
	}

	// truth perturbation with alternating signs, decaying like the ensemble spread
	truth := slices.Clone(mean)
	for k := range p {
		coeff := 1.5 / float64(k+1)
		if k%2 == 1 {
			coeff = -coeff
		}
		for i := range n {
			truth[i] += coeff * patterns.At(k, i)
		}
	}

	idx := make([]int, opts.Observations)
	sampleuv.WithoutReplacement(idx, n, src)
	slices.Sort(idx)
	values := make([]float64, len(idx))
	for k, i := range idx {
		values[k] = truth[i]
	}

	return &Scenario{
		Ensemble:   ensemble,
		Mean:       mean,
		Background: background,
		Truth:      truth,
		ObsIndices: idx,
		ObsValues:  values,
	}, nil
}

func (o Options) check() error {
	switch {
	case o.StateDim <= 0 || o.Ensemble <= 1:
		return fmt.Errorf("invalid scenario size n=%d, M=%d", o.StateDim, o.Ensemble)
	case o.Patterns <= 0 || o.Patterns > o.StateDim:
		return fmt.Errorf("invalid number of patterns %d", o.Patterns)
	case o.Observations <= 0 || o.Observations > o.StateDim:
		return fmt.Errorf("invalid number of observations %d", o.Observations)
	case o.BackgroundStd < 0 || o.EnsembleStd < 0:
		return fmt.Errorf("negative noise level")
	}
	return nil
}
