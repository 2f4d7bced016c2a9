package varda

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// default fraction of singular-value energy retained by the automatic rule
const DefaultEnergyThreshold = 0.99

// CompressionMethod selects how the reduced space is built
type CompressionMethod string

const (
	CompressionSVD CompressionMethod = "SVD" // truncated SVD of the history ensemble
	CompressionAE  CompressionMethod = "AE"  // latent space of a trained autoencoder
)

// ParseCompressionMethod maps a configuration value to a compression method
func ParseCompressionMethod(s string) (CompressionMethod, error) {
	switch CompressionMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case CompressionSVD:
		return CompressionSVD, nil
	case CompressionAE:
		return CompressionAE, nil
	}
	return "", configErrorf("COMPRESSION_METHOD must be in {SVD, AE}, got %q", s)
}

// TruncationRule picks the number of retained modes from the singular values (decreasing order)
type TruncationRule interface {
	Name() string
	Modes(s []float64) int
}

// EnergyRule retains the smallest number of modes whose squared singular values
// reach Threshold of the total energy.
type EnergyRule struct {
	Threshold float64 // fraction in (0, 1]
}

func (EnergyRule) Name() string { return "energy" }

func (e EnergyRule) Modes(s []float64) int {
	if len(s) == 0 {
		return 0
	}
	threshold := e.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultEnergyThreshold
	}
	total := floats.Dot(s, s)
	if total == 0 {
		return 1
	}
	var cum float64
	for i, v := range s {
		cum += v * v
		if cum/total >= threshold {
			return i + 1
		}
	}
	return len(s)
}

// ConditionRule retains the singular values not smaller than sqrt(s_1),
// the truncation criterion of Arcucci et al.
type ConditionRule struct{}

func (ConditionRule) Name() string { return "condition" }

func (ConditionRule) Modes(s []float64) int {
	if len(s) == 0 {
		return 0
	}
	bound := math.Sqrt(s[0])
	r := 0
	for _, v := range s {
		if v >= bound {
			r++
		}
	}
	return max(r, 1)
}

// ParseTruncationRule maps a configuration value to a rule
func ParseTruncationRule(name string, energyThreshold float64) (TruncationRule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "energy":
		return EnergyRule{Threshold: energyThreshold}, nil
	case "condition":
		return ConditionRule{}, nil
	}
	return nil, configErrorf("unknown truncation rule %q", name)
}

// BasisOptions controls reduced basis construction
type BasisOptions struct {
	Modes      int            // number of retained modes (0 selects automatically)
	Rule       TruncationRule // automatic selection rule (nil means EnergyRule)
	Center     bool           // subtract the ensemble mean before decomposition
	Scale      bool           // scale deviations by 1/sqrt(M-1)
	StateShape []int          // optional multi-dimensional state shape, flattened to n
}

// DefaultBasisOptions mirrors the original pipeline: centred, scaled, automatic modes
func DefaultBasisOptions() BasisOptions {
	return BasisOptions{
		Rule:   EnergyRule{Threshold: DefaultEnergyThreshold},
		Center: true,
		Scale:  true,
	}
}

// Basis is a truncated SVD reduced basis of an ensemble.
// VTrunc = U·diag(S) so that a unit reduced coordinate carries one standard
// deviation of the ensemble along its mode.
type Basis struct {
	VTrunc *mat.Dense // reduced basis (n x r)
	U      *mat.Dense // left singular vectors (n x r)
	S      []float64  // retained singular values (r)
	W      *mat.Dense // right singular vectors, transposed (r x M)
	Mean   []float64  // ensemble mean (n), zeros when not centred
	Energy float64    // fraction of singular-value energy retained
	All    []float64  // all singular values, min(n, M)
}

// Dims returns the state dimension and number of retained modes
func (b *Basis) Dims() (n, r int) {
	return b.VTrunc.Dims()
}

// BuildBasis decomposes an ensemble of snapshots (M x n, one snapshot per row)
func BuildBasis(ensemble mat.Matrix, opts BasisOptions) (*Basis, error) {
	if ensemble == nil {
		return nil, shapeErrorf("nil ensemble")
	}
	m, n := ensemble.Dims()
	if err := opts.check(n, m); err != nil {
		return nil, err
	}

	// deviations matrix V (n x M)
	mean := make([]float64, n)
	if opts.Center {
		col := make([]float64, m)
		for j := range n {
			mat.Col(col, j, ensemble)
			mean[j] = stat.Mean(col, nil)
		}
	}
	v := mat.NewDense(n, m, nil)
	v.Apply(func(i, j int, _ float64) float64 {
		return ensemble.At(j, i) - mean[i]
	}, v)
	if opts.Scale && m > 1 {
		v.Scale(1/math.Sqrt(float64(m-1)), v)
	}

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDThin); !ok {
		return nil, degeneracyErrorf("SVD factorization of %dx%d ensemble failed", n, m)
	}
	s := svd.Values(nil)

	r := opts.Modes
	if r == 0 {
		rule := opts.Rule
		if rule == nil {
			rule = EnergyRule{Threshold: DefaultEnergyThreshold}
		}
		r = rule.Modes(s)
	}

	var u, right mat.Dense
	svd.UTo(&u)
	svd.VTo(&right)

	uTrunc := mat.DenseCopyOf(u.Slice(0, n, 0, r))
	wTrunc := mat.DenseCopyOf(right.Slice(0, m, 0, r).T())
	sTrunc := append([]float64(nil), s[:r]...)

	vTrunc := mat.NewDense(n, r, nil)
	vTrunc.Apply(func(i, j int, x float64) float64 {
		return x * sTrunc[j]
	}, uTrunc)

	return &Basis{
		VTrunc: vTrunc,
		U:      uTrunc,
		S:      sTrunc,
		W:      wTrunc,
		Mean:   mean,
		Energy: retainedEnergy(s, r),
		All:    s,
	}, nil
}

// InitialGuess computes w_0 = diag(1/s) Uᵀ (u_0 - mean), the reduced image of
// the truncated pseudo-inverse W S⁻¹ Uᵀ. Non-positive singular values are
// floored to one so the guess never contains NaN or Inf.
func (b *Basis) InitialGuess(u0 []float64) ([]float64, error) {
	n, r := b.Dims()
	if len(u0) != n {
		return nil, shapeErrorf("background has %d elements, basis expects %d", len(u0), n)
	}
	dev := make([]float64, n)
	floats.SubTo(dev, u0, b.Mean)

	w := mat.NewVecDense(r, nil)
	w.MulVec(b.U.T(), mat.NewVecDense(n, dev))
	for i := range r {
		s := b.S[i]
		if s <= 0 {
			s = 1
		}
		w.SetVec(i, w.AtVec(i)/s)
	}
	return w.RawVector().Data, nil
}

// EncoderInitialGuess computes w_0 = encoder(u_0) for the autoencoder path
func EncoderInitialGuess(enc Encoder, u0 []float64) ([]float64, error) {
	if enc == nil {
		return nil, capabilityErrorf("no encoder available for the initial guess")
	}
	w0, err := enc.Encode(u0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode background: %w", err)
	}
	return w0, nil
}

func retainedEnergy(s []float64, r int) float64 {
	total := floats.Dot(s, s)
	if total == 0 {
		return 1
	}
	return floats.Dot(s[:r], s[:r]) / total
}
