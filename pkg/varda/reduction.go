package varda

import (
	"fmt"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Encoder maps a full state to reduced coordinates
type Encoder interface {
	Encode(state []float64) ([]float64, error)
}

// Decoder maps reduced coordinates to a full-space correction
type Decoder interface {
	Decode(w []float64) ([]float64, error)
}

// Autoencoder is a pre-trained encoder/decoder pair supplied by a model loader
type Autoencoder interface {
	Encoder
	Decoder
	// Dims returns the state and latent dimensions
	Dims() (n, r int)
}

// JacobianProvider is implemented by models exposing an explicit decoder Jacobian (n x r)
type JacobianProvider interface {
	Jacobian(w []float64) (*mat.Dense, error)
}

// ReductionStrategy maps reduced coordinates to full-space corrections.
// The cost functional depends on this interface only.
type ReductionStrategy interface {
	// Name returns the strategy identifier for logging/metrics.
	Name() string
	// Dims returns the state dimension n and reduced dimension r.
	Dims() (n, r int)
	// Reduce returns the full-space correction δ(w).
	Reduce(w []float64) ([]float64, error)
	// Sensitivity returns the local Jacobian of δ at w (n x r).
	Sensitivity(w []float64) (*mat.Dense, error)
	// HasSensitivity reports whether Sensitivity is available.
	HasSensitivity() bool
}

// LinearBasis is the SVD reduction δ(w) = V·w
type LinearBasis struct {
	v *mat.Dense
}

// NewLinearBasis wraps a reduced basis matrix (n x r)
func NewLinearBasis(v *mat.Dense) (*LinearBasis, error) {
	if v == nil || v.IsEmpty() {
		return nil, shapeErrorf("empty reduced basis")
	}
	return &LinearBasis{v: v}, nil
}

func (l *LinearBasis) Name() string { return "linear-basis" }

func (l *LinearBasis) Dims() (n, r int) { return l.v.Dims() }

func (l *LinearBasis) Reduce(w []float64) ([]float64, error) {
	n, r := l.v.Dims()
	if len(w) != r {
		return nil, shapeErrorf("reduced vector has %d elements, basis has %d modes", len(w), r)
	}
	out := mat.NewVecDense(n, nil)
	out.MulVec(l.v, mat.NewVecDense(r, w))
	return out.RawVector().Data, nil
}

// Sensitivity of a linear reduction is the basis itself, independent of w
func (l *LinearBasis) Sensitivity(w []float64) (*mat.Dense, error) {
	if _, r := l.v.Dims(); len(w) != r {
		return nil, shapeErrorf("reduced vector has %d elements, basis has %d modes", len(w), r)
	}
	return l.v, nil
}

func (l *LinearBasis) HasSensitivity() bool { return true }

// LearnedDecoder is the autoencoder reduction δ(w) = decoder(w).
// Its sensitivity is fixed at construction: analytic when the model provides a
// Jacobian, finite differences when explicitly allowed.
type LearnedDecoder struct {
	model     Autoencoder
	jacobian  func(w []float64) (*mat.Dense, error)
	numerical bool
}

// DecoderOptions controls LearnedDecoder construction
type DecoderOptions struct {
	AllowNumericalJacobian bool    // fall back to finite differences when no explicit Jacobian exists
	Step                   float64 // finite-difference step (0 uses the fd default)
}

// NewLearnedDecoder selects the decoder sensitivity. The returned warnings are
// non-empty when the slow numerical Jacobian was selected.
func NewLearnedDecoder(model Autoencoder, opts DecoderOptions) (*LearnedDecoder, []Warning, error) {
	if model == nil {
		return nil, nil, configErrorf("autoencoder compression requires a model")
	}
	d := &LearnedDecoder{model: model}
	if jp, ok := model.(JacobianProvider); ok {
		d.jacobian = jp.Jacobian
		return d, nil, nil
	}
	if !opts.AllowNumericalJacobian {
		return nil, nil, capabilityErrorf("model %T does not provide an explicit Jacobian", model)
	}
	d.numerical = true
	d.jacobian = func(w []float64) (*mat.Dense, error) {
		return numericalJacobian(model, w, opts.Step)
	}
	n, r := model.Dims()
	warn := Warning{
		Kind: PerformanceWarning,
		Message: fmt.Sprintf("using finite-difference decoder Jacobian: %d decoder evaluations of size %d per gradient",
			2*r, n),
	}
	return d, []Warning{warn}, nil
}

func (d *LearnedDecoder) Name() string {
	if d.numerical {
		return "learned-decoder-fd"
	}
	return "learned-decoder"
}

func (d *LearnedDecoder) Dims() (n, r int) { return d.model.Dims() }

func (d *LearnedDecoder) Reduce(w []float64) ([]float64, error) {
	return decode(d.model, w)
}

func (d *LearnedDecoder) Sensitivity(w []float64) (*mat.Dense, error) {
	n, r := d.model.Dims()
	if len(w) != r {
		return nil, shapeErrorf("reduced vector has %d elements, decoder expects %d", len(w), r)
	}
	jac, err := d.jacobian(w)
	if err != nil {
		return nil, err
	}
	if jr, jc := jac.Dims(); jr != n || jc != r {
		return nil, shapeErrorf("decoder Jacobian is %dx%d, expected %dx%d", jr, jc, n, r)
	}
	return jac, nil
}

func (d *LearnedDecoder) HasSensitivity() bool { return true }

// Numerical reports whether the finite-difference Jacobian is in use
func (d *LearnedDecoder) Numerical() bool { return d.numerical }

// ReducedSpaceDecoder is the autoencoder variant working directly in latent space.
// Its gradient is not implemented: Sensitivity always fails with ErrCapabilityGap.
type ReducedSpaceDecoder struct {
	model Autoencoder
	// encoded history ensemble (r x M), kept for diagnostics
	LatentEnsemble *mat.Dense
}

// NewReducedSpaceDecoder encodes the history ensemble (M x n) into latent space
func NewReducedSpaceDecoder(model Autoencoder, history mat.Matrix) (*ReducedSpaceDecoder, error) {
	if model == nil {
		return nil, configErrorf("autoencoder compression requires a model")
	}
	d := &ReducedSpaceDecoder{model: model}
	if history == nil {
		return d, nil
	}
	m, n := history.Dims()
	mn, r := model.Dims()
	if n != mn {
		return nil, shapeErrorf("history snapshots have %d elements, model expects %d", n, mn)
	}
	latent := mat.NewDense(r, m, nil)
	row := make([]float64, n)
	for j := range m {
		mat.Row(row, j, history)
		z, err := model.Encode(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode snapshot %d: %w", j, err)
		}
		if len(z) != r {
			return nil, shapeErrorf("encoder returned %d elements, expected %d", len(z), r)
		}
		latent.SetCol(j, z)
	}
	d.LatentEnsemble = latent
	return d, nil
}

func (d *ReducedSpaceDecoder) Name() string { return "reduced-space-decoder" }

func (d *ReducedSpaceDecoder) Dims() (n, r int) { return d.model.Dims() }

func (d *ReducedSpaceDecoder) Reduce(w []float64) ([]float64, error) {
	return decode(d.model, w)
}

func (d *ReducedSpaceDecoder) Sensitivity([]float64) (*mat.Dense, error) {
	return nil, capabilityErrorf("gradient is not implemented for the reduced-space autoencoder")
}

func (d *ReducedSpaceDecoder) HasSensitivity() bool { return false }

func decode(model Autoencoder, w []float64) ([]float64, error) {
	n, r := model.Dims()
	if len(w) != r {
		return nil, shapeErrorf("reduced vector has %d elements, decoder expects %d", len(w), r)
	}
	out, err := model.Decode(w)
	if err != nil {
		return nil, fmt.Errorf("decoder failed: %w", err)
	}
	if len(out) != n {
		return nil, shapeErrorf("decoder returned %d elements, expected %d", len(out), n)
	}
	return out, nil
}

// numericalJacobian approximates the decoder Jacobian with central differences.
// Evaluations run sequentially so results are reproducible.
func numericalJacobian(model Autoencoder, w []float64, step float64) (*mat.Dense, error) {
	n, r := model.Dims()
	var evalErr error
	f := func(y, x []float64) {
		if evalErr != nil {
			return
		}
		out, err := decode(model, x)
		if err != nil {
			evalErr = err
			return
		}
		copy(y, out)
	}
	jac := mat.NewDense(n, r, nil)
	fd.Jacobian(jac, f, w, &fd.JacobianSettings{
		Formula: fd.Central,
		Step:    step,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return jac, nil
}
