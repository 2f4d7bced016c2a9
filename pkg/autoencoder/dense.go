package autoencoder

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// hidden layer activation functions
const (
	ActivationTanh   = "tanh"
	ActivationLinear = "linear"
)

// Dense is a pre-trained fully connected autoencoder:
//
//	encode(x) = E·x + c
//	decode(w) = W2·act(W1·w + b1) + b2
type Dense struct {
	activation string
	enc        *mat.Dense // encoder weights (r x n)
	encBias    []float64  // encoder bias (r)
	w1         *mat.Dense // decoder hidden weights (h x r)
	b1         []float64  // decoder hidden bias (h)
	w2         *mat.Dense // decoder output weights (n x h)
	b2         []float64  // decoder output bias (n)
}

// Layer is the serialized form of one affine layer
type Layer struct {
	Weights [][]float64 `yaml:"weights"`
	Bias    []float64   `yaml:"bias"`
}

// Spec is the serialized form of a Dense autoencoder
type Spec struct {
	Activation string `yaml:"activation"`
	Encoder    Layer  `yaml:"encoder"`
	Hidden     Layer  `yaml:"hidden"`
	Output     Layer  `yaml:"output"`
}

// New builds a Dense autoencoder from its serialized spec
func New(spec *Spec) (*Dense, error) {
	if spec == nil {
		return nil, fmt.Errorf("nil autoencoder spec")
	}
	act := spec.Activation
	if act == "" {
		act = ActivationTanh
	}
	if act != ActivationTanh && act != ActivationLinear {
		return nil, fmt.Errorf("unknown activation %q", act)
	}
	enc, encBias, err := spec.Encoder.build("encoder")
	if err != nil {
		return nil, err
	}
	w1, b1, err := spec.Hidden.build("hidden")
	if err != nil {
		return nil, err
	}
	w2, b2, err := spec.Output.build("output")
	if err != nil {
		return nil, err
	}

	r, n := enc.Dims()
	h, hr := w1.Dims()
	on, oh := w2.Dims()
	if hr != r || oh != h || on != n {
		return nil, fmt.Errorf("inconsistent layer sizes: encoder %dx%d, hidden %dx%d, output %dx%d",
			r, n, h, hr, on, oh)
	}
	return &Dense{
		activation: act,
		enc:        enc,
		encBias:    encBias,
		w1:         w1,
		b1:         b1,
		w2:         w2,
		b2:         b2,
	}, nil
}

// LoadYAML reads a Dense autoencoder from a YAML weights file
func LoadYAML(path string) (*Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	return New(&spec)
}

// FromBasis builds a linear autoencoder spanning the columns of a basis (n x r):
// the decoder is V·w and the encoder its least-squares inverse.
func FromBasis(v mat.Matrix) (*Dense, error) {
	n, r := v.Dims()
	var pinv mat.Dense
	var qr mat.QR
	qr.Factorize(mat.DenseCopyOf(v))
	// least-squares solution of V·E = I is E = V⁺ (r x n)
	if err := qr.SolveTo(&pinv, false, mat.NewDiagDense(n, ones(n))); err != nil {
		return nil, fmt.Errorf("basis is rank deficient: %w", err)
	}
	return &Dense{
		activation: ActivationLinear,
		enc:        mat.DenseCopyOf(&pinv),
		encBias:    make([]float64, r),
		w1:         mat.DenseCopyOf(mat.NewDiagDense(r, ones(r))),
		b1:         make([]float64, r),
		w2:         mat.DenseCopyOf(v),
		b2:         make([]float64, n),
	}, nil
}

// Dims returns the state and latent dimensions
func (d *Dense) Dims() (n, r int) {
	r, n = d.enc.Dims()
	return n, r
}

// Encode maps a state to latent coordinates
func (d *Dense) Encode(x []float64) ([]float64, error) {
	n, r := d.Dims()
	if len(x) != n {
		return nil, fmt.Errorf("state has %d elements, encoder expects %d", len(x), n)
	}
	z := mat.NewVecDense(r, nil)
	z.MulVec(d.enc, mat.NewVecDense(n, x))
	z.AddVec(z, mat.NewVecDense(r, d.encBias))
	return z.RawVector().Data, nil
}

// Decode maps latent coordinates to a state
func (d *Dense) Decode(w []float64) ([]float64, error) {
	hidden, err := d.hidden(w)
	if err != nil {
		return nil, err
	}
	for i, v := range hidden {
		hidden[i] = d.activate(v)
	}
	n, _ := d.Dims()
	h := len(hidden)
	out := mat.NewVecDense(n, nil)
	out.MulVec(d.w2, mat.NewVecDense(h, hidden))
	out.AddVec(out, mat.NewVecDense(n, d.b2))
	return out.RawVector().Data, nil
}

// Jacobian returns the decoder Jacobian W2·diag(act'(W1·w + b1))·W1 (n x r)
func (d *Dense) Jacobian(w []float64) (*mat.Dense, error) {
	pre, err := d.hidden(w)
	if err != nil {
		return nil, err
	}
	h, r := d.w1.Dims()
	scaled := mat.NewDense(h, r, nil)
	scaled.Apply(func(i, j int, v float64) float64 {
		return v * d.derivative(pre[i])
	}, d.w1)
	n, _ := d.Dims()
	jac := mat.NewDense(n, r, nil)
	jac.Mul(d.w2, scaled)
	return jac, nil
}

// hidden returns the hidden layer pre-activation W1·w + b1
func (d *Dense) hidden(w []float64) ([]float64, error) {
	h, r := d.w1.Dims()
	if len(w) != r {
		return nil, fmt.Errorf("latent vector has %d elements, decoder expects %d", len(w), r)
	}
	z := mat.NewVecDense(h, nil)
	z.MulVec(d.w1, mat.NewVecDense(r, w))
	z.AddVec(z, mat.NewVecDense(h, d.b1))
	return z.RawVector().Data, nil
}

func (d *Dense) activate(x float64) float64 {
	if d.activation == ActivationLinear {
		return x
	}
	return math.Tanh(x)
}

func (d *Dense) derivative(x float64) float64 {
	if d.activation == ActivationLinear {
		return 1
	}
	t := math.Tanh(x)
	return 1 - t*t
}

func (d *Dense) String() string {
	n, r := d.Dims()
	h, _ := d.w1.Dims()
	return fmt.Sprintf("{n=%d, r=%d, hidden=%d, activation=%s}", n, r, h, d.activation)
}

// Model is an autoencoder without any differentiation capability
type Model interface {
	Encode(x []float64) ([]float64, error)
	Decode(w []float64) ([]float64, error)
	Dims() (n, r int)
}

// opaque hides the explicit Jacobian of a model
type opaque struct {
	model *Dense
}

// WithoutJacobian exposes only the encoder and decoder of a model, so callers
// relying on an explicit Jacobian must fall back to numerical differentiation.
func WithoutJacobian(model *Dense) Model {
	return &opaque{model: model}
}

func (o *opaque) Encode(x []float64) ([]float64, error) { return o.model.Encode(x) }
func (o *opaque) Decode(w []float64) ([]float64, error) { return o.model.Decode(w) }
func (o *opaque) Dims() (n, r int)                      { return o.model.Dims() }

func (l Layer) build(name string) (*mat.Dense, []float64, error) {
	rows := len(l.Weights)
	if rows == 0 || len(l.Weights[0]) == 0 {
		return nil, nil, fmt.Errorf("%s layer has no weights", name)
	}
	cols := len(l.Weights[0])
	data := make([]float64, 0, rows*cols)
	for i, row := range l.Weights {
		if len(row) != cols {
			return nil, nil, fmt.Errorf("%s layer row %d has %d columns, expected %d", name, i, len(row), cols)
		}
		data = append(data, row...)
	}
	bias := l.Bias
	if bias == nil {
		bias = make([]float64, rows)
	}
	if len(bias) != rows {
		return nil, nil, fmt.Errorf("%s layer bias has %d elements, expected %d", name, len(bias), rows)
	}
	return mat.NewDense(rows, cols, data), append([]float64(nil), bias...), nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
