package varda

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestStatistics_RoundTrip(t *testing.T) {
	t.Parallel()

	ensemble := randomEnsemble(8, 16, 31)
	stats, err := ComputeStatistics(ensemble)
	require.NoError(t, err)
	assert.Equal(t, 16, stats.Dim())

	x := mat.Row(nil, 2, ensemble)
	z, err := stats.Normalize(x)
	require.NoError(t, err)
	back, err := stats.Denormalize(z)
	require.NoError(t, err)
	if diff := cmp.Diff(x, back, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	normalized, err := stats.NormalizeEnsemble(ensemble)
	require.NoError(t, err)
	col := mat.Col(nil, 5, normalized)
	var mean float64
	for _, v := range col {
		mean += v
	}
	assert.InDelta(t, 0, mean/float64(len(col)), 1e-12)
}

func TestStatistics_Errors(t *testing.T) {
	t.Parallel()

	// a single snapshot has zero spread
	stats, err := ComputeStatistics(mat.NewDense(1, 3, []float64{1, 2, 3}))
	require.NoError(t, err)
	_, err = stats.Normalize([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrNumericalDegeneracy)

	_, err = stats.Denormalize([]float64{1, 2})
	assert.ErrorIs(t, err, ErrShape)

	_, err = ComputeStatistics(nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestStateTriple_DenormalizeIsAtomic(t *testing.T) {
	t.Parallel()

	stats := &Statistics{Mean: []float64{1, 2, 3}, Std: []float64{2, 2, 0.5}}
	triple := StateTriple{
		Background: []float64{0, 1, -1},
		Truth:      []float64{1, 0, 2},
		Analysis:   []float64{0.5, 0.5, 0},
	}

	got, err := triple.Denormalize(stats)
	require.NoError(t, err)
	want := StateTriple{
		Background: []float64{1, 4, 2.5},
		Truth:      []float64{3, 2, 4},
		Analysis:   []float64{2, 3, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("denormalized triple mismatch (-want +got):\n%s", diff)
	}
	// the input triple is left untouched
	assert.Equal(t, []float64{0, 1, -1}, triple.Background)

	// any mismatch rejects all three states
	short := &Statistics{Mean: []float64{1, 2}, Std: []float64{1, 1}}
	got, err = triple.Denormalize(short)
	assert.ErrorIs(t, err, ErrShape)
	assert.Equal(t, StateTriple{}, got)

	ragged := triple
	ragged.Analysis = []float64{1}
	got, err = ragged.Denormalize(stats)
	assert.ErrorIs(t, err, ErrShape)
	assert.Equal(t, StateTriple{}, got)

	_, err = triple.Denormalize(nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}
