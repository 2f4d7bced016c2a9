package datasplit

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/vardalab/varda/pkg/varda"
)

// 9 snapshots of 4 elements; snapshot t holds t*10 + i
func ramp() *mat.Dense {
	m := mat.NewDense(9, 4, nil)
	for t := range 9 {
		for i := range 4 {
			m.Set(t, i, float64(t*10+i))
		}
	}
	return m
}

func defaultOptions() Options {
	return Options{HistFrac: 2.0 / 3.0, TDAIdxFromEnd: 2, ObsMode: ObsModeRand, ObsFrac: 0.5, Seed: 42}
}

func TestNew(t *testing.T) {
	t.Parallel()

	split, err := New(ramp(), defaultOptions())
	require.NoError(t, err)

	rows, cols := split.History.Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, 7, split.ControlIdx)
	assert.Equal(t, []float64{70, 71, 72, 73}, split.Control)
	// mean of t*10 + i over t in [0, 6)
	assert.Equal(t, []float64{25, 26, 27, 28}, split.Background)

	require.Len(t, split.ObsIndices, 2)
	assert.True(t, slices.IsSorted(split.ObsIndices))
	assert.NotEqual(t, split.ObsIndices[0], split.ObsIndices[1])
	for k, idx := range split.ObsIndices {
		assert.Equal(t, split.Control[idx], split.ObsValues[k])
	}
}

func TestNew_HistoryIsACopy(t *testing.T) {
	t.Parallel()

	snapshots := ramp()
	split, err := New(snapshots, defaultOptions())
	require.NoError(t, err)
	snapshots.Set(0, 0, -1)
	assert.Equal(t, 0.0, split.History.At(0, 0))
}

func TestSelectObservations(t *testing.T) {
	t.Parallel()

	control := []float64{0.1, 3, -2, 7, 0.5, 6}

	got, err := SelectObservations(control, Options{ObsMode: ObsModeSingleMax})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got)

	tests := []struct {
		name    string
		frac    float64
		wantLen int
	}{
		{name: "at least one", frac: 0.01, wantLen: 1},
		{name: "rounded", frac: 0.4, wantLen: 2},
		{name: "everything", frac: 1, wantLen: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectObservations(control, Options{ObsMode: ObsModeRand, ObsFrac: tt.frac, Seed: 7})
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, slices.IsSorted(got))
			assert.Len(t, slices.Compact(slices.Clone(got)), tt.wantLen)
		})
	}
}

func TestSelectObservations_Deterministic(t *testing.T) {
	t.Parallel()

	control := make([]float64, 200)
	opts := Options{ObsMode: ObsModeRand, ObsFrac: 0.05, Seed: 42}
	first, err := SelectObservations(control, opts)
	require.NoError(t, err)
	second, err := SelectObservations(control, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	opts.Seed = 43
	other, err := SelectObservations(control, opts)
	require.NoError(t, err)
	assert.Len(t, other, 10)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{name: "history fraction too large", mutate: func(o *Options) { o.HistFrac = 1 }, wantErr: varda.ErrConfiguration},
		{name: "no history", mutate: func(o *Options) { o.HistFrac = 0.05 }, wantErr: varda.ErrConfiguration},
		{name: "control inside history", mutate: func(o *Options) { o.HistFrac = 0.9 }, wantErr: varda.ErrConfiguration},
		{name: "control before start", mutate: func(o *Options) { o.TDAIdxFromEnd = 10 }, wantErr: varda.ErrConfiguration},
		{name: "zero offset", mutate: func(o *Options) { o.TDAIdxFromEnd = 0 }, wantErr: varda.ErrConfiguration},
		{name: "unknown mode", mutate: func(o *Options) { o.ObsMode = "grid" }, wantErr: varda.ErrConfiguration},
		{name: "observed fraction", mutate: func(o *Options) { o.ObsFrac = 0 }, wantErr: varda.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.mutate(&opts)
			_, err := New(ramp(), opts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New(nil, defaultOptions())
	assert.ErrorIs(t, err, varda.ErrShape)
	_, err = SelectObservations(nil, defaultOptions())
	assert.ErrorIs(t, err, varda.ErrShape)
}
