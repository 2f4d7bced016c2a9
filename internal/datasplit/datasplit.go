// Package datasplit partitions a snapshot matrix into the history ensemble,
// the background state, the control (truth) state and the observed subset.
package datasplit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/vardalab/varda/pkg/varda"
)

// Observation modes
const (
	ObsModeRand      = "rand"
	ObsModeSingleMax = "single_max"
)

// Options controls how snapshots are split
type Options struct {
	HistFrac      float64 // fraction of the snapshots used as history, in (0, 1)
	TDAIdxFromEnd int     // control state is snapshot T - TDAIdxFromEnd
	ObsMode       string  // rand or single_max
	ObsFrac       float64 // observed fraction of the state in rand mode
	Seed          uint64
}

// Split is the outcome of partitioning a T x n snapshot matrix
type Split struct {
	History    *mat.Dense // first floor(HistFrac*T) snapshots, one per row
	Background []float64  // history mean
	Control    []float64  // state the assimilation is judged against
	ControlIdx int        // row of the control state in the snapshot matrix
	ObsIndices []int      // sorted, distinct
	ObsValues  []float64  // control values at ObsIndices
}

// New partitions snapshots (one per row) following opts
func New(snapshots mat.Matrix, opts Options) (*Split, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("%w: no snapshots", varda.ErrShape)
	}
	t, n := snapshots.Dims()
	if t == 0 || n == 0 {
		return nil, fmt.Errorf("%w: empty snapshot matrix %dx%d", varda.ErrShape, t, n)
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	histLen := int(math.Floor(opts.HistFrac * float64(t)))
	controlIdx := t - opts.TDAIdxFromEnd
	if histLen < 1 {
		return nil, fmt.Errorf("%w: HIST_FRAC=%v leaves no history among %d snapshots",
			varda.ErrConfiguration, opts.HistFrac, t)
	}
	if controlIdx < 0 {
		return nil, fmt.Errorf("%w: TDA_IDX_FROM_END=%d exceeds %d snapshots",
			varda.ErrConfiguration, opts.TDAIdxFromEnd, t)
	}
	if controlIdx < histLen {
		return nil, fmt.Errorf("%w: control snapshot %d lies inside the history [0, %d)",
			varda.ErrConfiguration, controlIdx, histLen)
	}

	history := mat.DenseCopyOf(snapshotRows(snapshots, 0, histLen))
	background := make([]float64, n)
	for i := range histLen {
		floats.Add(background, history.RawRowView(i))
	}
	floats.Scale(1/float64(histLen), background)
	control := mat.Row(nil, controlIdx, snapshots)

	indices, err := selectObservations(control, opts)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(indices))
	for k, idx := range indices {
		values[k] = control[idx]
	}
	return &Split{
		History:    history,
		Background: background,
		Control:    control,
		ControlIdx: controlIdx,
		ObsIndices: indices,
		ObsValues:  values,
	}, nil
}

// SelectObservations picks the observed state indices of control.
// rand draws max(1, round(ObsFrac*n)) distinct indices from a sampler seeded
// with Seed; single_max returns the index of the largest control value.
func SelectObservations(control []float64, opts Options) ([]int, error) {
	if len(control) == 0 {
		return nil, fmt.Errorf("%w: empty control state", varda.ErrShape)
	}
	if err := opts.checkObs(); err != nil {
		return nil, err
	}
	return selectObservations(control, opts)
}

func selectObservations(control []float64, opts Options) ([]int, error) {
	n := len(control)
	switch opts.ObsMode {
	case ObsModeSingleMax:
		return []int{floats.MaxIdx(control)}, nil
	case ObsModeRand:
		count := max(1, int(math.Round(opts.ObsFrac*float64(n))))
		count = min(count, n)
		indices := make([]int, count)
		sampleuv.WithoutReplacement(indices, n, rand.NewPCG(opts.Seed, opts.Seed))
		slices.Sort(indices)
		return indices, nil
	default:
		return nil, fmt.Errorf("%w: unknown observation mode %q", varda.ErrConfiguration, opts.ObsMode)
	}
}

func (o *Options) check() error {
	if !(o.HistFrac > 0 && o.HistFrac < 1) {
		return fmt.Errorf("%w: HIST_FRAC=%v must lie in (0, 1)", varda.ErrConfiguration, o.HistFrac)
	}
	if o.TDAIdxFromEnd < 1 {
		return fmt.Errorf("%w: TDA_IDX_FROM_END=%d must be at least 1", varda.ErrConfiguration, o.TDAIdxFromEnd)
	}
	return o.checkObs()
}

func (o *Options) checkObs() error {
	if o.ObsMode == ObsModeRand && !(o.ObsFrac > 0 && o.ObsFrac <= 1) {
		return fmt.Errorf("%w: OBS_FRAC=%v must lie in (0, 1]", varda.ErrConfiguration, o.ObsFrac)
	}
	return nil
}

func snapshotRows(m mat.Matrix, from, to int) mat.Matrix {
	_, n := m.Dims()
	if d, ok := m.(*mat.Dense); ok {
		return d.Slice(from, to, 0, n)
	}
	return mat.DenseCopyOf(m).Slice(from, to, 0, n)
}
