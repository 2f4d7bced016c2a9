package varda_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vardalab/varda/internal/synthetic"
	"github.com/vardalab/varda/pkg/varda"
)

func assimilate(t *testing.T, sc *synthetic.Scenario) *varda.Metrics {
	t.Helper()

	opts := varda.DefaultBasisOptions()
	opts.Modes = 5
	basis, err := varda.BuildBasis(sc.Ensemble, opts)
	require.NoError(t, err)
	strategy, err := varda.NewLinearBasis(basis.VTrunc)
	require.NoError(t, err)

	obs, err := varda.NewObservation(sc.ObsIndices, sc.ObsValues, 0.01)
	require.NoError(t, err)
	cost, err := varda.NewCostFunctional(sc.Background, obs, 1.0, strategy)
	require.NoError(t, err)

	w0, err := basis.InitialGuess(sc.Background)
	require.NoError(t, err)
	res, err := varda.Minimize(context.Background(), cost, w0, varda.DefaultOptimizerSettings())
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Diagnostics.OptimalCost, res.Diagnostics.InitialCost)

	uDA, err := varda.Reconstruct(strategy, sc.Background, res.WOpt)
	require.NoError(t, err)
	metrics, err := varda.ComputeMetrics(varda.StateTriple{
		Background: sc.Background,
		Truth:      sc.Truth,
		Analysis:   uDA,
	})
	require.NoError(t, err)
	return metrics
}

func TestReferenceScenario(t *testing.T) {
	t.Parallel()

	opts := synthetic.DefaultOptions()
	sc, err := synthetic.Generate(opts)
	require.NoError(t, err)
	require.Len(t, sc.ObsIndices, 10)

	first := assimilate(t, sc)
	assert.Less(t, first.DAMAEMean, first.RefMAEMean, first.String())
	assert.Greater(t, first.ImprovedCount, 50)

	// the same seed reproduces the same numbers
	again, err := synthetic.Generate(opts)
	require.NoError(t, err)
	second := assimilate(t, again)
	assert.Equal(t, first.RefMAEMean, second.RefMAEMean)
	assert.Equal(t, first.DAMAEMean, second.DAMAEMean)
}
