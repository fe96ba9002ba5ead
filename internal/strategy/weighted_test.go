package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4lb/internal/lbcontext"
	"l4lb/internal/strategy"
)

// TestWeightedRoundRobin_S3_ProportionalDistribution reproduces scenario
// S3: weights {3,1,2} over 60 picks yield {30,10,20} within a 1-pick
// tie-break tolerance.
func TestWeightedRoundRobin_S3_ProportionalDistribution(t *testing.T) {
	specs := []lbcontext.BackendSpec{
		{ID: 0, Address: "127.0.0.1:9001", Weight: 3},
		{ID: 1, Address: "127.0.0.1:9002", Weight: 1},
		{ID: 2, Address: "127.0.0.1:9003", Weight: 2},
	}
	wrr := strategy.NewWeightedRoundRobin()
	ctx := newTestContext(t, specs, wrr)

	counts := map[uint8]int{}
	for i := 0; i < 60; i++ {
		id, err := wrr.Pick(ctx)
		require.NoError(t, err)
		counts[id]++
	}

	assert.InDelta(t, 30, counts[0], 1)
	assert.InDelta(t, 10, counts[1], 1)
	assert.InDelta(t, 20, counts[2], 1)
}

func TestWeightedRoundRobin_ZeroWeightExcludesBackend(t *testing.T) {
	specs := []lbcontext.BackendSpec{
		{ID: 0, Address: "127.0.0.1:9001", Weight: 0},
		{ID: 1, Address: "127.0.0.1:9002", Weight: 1},
	}
	wrr := strategy.NewWeightedRoundRobin()
	ctx := newTestContext(t, specs, wrr)

	for i := 0; i < 10; i++ {
		id, err := wrr.Pick(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, id)
	}
}

func TestWeightedRoundRobin_AllZeroWeightIsNoBackendAvailable(t *testing.T) {
	specs := []lbcontext.BackendSpec{
		{ID: 0, Address: "127.0.0.1:9001", Weight: 0},
	}
	wrr := strategy.NewWeightedRoundRobin()
	ctx := newTestContext(t, specs, wrr)

	_, err := wrr.Pick(ctx)
	assert.ErrorIs(t, err, strategy.ErrNoBackendAvailable)
}
