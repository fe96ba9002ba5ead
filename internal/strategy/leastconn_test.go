package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4lb/internal/lbcontext"
	"l4lb/internal/strategy"
)

// TestLeastConnections_S4_PrefersFewerConnections reproduces scenario
// S4: two healthy backends with active_connections of 5 and 2; the next
// pick returns the one with 2.
func TestLeastConnections_S4_PrefersFewerConnections(t *testing.T) {
	specs := []lbcontext.BackendSpec{
		{ID: 0, Address: "127.0.0.1:9001", Weight: 1},
		{ID: 1, Address: "127.0.0.1:9002", Weight: 1},
	}
	lc := strategy.NewLeastConnections()
	ctx := newTestContext(t, specs, lc)

	b0 := ctx.RouteTable().GetByID(0)
	b1 := ctx.RouteTable().GetByID(1)
	for i := 0; i < 5; i++ {
		ctx.IncrementConnection(b0)
	}
	for i := 0; i < 2; i++ {
		ctx.IncrementConnection(b1)
	}

	id, err := lc.Pick(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
}

func TestLeastConnections_SkipsUnhealthy(t *testing.T) {
	specs := []lbcontext.BackendSpec{
		{ID: 0, Address: "127.0.0.1:9001", Weight: 1},
		{ID: 1, Address: "127.0.0.1:9002", Weight: 1},
	}
	lc := strategy.NewLeastConnections()
	ctx := newTestContext(t, specs, lc)
	ctx.RouteTable().GetByID(1).SetHealth(false, 1)
	ctx.IncrementConnection(ctx.RouteTable().GetByID(0)) // 0 now has a connection, 1 has none but is unhealthy

	id, err := lc.Pick(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)
}

func TestLeastConnections_NoHealthyBackends(t *testing.T) {
	lc := strategy.NewLeastConnections()
	ctx := newTestContext(t, nil, lc)

	_, err := lc.Pick(ctx)
	assert.ErrorIs(t, err, strategy.ErrNoBackendAvailable)
}
