package strategy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4lb/internal/events"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
	"l4lb/internal/strategy"
)

func newTestContextWithSnapshot(t *testing.T, specs []lbcontext.BackendSpec, picker lbcontext.Picker, snap *metrics.Snapshot) *lbcontext.Context {
	t.Helper()
	table := lbcontext.BuildRouteTable(specs)
	bundle := events.NewBundle(events.Capacities{})
	return lbcontext.New(table, snap, picker, bundle, lbcontext.Timeouts{
		Connect: time.Second, Drain: time.Second,
		BackgroundHandle: time.Second, AcceptHandle: time.Second,
	})
}

func TestFastestResponseTime_NoMetricsFallsBackToFirstHealthy(t *testing.T) {
	frt := strategy.NewFastestResponseTime()
	ctx := newTestContext(t, threeBackendSpecs(), frt)

	id, err := frt.Pick(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)
}

func TestFastestResponseTime_LowestAvgLatencyWins(t *testing.T) {
	frt := strategy.NewFastestResponseTime()
	snap := metrics.New(map[uint8]metrics.Entry{
		0: {AvgLatencyMs: 50, P95LatencyMs: 60, ErrorRate: 0},
		1: {AvgLatencyMs: 10, P95LatencyMs: 15, ErrorRate: 0},
		2: {AvgLatencyMs: 30, P95LatencyMs: 40, ErrorRate: 0},
	})
	ctx := newTestContextWithSnapshot(t, threeBackendSpecs(), frt, snap)

	id, err := frt.Pick(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
}

func TestFastestResponseTime_IgnoresUnhealthyAndMissingMetrics(t *testing.T) {
	frt := strategy.NewFastestResponseTime()
	snap := metrics.New(map[uint8]metrics.Entry{
		1: {AvgLatencyMs: 5, P95LatencyMs: 5, ErrorRate: 0},
	})
	ctx := newTestContextWithSnapshot(t, threeBackendSpecs(), frt, snap)
	ctx.RouteTable().GetByID(1).SetHealth(false, 1)

	id, err := frt.Pick(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)
}

func TestFastestResponseTime_NoHealthyBackends(t *testing.T) {
	frt := strategy.NewFastestResponseTime()
	ctx := newTestContext(t, nil, frt)

	_, err := frt.Pick(ctx)
	assert.ErrorIs(t, err, strategy.ErrNoBackendAvailable)
}
