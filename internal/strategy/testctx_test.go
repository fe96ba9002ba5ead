package strategy_test

import (
	"testing"
	"time"

	"l4lb/internal/events"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
)

// newTestContext builds a Context over the given backend specs with an
// empty metrics snapshot and the given picker, for strategy unit tests
// that only need RouteTable()/MetricsSnapshot()/versions.
func newTestContext(t *testing.T, specs []lbcontext.BackendSpec, picker lbcontext.Picker) *lbcontext.Context {
	t.Helper()
	table := lbcontext.BuildRouteTable(specs)
	bundle := events.NewBundle(events.Capacities{})
	return lbcontext.New(table, metrics.Empty(), picker, bundle, lbcontext.Timeouts{
		Connect: time.Second, Drain: time.Second,
		BackgroundHandle: time.Second, AcceptHandle: time.Second,
	})
}
