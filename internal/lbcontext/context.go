// Package lbcontext implements the Context: the handle every
// subsystem clones and shares (spec.md §3/§4.5's "Context"). It owns
// atomic pointers to the current route table, metrics snapshot,
// selection strategy, and channel bundle, plus the scalar timeouts
// that govern connect/probe/drain/exit behavior. Every published value
// is swapped in as a whole — readers never observe a half-updated
// value — and a snapshot obtained via an accessor stays valid even
// after a later swap (spec.md §5 "Context swaps").
package lbcontext

import (
	"sync/atomic"
	"time"

	"l4lb/internal/backend"
	"l4lb/internal/events"
	"l4lb/internal/metrics"
	"l4lb/internal/routetable"
)

// Picker selects a backend id for a new connection. It is implemented
// by every type in internal/strategy; lbcontext only needs the shape,
// not the package, so there is no import cycle between lbcontext and
// strategy.
type Picker interface {
	Pick(ctx *Context) (uint8, error)
}

// Timeouts bundles the scalar durations spec.md §5 enumerates. They
// are swapped as one unit on reconfiguration so a reader never sees a
// drain timeout from one config paired with a connect timeout from
// another.
type Timeouts struct {
	Connect          time.Duration // also the active-probe timeout
	Drain            time.Duration
	BackgroundHandle time.Duration
	AcceptHandle     time.Duration
}

// Context is safe for concurrent use by any number of goroutines.
// Mutation happens only through the exported Swap*/Publish*/Migrate
// methods.
type Context struct {
	routeTable  atomic.Pointer[routetable.Table]
	metricsSnap atomic.Pointer[metrics.Snapshot]
	picker      atomic.Pointer[Picker]
	bundle      atomic.Pointer[events.Bundle]
	timeouts    atomic.Pointer[Timeouts]

	maxConnections atomic.Int64 // 0 means "unbounded"

	// connVersion and metricsVersion are the explicit "versions" the
	// adaptive strategy's cache validates against (spec.md §9 open
	// question 3). connVersion increments on every connection-count
	// mutation routed through Increment/DecrementConnection;
	// metricsVersion increments on every PublishMetrics.
	connVersion    atomic.Uint64
	metricsVersion atomic.Uint64
}

// New builds a Context from its initial published values. table,
// snap, picker, and bundle must all be non-nil.
func New(table *routetable.Table, snap *metrics.Snapshot, picker Picker, bundle *events.Bundle, timeouts Timeouts) *Context {
	c := &Context{}
	c.routeTable.Store(table)
	c.metricsSnap.Store(snap)
	c.picker.Store(&picker)
	c.bundle.Store(bundle)
	c.timeouts.Store(&timeouts)
	return c
}

// RouteTable returns the currently published route table. The
// returned pointer remains valid (and immutable) even if a later
// SwapRouteTable/Migrate installs a new one.
func (c *Context) RouteTable() *routetable.Table { return c.routeTable.Load() }

// SwapRouteTable atomically installs a new route table. Used directly
// by tests and by Migrate internally.
func (c *Context) SwapRouteTable(t *routetable.Table) { c.routeTable.Store(t) }

// MetricsSnapshot returns the most recently published metrics
// snapshot.
func (c *Context) MetricsSnapshot() *metrics.Snapshot { return c.metricsSnap.Load() }

// PublishMetrics installs a new metrics snapshot and bumps the
// metrics version the adaptive strategy's cache checks.
func (c *Context) PublishMetrics(s *metrics.Snapshot) {
	c.metricsSnap.Store(s)
	c.metricsVersion.Add(1)
}

// MetricsVersion returns the current metrics version.
func (c *Context) MetricsVersion() uint64 { return c.metricsVersion.Load() }

// CurrentPicker returns the currently active selection strategy.
func (c *Context) CurrentPicker() Picker {
	p := c.picker.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SwapPicker atomically installs a new strategy object. Used on
// startup and whenever a reconfiguration changes the strategy tag.
func (c *Context) SwapPicker(p Picker) { c.picker.Store(&p) }

// Bundle returns the currently published channel bundle.
func (c *Context) Bundle() *events.Bundle { return c.bundle.Load() }

// SwapBundle atomically installs a new channel bundle. In-flight
// connections that captured the previous bundle keep using it; only
// new lookups see the new one (design notes §9).
func (c *Context) SwapBundle(b *events.Bundle) { c.bundle.Store(b) }

// Timeouts returns the currently published timeout set.
func (c *Context) Timeouts() Timeouts { return *c.timeouts.Load() }

// SetTimeouts atomically replaces the timeout set.
func (c *Context) SetTimeouts(t Timeouts) { c.timeouts.Store(&t) }

// MaxConnections returns the configured admission ceiling, or 0 for
// unbounded.
func (c *Context) MaxConnections() int64 { return c.maxConnections.Load() }

// SetMaxConnections updates the admission ceiling.
func (c *Context) SetMaxConnections(n int64) { c.maxConnections.Store(n) }

// TotalActiveConnections sums ActiveConnections() across every
// backend in the current route table — used for admission control and
// for the drain wait.
func (c *Context) TotalActiveConnections() int64 {
	table := c.RouteTable()
	var total int64
	for _, b := range table.Iter() {
		total += b.ActiveConnections()
	}
	return total
}

// IncrementConnection increments a backend's active-connection counter
// and bumps the connection version the adaptive cache validates
// against. All connection-count mutations on the data path must go
// through this method (and DecrementConnection), not
// backend.Backend.IncrementConnection directly, so the version stays
// accurate.
func (c *Context) IncrementConnection(b *backend.Backend) int64 {
	n := b.IncrementConnection()
	c.connVersion.Add(1)
	return n
}

// DecrementConnection mirrors IncrementConnection.
func (c *Context) DecrementConnection(b *backend.Backend) int64 {
	n := b.DecrementConnection()
	c.connVersion.Add(1)
	return n
}

// ConnVersion returns the current connection-counter version.
func (c *Context) ConnVersion() uint64 { return c.connVersion.Load() }
