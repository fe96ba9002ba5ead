// Package backend implements the runtime representation of a single
// upstream server: an immutable identity plus a set of atomically
// mutated counters. Every field that changes after construction is an
// atomic so reads and writes from the accept/splice path never take a
// lock.
package backend

import (
	"sync/atomic"
)

// Backend is one entry in the load balancer's pool. Identity fields
// (ID, Name, Address, Weight) never change after construction; a
// reconfiguration that needs to change them builds a new Backend
// instead (see internal/lbcontext's migration).
type Backend struct {
	ID      uint8
	Name    string // optional, log/observability only
	Address string // host:port; host may be a DNS name resolved at connect time
	Weight  int    // 1..255, default 1; 0 excludes the backend from weighted strategies

	alive             atomic.Bool
	draining          atomic.Bool
	lastHealthCheckMs atomic.Int64
	activeConns       atomic.Int64
	totalRequests     atomic.Int64
	totalErrors       atomic.Int64
	totalLatencyMs    atomic.Int64
}

// New constructs a Backend that starts alive and not draining, per
// spec.md §3 ("Mutable... alive (boolean; starts true)"). weight is
// taken as given: a caller that omitted the config field should pass
// the default of 1 itself, while an explicit weight of 0 is preserved
// so the weighted-round-robin strategy can treat it as "excluded"
// (spec.md §4.3). Only a negative weight — never a valid config value —
// is coerced to 1.
func New(id uint8, name, address string, weight int) *Backend {
	if weight < 0 {
		weight = 1
	}
	b := &Backend{
		ID:      id,
		Name:    name,
		Address: address,
		Weight:  weight,
	}
	b.alive.Store(true)
	return b
}

// IncrementConnection records a new connection routed to this backend.
func (b *Backend) IncrementConnection() int64 { return b.activeConns.Add(1) }

// DecrementConnection releases a connection previously counted by
// IncrementConnection. Callers must pair every increment with exactly
// one decrement (spec.md §3 invariant).
func (b *Backend) DecrementConnection() int64 { return b.activeConns.Add(-1) }

// ActiveConnections returns the current in-flight connection count.
func (b *Backend) ActiveConnections() int64 { return b.activeConns.Load() }

// RestoreMigratedConnectionCount sets the active-connection counter
// directly. It exists only for the Context migration pipeline, which
// must carry a surviving backend's in-flight count across a
// reconfiguration (spec.md §3's migration invariant) without routing
// it through Increment/Decrement.
func (b *Backend) RestoreMigratedConnectionCount(n int64) { b.activeConns.Store(n) }

// IsAlive reports the most recently observed health state.
func (b *Backend) IsAlive() bool { return b.alive.Load() }

// SetHealth atomically writes the alive flag and the probe timestamp.
// Last write wins under concurrent probes/alerts, matching spec.md §4.1.
func (b *Backend) SetHealth(alive bool, nowMs int64) {
	b.alive.Store(alive)
	b.lastHealthCheckMs.Store(nowMs)
}

// LastHealthCheckMs returns the timestamp written by the most recent
// SetHealth call.
func (b *Backend) LastHealthCheckMs() int64 { return b.lastHealthCheckMs.Load() }

// IsDraining reports whether this backend has entered the one-way
// draining state.
func (b *Backend) IsDraining() bool { return b.draining.Load() }

// MarkDraining is a one-way transition: once set there is no un-drain
// operation. A reconfiguration that wants a non-draining backend back
// in rotation constructs a fresh Backend via migration instead.
func (b *Backend) MarkDraining() { b.draining.Store(true) }

// CanAcceptNew reports whether a new connection may be routed here:
// alive and not draining.
func (b *Backend) CanAcceptNew() bool { return b.IsAlive() && !b.IsDraining() }

// RecordRequest accumulates a completed request's latency and outcome.
func (b *Backend) RecordRequest(latencyMs int64, isError bool) {
	b.totalRequests.Add(1)
	b.totalLatencyMs.Add(latencyMs)
	if isError {
		b.totalErrors.Add(1)
	}
}

// TotalRequests returns the cumulative request count.
func (b *Backend) TotalRequests() int64 { return b.totalRequests.Load() }

// TotalErrors returns the cumulative error count.
func (b *Backend) TotalErrors() int64 { return b.totalErrors.Load() }

// TotalLatencyMs returns the cumulative latency sum in milliseconds.
func (b *Backend) TotalLatencyMs() int64 { return b.totalLatencyMs.Load() }

// Stats is a coherent (if not perfectly instantaneous) read of a
// backend's derived metrics, safe to compute under arbitrary
// concurrent mutation. When no requests have completed, AvgLatencyMs
// and ErrorRate are zero rather than NaN or a division by zero.
type Stats struct {
	ID              uint8
	Name            string
	Address         string
	Weight          int
	Alive           bool
	Draining        bool
	ActiveConns     int64
	TotalRequests   int64
	TotalErrors     int64
	AvgLatencyMs    float64
	ErrorRate       float64
	LastHealthCheck int64
}

// Snapshot returns the current Stats for this backend. Fields are read
// independently via atomics, so they may reflect slightly different
// instants, but the contract only requires internal consistency for
// fields that were ever set together (spec.md §4.1).
func (b *Backend) Snapshot() Stats {
	reqs := b.TotalRequests()
	lat := b.TotalLatencyMs()
	errs := b.TotalErrors()

	var avg, errRate float64
	if reqs > 0 {
		avg = float64(lat) / float64(reqs)
		errRate = float64(errs) / float64(reqs)
	}

	return Stats{
		ID:              b.ID,
		Name:            b.Name,
		Address:         b.Address,
		Weight:          b.Weight,
		Alive:           b.IsAlive(),
		Draining:        b.IsDraining(),
		ActiveConns:     b.ActiveConnections(),
		TotalRequests:   reqs,
		TotalErrors:     errs,
		AvgLatencyMs:    avg,
		ErrorRate:       errRate,
		LastHealthCheck: b.LastHealthCheckMs(),
	}
}
