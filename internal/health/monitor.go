// Package health implements active health checking for backends: a
// periodic TCP-connect probe ticker and an immediate-failure-alert
// path fed by the proxy's connect attempts (spec.md §4.5).
package health

import (
	"log/slog"
	"net"
	"time"

	"l4lb/internal/backend"
	"l4lb/internal/events"
	"l4lb/internal/lbcontext"
)

// busyThreshold is the active-connection count at or above which a
// probe is skipped so the health service never load-tests a busy
// backend (spec.md §4.5).
const busyThreshold = 100

// Monitor drives the periodic probe ticker and consumes immediate
// failure alerts from the proxy. It holds no backend list of its own
// — every tick re-reads the current route table off the Context, so a
// reconfiguration is picked up without any explicit UpdateBackends
// call.
type Monitor struct {
	ctx *lbcontext.Context
}

// New builds a Monitor over ctx. Call Run to start probing.
func New(ctx *lbcontext.Context) *Monitor {
	return &Monitor{ctx: ctx}
}

// Run drives both of the health service's sources — the probe ticker
// and the failure-alert channel — until shutdown fires. interval
// governs the probe ticker.
func (m *Monitor) Run(shutdown <-chan struct{}, failures <-chan events.BackendFailureEvent, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			m.probeAll()
		case ev, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			m.handleFailure(ev)
		}
	}
}

// probeAll probes every backend in the current route table
// concurrently, skipping any that are currently busy.
func (m *Monitor) probeAll() {
	table := m.ctx.RouteTable()
	timeout := m.ctx.Timeouts().Connect

	for _, b := range table.Iter() {
		if b.ActiveConnections() >= busyThreshold {
			continue
		}
		go m.probe(b, timeout)
	}
}

// probe attempts a single TCP connect and updates the backend's
// health flag, publishing a transition event only when the alive flag
// actually flips.
func (m *Monitor) probe(b *backend.Backend, timeout time.Duration) {
	wasAlive := b.IsAlive()
	nowMs := time.Now().UnixMilli()

	start := time.Now()
	conn, err := net.DialTimeout("tcp", b.Address, timeout)
	bundle := m.ctx.Bundle()

	if err != nil {
		b.SetHealth(false, nowMs)
		bundle.SendHealthEvent(events.HealthEvent{
			Kind: events.ProbeFailed, BackendID: b.ID, Reason: err.Error(),
		})
		if wasAlive {
			publishTransition(bundle, b.ID, true, false)
		}
		return
	}
	conn.Close()

	rtt := time.Since(start).Microseconds()
	b.SetHealth(true, nowMs)
	bundle.SendHealthEvent(events.HealthEvent{
		Kind: events.ProbeSucceeded, BackendID: b.ID, RTTMicros: rtt,
	})
	if !wasAlive {
		publishTransition(bundle, b.ID, false, true)
	}
}

// handleFailure applies an immediate failure alert from the proxy's
// connect path, bypassing the next probe tick. It sets the backend
// unhealthy and publishes a transition if it had been alive.
func (m *Monitor) handleFailure(ev events.BackendFailureEvent) {
	b := m.ctx.RouteTable().GetByID(ev.BackendID)
	if b == nil {
		return // raced with a migration that dropped this backend
	}

	wasAlive := b.IsAlive()
	b.SetHealth(false, time.Now().UnixMilli())

	bundle := m.ctx.Bundle()
	bundle.SendHealthEvent(events.HealthEvent{
		Kind: events.ProbeFailed, BackendID: b.ID, Reason: ev.Kind.String(),
	})
	if wasAlive {
		publishTransition(bundle, b.ID, true, false)
	}
}

func publishTransition(bundle *events.Bundle, id uint8, from, to bool) {
	ok := bundle.SendHealthEvent(events.HealthEvent{
		Kind: events.Transition, BackendID: id, FromAlive: from, ToAlive: to,
	})
	if !ok {
		slog.Debug("health: transition event dropped, subscriber buffer full", "backend_id", id)
	}
}
