// Package supervisor wires the load balancer's four long-lived
// subsystems together and drives startup and graceful shutdown
// (spec.md §4.8).
package supervisor

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"l4lb/internal/config"
	"l4lb/internal/health"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
	"l4lb/internal/proxy"
)

// drainPollInterval is how often the drain wait re-checks total active
// connections while waiting for them to reach zero.
const drainPollInterval = 20 * time.Millisecond

// Supervisor owns the Context and the four background subsystems and
// implements spec.md §4.8's startup/shutdown sequence.
type Supervisor struct {
	ctx        *lbcontext.Context
	proxy      *proxy.Proxy
	monitor    *health.Monitor
	aggregator *metrics.Aggregator
	watcher    *config.Watcher

	drainTimeout      time.Duration
	backgroundTimeout time.Duration
	acceptTimeout     time.Duration
	healthInterval    time.Duration
}

// New builds a Supervisor from its constituent subsystems and the
// timeouts spec.md §5 enumerates.
func New(
	ctx *lbcontext.Context,
	p *proxy.Proxy,
	monitor *health.Monitor,
	aggregator *metrics.Aggregator,
	watcher *config.Watcher,
	drainTimeout, backgroundTimeout, acceptTimeout, healthInterval time.Duration,
) *Supervisor {
	return &Supervisor{
		ctx: ctx, proxy: p, monitor: monitor, aggregator: aggregator, watcher: watcher,
		drainTimeout: drainTimeout, backgroundTimeout: backgroundTimeout,
		acceptTimeout: acceptTimeout, healthInterval: healthInterval,
	}
}

// Run spawns the four long-lived tasks, installs a Ctrl-C handler,
// and blocks until a clean shutdown completes. It returns the error
// the accept task exited with, if any.
func (s *Supervisor) Run() error {
	bundle := s.ctx.Bundle()
	// Each task gets its own subscription so the broadcast reaches all four.
	acceptShutdown := bundle.SubscribeShutdown()
	healthShutdown := bundle.SubscribeShutdown()
	aggShutdown := bundle.SubscribeShutdown()
	watcherShutdown := bundle.SubscribeShutdown()

	failures, _ := bundle.TakeBackendFailures()
	metricsEvents, _ := bundle.TakeMetricsEvents()

	acceptDone := make(chan error, 1)
	go func() { acceptDone <- s.proxy.Run(acceptShutdown) }()

	healthDone := make(chan struct{})
	go func() { defer close(healthDone); s.monitor.Run(healthShutdown, failures, s.healthInterval) }()

	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		s.aggregator.Run(aggShutdown, metricsEvents, func() int64 { return time.Now().UnixMilli() })
	}()

	watcherDone := make(chan struct{})
	go func() { defer close(watcherDone); s.watcher.Run(watcherShutdown) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)
	slog.Info("supervisor: shutdown signal received")
	bundle.BroadcastShutdown()

	s.waitForDrain()

	s.waitWithTimeout("health", healthDone, s.backgroundTimeout)
	s.waitWithTimeout("metrics aggregator", aggDone, s.backgroundTimeout)
	s.waitWithTimeout("config watcher", watcherDone, s.backgroundTimeout)

	var acceptErr error
	select {
	case acceptErr = <-acceptDone:
	case <-time.After(s.acceptTimeout):
		slog.Warn("supervisor: accept task did not stop within accept_handle_timeout")
	}

	slog.Info("supervisor: shutdown complete")
	return acceptErr
}

// waitForDrain blocks until total active connections reach zero or
// drainTimeout elapses (spec.md §4.8 step 1).
func (s *Supervisor) waitForDrain() {
	deadline := time.NewTimer(s.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	if s.ctx.TotalActiveConnections() == 0 {
		return
	}
	for {
		select {
		case <-ticker.C:
			if s.ctx.TotalActiveConnections() == 0 {
				return
			}
		case <-deadline.C:
			slog.Warn("supervisor: drain_timeout elapsed with connections still open",
				"active_connections", s.ctx.TotalActiveConnections())
			return
		}
	}
}

// waitWithTimeout blocks until done closes or timeout elapses,
// logging a warning in the latter case (spec.md §4.8 step 2: each
// background task races its own timeout independently).
func (s *Supervisor) waitWithTimeout(name string, done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("supervisor: subsystem did not stop within background_handle_timeout", "subsystem", name)
	}
}
