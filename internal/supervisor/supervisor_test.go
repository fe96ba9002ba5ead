package supervisor_test

import (
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4lb/internal/config"
	"l4lb/internal/events"
	"l4lb/internal/health"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
	"l4lb/internal/proxy"
	"l4lb/internal/strategy"
	"l4lb/internal/supervisor"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// TestSupervisor_GracefulShutdownOnSignal builds a full stack of real
// subsystems over a real listener and verifies that a SIGTERM sent to
// this process makes Run return within the configured timeouts.
func TestSupervisor_GracefulShutdownOnSignal(t *testing.T) {
	backendAddr := freeAddr(t) // nothing listening; fine, no connections are made
	listenAddr := freeAddr(t)

	table := lbcontext.BuildRouteTable([]lbcontext.BackendSpec{{ID: 0, Address: backendAddr, Weight: 1}})
	bundle := events.NewBundle(events.Capacities{
		ConfigEvents: 4, HealthEvents: 4, FailureEvents: 4, MetricsEvents: 16, ConnectionEvents: 16,
	})
	ctx := lbcontext.New(table, metrics.Empty(), strategy.NewRoundRobin(), bundle, lbcontext.Timeouts{
		Connect: 200 * time.Millisecond, Drain: time.Second,
		BackgroundHandle: time.Second, AcceptHandle: time.Second,
	})

	p := proxy.New(ctx, listenAddr)
	monitor := health.New(ctx)
	aggregator := metrics.New(50*time.Millisecond, ctx.PublishMetrics)
	watcher := config.NewWatcher("", time.Second, func(config.Config) {})

	sup := supervisor.New(ctx, p, monitor, aggregator, watcher,
		time.Second, // drain_timeout
		time.Second, // background_handle_timeout
		time.Second, // accept_handle_timeout
		50*time.Millisecond, // health interval
	)

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run() }()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", listenAddr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down after SIGTERM")
	}

	_, err := net.DialTimeout("tcp", listenAddr, 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed after shutdown")
}
