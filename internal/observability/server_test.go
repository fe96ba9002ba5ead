package observability_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4lb/internal/events"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
	"l4lb/internal/observability"
	"l4lb/internal/strategy"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newObservabilityContext(t *testing.T, specs []lbcontext.BackendSpec) *lbcontext.Context {
	t.Helper()
	table := lbcontext.BuildRouteTable(specs)
	bundle := events.NewBundle(events.Capacities{
		ConfigEvents: 1, HealthEvents: 1, FailureEvents: 1, MetricsEvents: 1, ConnectionEvents: 1,
	})
	return lbcontext.New(table, metrics.Empty(), strategy.NewRoundRobin(), bundle, lbcontext.Timeouts{
		Connect: time.Second, Drain: time.Second, BackgroundHandle: time.Second, AcceptHandle: time.Second,
	})
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}

func TestServer_StatsReportsActiveConnectionsAndBackendCounts(t *testing.T) {
	ctx := newObservabilityContext(t, []lbcontext.BackendSpec{
		{ID: 0, Name: "a", Address: "127.0.0.1:1", Weight: 1},
		{ID: 1, Name: "b", Address: "127.0.0.1:2", Weight: 1},
	})
	b := ctx.RouteTable().GetByID(1)
	b.MarkDraining()
	ctx.IncrementConnection(ctx.RouteTable().GetByID(0))

	addr := freeAddr(t)
	srv := observability.New(ctx, addr, time.Now().Add(-5*time.Second))
	srv.Start()
	defer func() { require.NoError(t, srv.Stop(context.Background())) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	var stats struct {
		Uptime          string `json:"uptime"`
		ActiveConns     int64  `json:"active_conns"`
		BackendsTotal   int    `json:"backends_total"`
		BackendsHealthy int    `json:"backends_healthy"`
		BackendsDrained int    `json:"backends_draining"`
	}
	getJSON(t, "http://"+addr+"/stats", &stats)

	assert.EqualValues(t, 1, stats.ActiveConns)
	assert.Equal(t, 2, stats.BackendsTotal)
	assert.Equal(t, 2, stats.BackendsHealthy)
	assert.Equal(t, 1, stats.BackendsDrained)
	assert.NotEmpty(t, stats.Uptime)
}

func TestServer_BackendsListsPerBackendSnapshots(t *testing.T) {
	ctx := newObservabilityContext(t, []lbcontext.BackendSpec{
		{ID: 7, Name: "only", Address: "127.0.0.1:9", Weight: 3},
	})

	addr := freeAddr(t)
	srv := observability.New(ctx, addr, time.Now())
	srv.Start()
	defer func() { require.NoError(t, srv.Stop(context.Background())) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/backends")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	var stats []struct {
		ID      uint8
		Name    string
		Address string
	}
	getJSON(t, "http://"+addr+"/backends", &stats)

	require.Len(t, stats, 1)
	assert.EqualValues(t, 7, stats[0].ID)
	assert.Equal(t, "only", stats[0].Name)
	assert.Equal(t, "127.0.0.1:9", stats[0].Address)
}
