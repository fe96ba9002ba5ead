package config_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4lb/internal/config"
)

func TestWatcher_NoPathBlocksUntilShutdown(t *testing.T) {
	w := config.NewWatcher("", time.Millisecond, func(config.Config) { t.Fatal("onChange must not fire") })
	shutdown := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(shutdown); close(done) }()

	select {
	case <-done:
		t.Fatal("watcher returned before shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	close(shutdown)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after shutdown")
	}
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	path := writeFile(t, minimalJSON)

	var mu sync.Mutex
	var seen []config.Config
	w := config.NewWatcher(path, 20*time.Millisecond, func(cfg config.Config) {
		mu.Lock()
		seen = append(seen, cfg)
		mu.Unlock()
	})

	shutdown := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(shutdown); close(done) }()
	t.Cleanup(func() { close(shutdown); <-done })

	// Ensure the rewrite's mtime strictly advances past the baseline
	// stat taken at construction.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{
  "proxy": { "listen_address": "127.0.0.1:3001" },
  "strategy": "least_connections",
  "backends": [ { "id": 0, "address": "127.0.0.1:9001" } ]
}`), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "127.0.0.1:3001", seen[0].Proxy.ListenAddress)
	assert.Equal(t, "least_connections", seen[0].Strategy)
}

func TestWatcher_KeepsPreviousConfigOnParseError(t *testing.T) {
	path := writeFile(t, minimalJSON)

	var mu sync.Mutex
	var callCount int
	w := config.NewWatcher(path, 20*time.Millisecond, func(config.Config) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})

	shutdown := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(shutdown); close(done) }()
	t.Cleanup(func() { close(shutdown); <-done })

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("not valid json{{{"), 0o644))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, callCount, "a parse error must not invoke onChange")
}
