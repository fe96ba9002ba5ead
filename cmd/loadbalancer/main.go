// Command loadbalancer is the layer-4 TCP load balancer's entry point.
//
// Usage:
//
//	loadbalancer [-c path/to/config.json]
//
// The load balancer supports zero-downtime hot-reload: edit the config
// file while the process is running and changes take effect within one
// watcher interval — no restart needed. Shutdown is graceful: send
// SIGINT or SIGTERM and in-flight connections are given up to
// drain_timeout_millis to finish.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"l4lb/internal/config"
	"l4lb/internal/events"
	"l4lb/internal/health"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
	"l4lb/internal/observability"
	"l4lb/internal/proxy"
	"l4lb/internal/strategy"
	"l4lb/internal/supervisor"
)

func main() {
	configPath := flag.String("c", "", "path to the load balancer config file (JSON/TOML/YAML)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("loadbalancer: fatal configuration error", "error", err)
		os.Exit(1)
	}

	ctx, err := buildContext(cfg)
	if err != nil {
		slog.Error("loadbalancer: failed to build initial state", "error", err)
		os.Exit(1)
	}

	startTime := time.Now()

	p := proxy.New(ctx, cfg.Proxy.ListenAddress)
	monitor := health.New(ctx)
	aggregator := metrics.New(cfg.MetricsInterval(), ctx.PublishMetrics)
	watcher := config.NewWatcher(*configPath, cfg.ConfigWatchInterval(), func(newCfg config.Config) {
		applyReconfiguration(ctx, cfg, newCfg)
		cfg = newCfg
	})

	var obsServer *observability.Server
	if cfg.Observability.ListenAddress != "" {
		obsServer = observability.New(ctx, cfg.Observability.ListenAddress, startTime)
		obsServer.Start()
	}

	sup := supervisor.New(ctx, p, monitor, aggregator, watcher,
		time.Duration(cfg.Runtime.DrainTimeoutMillis)*time.Millisecond,
		time.Duration(cfg.Runtime.BackgroundTimeoutMillis)*time.Millisecond,
		time.Duration(cfg.Runtime.AcceptTimeoutMillis)*time.Millisecond,
		cfg.HealthInterval(),
	)

	slog.Info("loadbalancer: starting",
		"listen_address", cfg.Proxy.ListenAddress,
		"strategy", cfg.Strategy,
		"backends", len(cfg.Backends),
		"config_source", cfg.Source.String(),
	)

	runErr := sup.Run()

	if obsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = obsServer.Stop(stopCtx)
		cancel()
	}

	if runErr != nil {
		slog.Error("loadbalancer: accept task exited with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("loadbalancer: stopped")
}

// loadConfig reads configPath if given, falling back to pure
// environment-variable configuration otherwise (spec.md §6).
func loadConfig(configPath string) (config.Config, error) {
	if configPath == "" {
		return config.LoadFromEnvironment()
	}
	cfg, _, err := config.Load(configPath)
	return cfg, err
}

// buildContext constructs the initial Context from cfg: route table,
// empty metrics snapshot, strategy, channel bundle, and timeouts.
func buildContext(cfg config.Config) (*lbcontext.Context, error) {
	table := lbcontext.BuildRouteTable(cfg.BackendSpecs())
	picker, err := strategy.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	bundle := events.NewBundle(cfg.EventCapacities())
	ctx := lbcontext.New(table, metrics.Empty(), picker, bundle, cfg.Timeouts())
	ctx.SetMaxConnections(cfg.Proxy.MaxConnections)
	return ctx, nil
}

// applyReconfiguration implements spec.md §4.7's migration steps 4-6:
// atomically swap the route table (carrying active-connection counts
// forward), the timeouts, and — if they changed — the strategy object
// and the listen address.
func applyReconfiguration(ctx *lbcontext.Context, oldCfg, newCfg config.Config) {
	result := ctx.Migrate(newCfg.BackendSpecs(), true)
	ctx.SetTimeouts(newCfg.Timeouts())
	ctx.SetMaxConnections(newCfg.Proxy.MaxConnections)

	slog.Info("loadbalancer: reconfigured",
		"surviving", len(result.SurvivingIDs), "added", len(result.AddedIDs), "removed", len(result.RemovedIDs))

	if newCfg.Strategy != oldCfg.Strategy {
		picker, err := strategy.New(newCfg.Strategy)
		if err != nil {
			slog.Error("loadbalancer: invalid strategy tag on reload, keeping previous strategy",
				"strategy", newCfg.Strategy, "error", err)
		} else {
			ctx.SwapPicker(picker)
			slog.Info("loadbalancer: strategy swapped", "strategy", newCfg.Strategy)
		}
	}

	if newCfg.Proxy.ListenAddress != oldCfg.Proxy.ListenAddress {
		ctx.Bundle().PublishConfigEvent(events.ConfigEvent{ListenAddressChanged: newCfg.Proxy.ListenAddress})
	}
}
