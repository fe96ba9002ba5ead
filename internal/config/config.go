// Package config loads and hot-reload-watches the load balancer's
// configuration via Viper (spec.md §6). All struct fields map 1-to-1
// onto the JSON/TOML/YAML schema; environment overrides use the
// LEMONADE_LB_* prefix.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"l4lb/internal/events"
	"l4lb/internal/lbcontext"
)

// Source tags where a Config came from, for observability/logging only
// (mirrors the original implementation's config source tag).
type Source int

const (
	SourceFile Source = iota
	SourceEnvironment
)

func (s Source) String() string {
	if s == SourceFile {
		return "file"
	}
	return "environment"
}

// RuntimeCfg holds channel capacities and the scalar timeouts spec.md
// §3/§4.8 enumerate, all in milliseconds on the wire.
type RuntimeCfg struct {
	MetricsCap                int `mapstructure:"metrics_cap"`
	HealthCap                 int `mapstructure:"health_cap"`
	DrainTimeoutMillis        int `mapstructure:"drain_timeout_millis"`
	BackgroundTimeoutMillis   int `mapstructure:"background_timeout_millis"`
	AcceptTimeoutMillis       int `mapstructure:"accept_timeout_millis"`
	ConfigWatchIntervalMillis int `mapstructure:"config_watch_interval_millis"`
}

// ProxyCfg holds the listener's configuration.
type ProxyCfg struct {
	ListenAddress  string `mapstructure:"listen_address"`
	MaxConnections int64  `mapstructure:"max_connections"`
}

// BackendCfg is the wire representation of a single backend entry.
// Weight is a pointer because the schema marks it optional (`weight?:
// u8`, spec.md §6): nil means "field omitted, use the default of 1",
// while an explicit 0 must survive into the domain model unchanged so
// the weighted-round-robin strategy can treat it as excluded
// (spec.md §4.3).
type BackendCfg struct {
	ID      uint8  `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	Weight  *int   `mapstructure:"weight"`
}

// ResolvedWeight returns the configured weight, defaulting an omitted
// field to 1.
func (b BackendCfg) ResolvedWeight() int {
	if b.Weight == nil {
		return 1
	}
	return *b.Weight
}

// HealthCfg and MetricsCfg share the same interval/timeout shape.
type HealthCfg struct {
	IntervalMillis int `mapstructure:"interval"`
	TimeoutMillis  int `mapstructure:"timeout"`
}

type MetricsCfg struct {
	IntervalMillis int `mapstructure:"interval"`
	TimeoutMillis  int `mapstructure:"timeout"`
}

// ObservabilityCfg is the SPEC_FULL addition: an optional read-only
// JSON status server, off by default.
type ObservabilityCfg struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// Config is the top-level load balancer configuration (spec.md §6).
type Config struct {
	Runtime       RuntimeCfg       `mapstructure:"runtime"`
	Proxy         ProxyCfg         `mapstructure:"proxy"`
	Strategy      string           `mapstructure:"strategy"`
	Backends      []BackendCfg     `mapstructure:"backends"`
	Health        HealthCfg        `mapstructure:"health"`
	Metrics       MetricsCfg       `mapstructure:"metrics"`
	Observability ObservabilityCfg `mapstructure:"observability"`
	OTLPEndpoint  string           `mapstructure:"otlp_endpoint"`
	OTLPProtocol  string           `mapstructure:"otlp_protocol"`

	Source Source `mapstructure:"-"`
}

// Default returns a conservative single-backend configuration. The
// load paths (Load, LoadFromEnvironment) do not fall back to it: with no
// backends configured they return a validation error instead.
func Default() Config {
	return Config{
		Runtime: RuntimeCfg{
			MetricsCap: 256, HealthCap: 256,
			DrainTimeoutMillis: 10_000, BackgroundTimeoutMillis: 5_000,
			AcceptTimeoutMillis: 5_000, ConfigWatchIntervalMillis: 1_000,
		},
		Proxy:    ProxyCfg{ListenAddress: "127.0.0.1:3000"},
		Strategy: "round_robin",
		Backends: []BackendCfg{{ID: 0, Address: "127.0.0.1:8081"}},
		Health:   HealthCfg{IntervalMillis: 5_000, TimeoutMillis: 1_000},
		Metrics:  MetricsCfg{IntervalMillis: 5_000, TimeoutMillis: 1_000},
		Source:   SourceEnvironment,
	}
}

// Load reads and parses the file at path, applying LEMONADE_LB_*
// environment overrides on top. It returns the parsed Config and the
// *viper.Viper instance the file was read through.
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	cfg.Source = SourceFile
	return cfg, v, nil
}

// LoadFromEnvironment builds a Config purely from LEMONADE_LB_*
// environment variables layered over the same defaults newViper
// seeds, used when no config file is provided at all.
func LoadFromEnvironment() (Config, error) {
	v := newViper("")
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Source = SourceEnvironment
	return cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("lemonade_lb")
	v.AutomaticEnv()

	v.SetDefault("runtime.metrics_cap", 256)
	v.SetDefault("runtime.health_cap", 256)
	v.SetDefault("runtime.drain_timeout_millis", 10_000)
	v.SetDefault("runtime.background_timeout_millis", 5_000)
	v.SetDefault("runtime.accept_timeout_millis", 5_000)
	v.SetDefault("runtime.config_watch_interval_millis", 1_000)

	v.SetDefault("proxy.listen_address", "127.0.0.1:3000")
	v.SetDefault("proxy.max_connections", 0)

	v.SetDefault("strategy", "round_robin")

	v.SetDefault("health.interval", 5_000)
	v.SetDefault("health.timeout", 1_000)
	v.SetDefault("metrics.interval", 5_000)
	v.SetDefault("metrics.timeout", 1_000)

	v.SetDefault("observability.listen_address", "")

	return v
}

// unmarshal decodes v into a Config and validates the result.
func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("config: at least one backend must be defined")
	}
	seen := make(map[uint8]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if b.Address == "" {
			return fmt.Errorf("config: backend[%d] has empty address", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate backend id %d", b.ID)
		}
		seen[b.ID] = true
	}
	switch cfg.Strategy {
	case "adaptive", "round_robin", "weighted_round_robin", "least_connections", "fastest_response_time":
	default:
		return fmt.Errorf("config: unsupported strategy tag %q", cfg.Strategy)
	}
	if cfg.Proxy.ListenAddress == "" {
		return fmt.Errorf("config: proxy.listen_address must be set")
	}
	return nil
}

// BackendSpecs converts the config's backend list into the shape
// internal/lbcontext builds route tables and migrations from.
func (c Config) BackendSpecs() []lbcontext.BackendSpec {
	specs := make([]lbcontext.BackendSpec, len(c.Backends))
	for i, b := range c.Backends {
		specs[i] = lbcontext.BackendSpec{ID: b.ID, Name: b.Name, Address: b.Address, Weight: b.ResolvedWeight()}
	}
	return specs
}

// Timeouts converts the config's millisecond durations into the
// lbcontext.Timeouts bundle.
func (c Config) Timeouts() lbcontext.Timeouts {
	return lbcontext.Timeouts{
		Connect:          time.Duration(c.Health.TimeoutMillis) * time.Millisecond,
		Drain:            time.Duration(c.Runtime.DrainTimeoutMillis) * time.Millisecond,
		BackgroundHandle: time.Duration(c.Runtime.BackgroundTimeoutMillis) * time.Millisecond,
		AcceptHandle:     time.Duration(c.Runtime.AcceptTimeoutMillis) * time.Millisecond,
	}
}

// HealthInterval and MetricsInterval convert the config's millisecond
// ticker intervals into time.Duration.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalMillis) * time.Millisecond
}

func (c Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalMillis) * time.Millisecond
}

// ConfigWatchInterval converts runtime.config_watch_interval_millis,
// defaulting to 1000ms per spec.md §4.7 if unset.
func (c Config) ConfigWatchInterval() time.Duration {
	if c.Runtime.ConfigWatchIntervalMillis <= 0 {
		return time.Second
	}
	return time.Duration(c.Runtime.ConfigWatchIntervalMillis) * time.Millisecond
}

// EventCapacities converts the config's runtime capacities into an
// events.Capacities, used once at Bundle construction. A config reload
// does not rebuild the bundle, so changed capacities take effect only
// on restart.
func (c Config) EventCapacities() events.Capacities {
	return events.Capacities{
		ConfigEvents:     8,
		HealthEvents:     c.Runtime.HealthCap,
		FailureEvents:    c.Runtime.HealthCap,
		MetricsEvents:    c.Runtime.MetricsCap,
		ConnectionEvents: c.Runtime.MetricsCap,
	}
}
