// Package events defines the payload types carried on the channel
// bundle (spec.md §3 "Channel bundle") and the bundle itself: a
// fixed-shape tuple of typed, bounded-capacity channels connecting the
// proxy, health service, metrics aggregator, and config watcher
// without any of them importing one another.
package events

// FailureKind classifies why a connect attempt to a backend failed.
// The proxy emits it on BackendFailureEvent; the health service maps
// it onto an unhealthy reason without re-deriving it from the error.
type FailureKind int

const (
	ConnectionRefused FailureKind = iota
	Timeout
	BackendClosed
)

func (k FailureKind) String() string {
	switch k {
	case ConnectionRefused:
		return "connection_refused"
	case Timeout:
		return "timeout"
	case BackendClosed:
		return "backend_closed"
	default:
		return "unknown"
	}
}

// ConfigEvent is published on the fan-out config-event channel.
type ConfigEvent struct {
	ListenAddressChanged string // new listen address; empty means "not this kind"
}

// BackendFailureEvent is emitted by the proxy's connect path and
// consumed by the health service as an immediate failure alert,
// bypassing the next probe tick (spec.md §4.5).
type BackendFailureEvent struct {
	BackendID uint8
	Kind      FailureKind
}

// HealthEventKind distinguishes the three observability events the
// health service publishes.
type HealthEventKind int

const (
	ProbeSucceeded HealthEventKind = iota
	ProbeFailed
	Transition
)

// HealthEvent is a single observability event from the health
// service: either the outcome of a probe, or a health-flag flip.
type HealthEvent struct {
	Kind       HealthEventKind
	BackendID  uint8
	RTTMicros  int64  // set on ProbeSucceeded
	Reason     string // set on ProbeFailed / Transition
	FromAlive  bool   // set on Transition
	ToAlive    bool   // set on Transition
}

// ConnectionEventKind distinguishes connection lifecycle events.
type ConnectionEventKind int

const (
	ConnOpened ConnectionEventKind = iota
	ConnClosed
)

// ConnectionEvent tracks a single client connection's lifecycle for
// observability consumers that aren't the metrics aggregator itself.
type ConnectionEvent struct {
	Kind      ConnectionEventKind
	BackendID uint8
}

// MetricsEventKind distinguishes the payloads the aggregator consumes.
type MetricsEventKind int

const (
	MetricConnectionOpened MetricsEventKind = iota
	MetricConnectionClosed
	MetricRequestCompleted
	MetricRequestFailed
	MetricFlushSnapshot
)

// MetricsEvent is the single payload type accepted on the metrics
// channel; Kind selects which fields are meaningful.
type MetricsEvent struct {
	Kind          MetricsEventKind
	BackendID     uint8
	DurationMicros int64 // MetricConnectionClosed
	BytesIn       int64 // MetricConnectionClosed
	BytesOut      int64 // MetricConnectionClosed
	LatencyMs     int64 // MetricRequestCompleted
}
