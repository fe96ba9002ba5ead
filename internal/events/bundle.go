package events

import "sync"

// Capacities configures the bounded capacity of each channel in a
// Bundle, sourced from Config.Runtime (spec.md §3).
type Capacities struct {
	// ConfigEvents is not read by NewBundle: each config-event
	// subscriber's buffer is sized by its SubscribeConfigEvents call.
	ConfigEvents     int
	HealthEvents     int
	FailureEvents    int
	MetricsEvents    int
	ConnectionEvents int
}

// Bundle is the fixed-shape tuple of typed event channels that lets
// the proxy, health service, metrics aggregator, and config watcher
// talk to each other without importing one another. It is built once
// and published on the Context via atomic pointer swap; in-flight
// connections keep using the Bundle they captured even after a newer
// one is swapped in.
type Bundle struct {
	configEvents *broadcaster[ConfigEvent]
	shutdown     *broadcaster[struct{}]

	healthEvents     *receiver[HealthEvent]
	failureEvents    *receiver[BackendFailureEvent]
	metricsEvents    *receiver[MetricsEvent]
	connectionEvents *receiver[ConnectionEvent]
}

// NewBundle allocates a Bundle with the given channel capacities. A
// capacity of 0 or less is treated as 1 so no channel is unusable.
func NewBundle(cap Capacities) *Bundle {
	clamp := func(n int) int {
		if n <= 0 {
			return 1
		}
		return n
	}
	return &Bundle{
		configEvents:     newBroadcaster[ConfigEvent](),
		shutdown:         newBroadcaster[struct{}](),
		healthEvents:     newReceiver[HealthEvent](clamp(cap.HealthEvents)),
		failureEvents:    newReceiver[BackendFailureEvent](clamp(cap.FailureEvents)),
		metricsEvents:    newReceiver[MetricsEvent](clamp(cap.MetricsEvents)),
		connectionEvents: newReceiver[ConnectionEvent](clamp(cap.ConnectionEvents)),
	}
}

// PublishConfigEvent fans ConfigEvent out to every current subscriber,
// non-blocking: a subscriber with a full buffer misses the event
// rather than stalling the publisher (spec.md §5 back-pressure policy).
func (b *Bundle) PublishConfigEvent(ev ConfigEvent) { b.configEvents.publish(ev) }

// SubscribeConfigEvents registers a new fan-out subscriber. Typically
// only the proxy subscribes (to learn about listen-address changes),
// but the bundle permits any number of subscribers.
func (b *Bundle) SubscribeConfigEvents(bufferSize int) <-chan ConfigEvent {
	return b.configEvents.subscribe(bufferSize)
}

// BroadcastShutdown fans the shutdown signal out to every subscriber.
// It is idempotent-safe to call more than once.
func (b *Bundle) BroadcastShutdown() { b.shutdown.publish(struct{}{}) }

// SubscribeShutdown registers a new shutdown subscriber.
func (b *Bundle) SubscribeShutdown() <-chan struct{} {
	return b.shutdown.subscribe(1)
}

// SendHealthEvent is a non-blocking (try-send) publish used by the
// health service. If the single consumer hasn't kept up and the
// buffer is full, the event is dropped — the data/health path must
// never block on an observability channel.
func (b *Bundle) SendHealthEvent(ev HealthEvent) bool { return b.healthEvents.trySend(ev) }

// TakeHealthEvents hands ownership of the health-event consumer end to
// the caller. It may only be called once; subsequent calls return
// ok=false.
func (b *Bundle) TakeHealthEvents() (<-chan HealthEvent, bool) { return b.healthEvents.take() }

// SendBackendFailure is a non-blocking publish used by the proxy's
// connect path to alert the health service immediately on failure.
func (b *Bundle) SendBackendFailure(ev BackendFailureEvent) bool {
	return b.failureEvents.trySend(ev)
}

// TakeBackendFailures hands ownership of the failure-event consumer
// end (the health service) to the caller, once.
func (b *Bundle) TakeBackendFailures() (<-chan BackendFailureEvent, bool) {
	return b.failureEvents.take()
}

// SendMetricsEvent is a non-blocking publish used by the proxy to feed
// the aggregator.
func (b *Bundle) SendMetricsEvent(ev MetricsEvent) bool { return b.metricsEvents.trySend(ev) }

// TakeMetricsEvents hands ownership of the metrics-event consumer end
// (the aggregator) to the caller, once.
func (b *Bundle) TakeMetricsEvents() (<-chan MetricsEvent, bool) { return b.metricsEvents.take() }

// SendConnectionEvent is a non-blocking publish of a connection
// lifecycle event (opened/closed).
func (b *Bundle) SendConnectionEvent(ev ConnectionEvent) bool {
	return b.connectionEvents.trySend(ev)
}

// TakeConnectionEvents hands ownership of the connection-event
// consumer end to the caller, once.
func (b *Bundle) TakeConnectionEvents() (<-chan ConnectionEvent, bool) {
	return b.connectionEvents.take()
}

// broadcaster fans a value out to every currently-subscribed channel
// with a non-blocking send, dropping for any subscriber that is full.
type broadcaster[T any] struct {
	mu   sync.Mutex
	subs []chan T
}

func newBroadcaster[T any]() *broadcaster[T] { return &broadcaster[T]{} }

func (br *broadcaster[T]) subscribe(bufferSize int) <-chan T {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ch := make(chan T, bufferSize)
	br.mu.Lock()
	br.subs = append(br.subs, ch)
	br.mu.Unlock()
	return ch
}

func (br *broadcaster[T]) publish(v T) {
	br.mu.Lock()
	defer br.mu.Unlock()
	for _, ch := range br.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// receiver is a single-consumer channel whose consumer end may be
// "taken" (moved out) exactly once, modelling the teacher corpus's
// moved-once-receiver pattern without an Option type (design notes §9).
type receiver[T any] struct {
	ch    chan T
	mu    sync.Mutex
	taken bool
}

func newReceiver[T any](capacity int) *receiver[T] {
	return &receiver[T]{ch: make(chan T, capacity)}
}

func (r *receiver[T]) trySend(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

func (r *receiver[T]) take() (<-chan T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken {
		return nil, false
	}
	r.taken = true
	return r.ch, true
}
