package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"l4lb/internal/events"
)

// latencySampleCap bounds the reservoir used for p95 estimation so a
// single noisy backend can't grow memory without bound.
const latencySampleCap = 256

// counters holds the raw atomic state the aggregator accumulates for
// one backend between snapshots. Nothing here is read directly by
// proxy or strategy code — only Aggregator.Snapshot() derives from it.
type counters struct {
	connectionCount  atomic.Int64 // currently open, tracked independently of backend.ActiveConnections
	totalConnections atomic.Int64
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	totalDurationMs  atomic.Int64
	errorCount       atomic.Int64

	samplesMu sync.Mutex
	samples   []int64 // bounded ring of recent latency_ms samples, oldest overwritten first
	nextSlot  int
}

func (c *counters) addSample(latencyMs int64) {
	c.samplesMu.Lock()
	defer c.samplesMu.Unlock()
	if len(c.samples) < latencySampleCap {
		c.samples = append(c.samples, latencyMs)
		return
	}
	c.samples[c.nextSlot] = latencyMs
	c.nextSlot = (c.nextSlot + 1) % latencySampleCap
}

// p95 returns the 95th-percentile sample, or 0 if none were recorded.
// It takes samplesMu itself, so callers must not hold it; it is only
// called from Snapshot().
func (c *counters) p95() float64 {
	c.samplesMu.Lock()
	defer c.samplesMu.Unlock()
	if len(c.samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(c.samples))
	copy(sorted, c.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}

// Aggregator consumes MetricsEvent values and periodically computes a
// Snapshot, handing it to onSnapshot (normally Context.PublishMetrics)
// so it can be installed via atomic pointer swap. It takes a callback
// rather than a Context dependency directly to avoid an import cycle
// between the metrics and lbcontext packages.
type Aggregator struct {
	interval   time.Duration
	onSnapshot func(*Snapshot)

	mu       sync.RWMutex
	counters map[uint8]*counters
}

// New creates an Aggregator. onSnapshot is called every time a new
// Snapshot is computed — on the configured interval or on an explicit
// MetricFlushSnapshot event.
func New(interval time.Duration, onSnapshot func(*Snapshot)) *Aggregator {
	return &Aggregator{
		interval:   interval,
		onSnapshot: onSnapshot,
		counters:   make(map[uint8]*counters),
	}
}

func (a *Aggregator) counterFor(id uint8) *counters {
	a.mu.RLock()
	c, ok := a.counters[id]
	a.mu.RUnlock()
	if ok {
		return c
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok = a.counters[id]; ok {
		return c
	}
	c = &counters{}
	a.counters[id] = c
	return c
}

// Handle applies a single MetricsEvent to the running counters. It
// never blocks and never touches the network.
func (a *Aggregator) Handle(ev events.MetricsEvent) {
	if ev.Kind == events.MetricFlushSnapshot {
		return // handled by the caller's ticker/flush loop, not here
	}

	c := a.counterFor(ev.BackendID)
	switch ev.Kind {
	case events.MetricConnectionOpened:
		c.connectionCount.Add(1)
	case events.MetricConnectionClosed:
		// Saturating decrement: never let the "current" counter go negative
		// even if events arrive out of the Opened/Closed order under races.
		for {
			cur := c.connectionCount.Load()
			if cur <= 0 {
				break
			}
			if c.connectionCount.CompareAndSwap(cur, cur-1) {
				break
			}
		}
		c.totalConnections.Add(1)
		c.bytesIn.Add(ev.BytesIn)
		c.bytesOut.Add(ev.BytesOut)
		c.totalDurationMs.Add(ev.DurationMicros / 1000)
	case events.MetricRequestCompleted:
		c.totalConnections.Add(1)
		c.totalDurationMs.Add(ev.LatencyMs)
		c.addSample(ev.LatencyMs)
	case events.MetricRequestFailed:
		c.errorCount.Add(1)
		c.totalConnections.Add(1)
	}
}

// Snapshot computes and returns the current Snapshot without
// publishing it — exposed for tests and for the FlushSnapshot path to
// reuse the exact same computation the ticker uses.
func (a *Aggregator) Snapshot(nowMs int64) *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := make(map[uint8]Entry, len(a.counters))
	for id, c := range a.counters {
		total := c.totalConnections.Load()
		var avg, errRate float64
		if total > 0 {
			avg = float64(c.totalDurationMs.Load()) / float64(total)
			errRate = float64(c.errorCount.Load()) / float64(total)
		}
		p95 := c.p95()
		if p95 == 0 && avg > 0 {
			p95 = avg * 1.5
		}
		entries[id] = Entry{
			AvgLatencyMs:  avg,
			P95LatencyMs:  p95,
			ErrorRate:     errRate,
			LastUpdatedMs: nowMs,
		}
	}
	return New(entries)
}

// flushAndPublish computes a Snapshot and hands it to onSnapshot.
func (a *Aggregator) flushAndPublish(nowMs int64) {
	if a.onSnapshot == nil {
		return
	}
	a.onSnapshot(a.Snapshot(nowMs))
}

// Run drives the aggregator's event loop until shutdown fires. now
// supplies the current time in milliseconds for snapshot timestamps —
// injected so tests can control it deterministically.
func (a *Aggregator) Run(shutdown <-chan struct{}, in <-chan events.MetricsEvent, now func() int64) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			a.flushAndPublish(now())
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if ev.Kind == events.MetricFlushSnapshot {
				a.flushAndPublish(now())
				continue
			}
			a.Handle(ev)
		case <-ticker.C:
			a.flushAndPublish(now())
		}
	}
}
