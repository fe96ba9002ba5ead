package strategy

import (
	"sync/atomic"
	"time"

	"l4lb/internal/backend"
	"l4lb/internal/lbcontext"
	"l4lb/internal/metrics"
)

// Adaptive combines a connection-load factor, a latency factor, and an
// error-rate penalty into a single score per healthy backend and picks
// the lowest (spec.md §4.3 — "the hardest" strategy). It maintains a
// bounded, versioned score cache so a burst of connections within the
// cache TTL doesn't re-run the full scoring pass for every pick.
type Adaptive struct {
	weights Weights
	cache   *scoreCache
	clock   func() time.Time

	// computeCount is incremented once per backend whose score is
	// actually (re)computed, never on a cache hit. Tests assert against
	// it to verify cache-hit behavior (spec.md §8 scenario S5).
	computeCount atomic.Int64
}

// NewAdaptive constructs an Adaptive strategy with the given factor
// weights and cache TTL, using the wall clock.
func NewAdaptive(weights Weights, ttl time.Duration) *Adaptive {
	return NewAdaptiveWithClock(weights, ttl, time.Now)
}

// NewAdaptiveWithClock is NewAdaptive with an injectable clock, used by
// tests to control cache aging deterministically.
func NewAdaptiveWithClock(weights Weights, ttl time.Duration, clock func() time.Time) *Adaptive {
	return &Adaptive{weights: weights, cache: newScoreCache(ttl), clock: clock}
}

// ComputeCount reports how many times a score was actually recomputed
// (as opposed to served from cache) since construction.
func (a *Adaptive) ComputeCount() int64 { return a.computeCount.Load() }

func (a *Adaptive) Pick(ctx *lbcontext.Context) (uint8, error) {
	healthy := ctx.RouteTable().FilterHealthy()
	if len(healthy) == 0 {
		return 0, ErrNoBackendAvailable
	}
	if len(healthy) == 1 {
		return healthy[0].ID, nil
	}

	snap := ctx.MetricsSnapshot()
	maxConns, maxLatency, maxWeight := normalize(healthy, snap)

	now := a.clock()
	metricsVersion := ctx.MetricsVersion()
	connVersion := ctx.ConnVersion()

	var bestID uint8
	var bestScore float64
	found := false
	for _, b := range healthy {
		score, ok := a.cache.get(b.ID, now, metricsVersion, connVersion)
		if !ok {
			score = a.computeScore(b, snap, maxConns, maxLatency, maxWeight)
			a.computeCount.Add(1)
			a.cache.put(b.ID, score, now, metricsVersion, connVersion)
		}
		if !found || score < bestScore {
			bestID = b.ID
			bestScore = score
			found = true
		}
	}
	return bestID, nil
}

// normalize computes max_connections (clamped to >= 1), max_latency
// (defaulting to 1000ms when no healthy backend has metrics), and
// max_weight across the current healthy set (spec.md §4.3
// "Normalization preparation").
func normalize(healthy []*backend.Backend, snap *metrics.Snapshot) (maxConns int64, maxLatency float64, maxWeight int) {
	maxConns = 1
	maxWeight = 1
	haveLatency := false

	for _, b := range healthy {
		if c := b.ActiveConnections(); c > maxConns {
			maxConns = c
		}
		if b.Weight > maxWeight {
			maxWeight = b.Weight
		}
		if entry, ok := snap.Get(b.ID); ok && entry.AvgLatencyMs > 0 {
			haveLatency = true
			if entry.AvgLatencyMs > maxLatency {
				maxLatency = entry.AvgLatencyMs
			}
		}
	}
	if !haveLatency {
		maxLatency = defaultMaxLatencyMs
	}
	return maxConns, maxLatency, maxWeight
}

func (a *Adaptive) computeScore(b *backend.Backend, snap *metrics.Snapshot, maxConns int64, maxLatency float64, maxWeight int) float64 {
	weightFactor := float64(b.Weight) / float64(maxWeight)
	if weightFactor < minWeightFactor {
		weightFactor = minWeightFactor
	}

	connFactor := (float64(b.ActiveConnections()) / float64(maxConns)) / weightFactor

	var latencyFactor float64
	var errorRate float64
	if entry, ok := snap.Get(b.ID); ok && entry.AvgLatencyMs > 0 {
		spread := 0.0
		if entry.AvgLatencyMs > 0 {
			spread = (entry.P95LatencyMs - entry.AvgLatencyMs) / entry.AvgLatencyMs
			if spread > 1 {
				spread = 1
			}
			if spread < 0 {
				spread = 0
			}
		}
		latencyFactor = (entry.AvgLatencyMs / maxLatency) * (1 + spread)
		errorRate = entry.ErrorRate
	}

	errorPenalty := 1 - errorRate
	if errorRate > highErrorRateThreshold {
		errorPenalty *= 0.5
	}

	combined := a.weights.Connection*connFactor + a.weights.Latency*latencyFactor + a.weights.Error*(1-errorPenalty)
	return combined / weightFactor
}
