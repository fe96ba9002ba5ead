package strategy

import "l4lb/internal/lbcontext"

// FastestResponseTime returns the healthy backend with the lowest
// recorded average latency among those that have one. If no healthy
// backend has metrics yet, it falls back to the first healthy backend
// (spec.md §4.3) — this keeps a freshly started pool usable before the
// metrics aggregator's first flush.
type FastestResponseTime struct{}

func NewFastestResponseTime() *FastestResponseTime { return &FastestResponseTime{} }

func (FastestResponseTime) Pick(ctx *lbcontext.Context) (uint8, error) {
	healthy := ctx.RouteTable().FilterHealthy()
	if len(healthy) == 0 {
		return 0, ErrNoBackendAvailable
	}

	snap := ctx.MetricsSnapshot()
	var best uint8
	var bestLatency float64
	found := false
	for _, b := range healthy {
		entry, ok := snap.Get(b.ID)
		if !ok || entry.AvgLatencyMs <= 0 {
			continue
		}
		if !found || entry.AvgLatencyMs < bestLatency {
			best = b.ID
			bestLatency = entry.AvgLatencyMs
			found = true
		}
	}
	if !found {
		return healthy[0].ID, nil
	}
	return best, nil
}
