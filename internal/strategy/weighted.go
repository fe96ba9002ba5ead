package strategy

import (
	"sync/atomic"

	"l4lb/internal/backend"
	"l4lb/internal/lbcontext"
)

// WeightedRoundRobin picks the backend whose cumulative-weight
// interval contains (counter mod W), where W is the sum of healthy
// weights (spec.md §4.3). A weight of 0 excludes a backend entirely;
// if every healthy backend is weight-0, W is 0 and selection fails
// with ErrNoBackendAvailable rather than dividing by zero.
type WeightedRoundRobin struct {
	counter atomic.Uint64
}

func NewWeightedRoundRobin() *WeightedRoundRobin { return &WeightedRoundRobin{} }

func (w *WeightedRoundRobin) Pick(ctx *lbcontext.Context) (uint8, error) {
	healthy := ctx.RouteTable().FilterHealthy()
	if len(healthy) == 0 {
		return 0, ErrNoBackendAvailable
	}

	total := totalWeight(healthy)
	if total == 0 {
		return 0, ErrNoBackendAvailable
	}

	target := w.counter.Add(1) - 1
	target %= uint64(total)

	var cumulative uint64
	for _, b := range healthy {
		if b.Weight <= 0 {
			continue
		}
		cumulative += uint64(b.Weight)
		if target < cumulative {
			return b.ID, nil
		}
	}
	// Unreachable for a correctly computed total, but fall back to the
	// last weighted backend rather than panicking on a rounding edge.
	return lastWeighted(healthy).ID, nil
}

func totalWeight(backends []*backend.Backend) int {
	total := 0
	for _, b := range backends {
		if b.Weight > 0 {
			total += b.Weight
		}
	}
	return total
}

func lastWeighted(backends []*backend.Backend) *backend.Backend {
	for i := len(backends) - 1; i >= 0; i-- {
		if backends[i].Weight > 0 {
			return backends[i]
		}
	}
	return backends[len(backends)-1]
}
