package strategy

import (
	"sync/atomic"

	"l4lb/internal/lbcontext"
)

// RoundRobin distributes connections evenly across the healthy set
// using a lock-free monotonic counter. Over any window of k*|healthy|
// picks where the healthy set is stable, each backend is picked
// exactly k times (spec.md §8 property 2).
type RoundRobin struct {
	counter atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Pick(ctx *lbcontext.Context) (uint8, error) {
	healthy := ctx.RouteTable().FilterHealthy()
	if len(healthy) == 0 {
		return 0, ErrNoBackendAvailable
	}
	idx := r.counter.Add(1) - 1
	return healthy[idx%uint64(len(healthy))].ID, nil
}
