package strategy

import "l4lb/internal/lbcontext"

// LeastConnections returns the healthy backend with the fewest active
// connections. Ties are broken by table iteration order — the first
// minimum encountered wins (spec.md §4.3).
type LeastConnections struct{}

func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

func (LeastConnections) Pick(ctx *lbcontext.Context) (uint8, error) {
	healthy := ctx.RouteTable().FilterHealthy()
	if len(healthy) == 0 {
		return 0, ErrNoBackendAvailable
	}

	best := healthy[0]
	for _, b := range healthy[1:] {
		if b.ActiveConnections() < best.ActiveConnections() {
			best = b
		}
	}
	return best.ID, nil
}
