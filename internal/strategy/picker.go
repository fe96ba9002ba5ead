// Package strategy implements the five backend-selection algorithms
// spec.md §4.3 names. Every strategy satisfies lbcontext.Picker —
// Pick(ctx) (backendID, error) — reads Context's healthy-backend view,
// and never mutates Backend state during selection.
package strategy

import (
	"errors"
	"fmt"

	"l4lb/internal/lbcontext"
)

// ErrNoBackendAvailable is returned when no healthy backend exists, or
// (for weighted round robin) when total weight is zero.
var ErrNoBackendAvailable = errors.New("strategy: no backend available")

// Names of the five strategy tags accepted by configuration.
const (
	NameRoundRobin         = "round_robin"
	NameWeightedRoundRobin = "weighted_round_robin"
	NameLeastConnections   = "least_connections"
	NameFastestResponse    = "fastest_response_time"
	NameAdaptive           = "adaptive"
)

// New constructs the Picker named by tag. An empty tag defaults to
// round_robin, matching the teacher's "no strategy configured" default.
func New(tag string) (lbcontext.Picker, error) {
	switch tag {
	case NameRoundRobin, "":
		return NewRoundRobin(), nil
	case NameWeightedRoundRobin:
		return NewWeightedRoundRobin(), nil
	case NameLeastConnections:
		return NewLeastConnections(), nil
	case NameFastestResponse:
		return NewFastestResponseTime(), nil
	case NameAdaptive:
		return NewAdaptive(DefaultAdaptiveWeights(), DefaultCacheTTL), nil
	default:
		return nil, fmt.Errorf("strategy: unknown algorithm %q", tag)
	}
}
