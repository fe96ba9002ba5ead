package strategy

import "time"

// DefaultCacheTTL is how long the adaptive strategy trusts a cached
// score before recomputing it (spec.md §4.3).
const DefaultCacheTTL = 100 * time.Millisecond

// defaultMaxLatencyMs is the max_latency used for normalization when no
// healthy backend has any recorded latency yet (spec.md §4.3
// "Normalization preparation").
const defaultMaxLatencyMs = 1000.0

// highErrorRateThreshold is the error_rate above which the adaptive
// strategy's error penalty is halved.
const highErrorRateThreshold = 0.10

// minWeightFactor is the floor applied to weight/max_weight so a
// zero-or-low-weight backend is merely deprioritized, never given an
// infinite or undefined score.
const minWeightFactor = 0.1

// Weights are the three factor weights the adaptive strategy combines.
// They must not be negative; the zero value is never used directly —
// callers get DefaultAdaptiveWeights().
type Weights struct {
	Connection float64
	Latency    float64
	Error      float64
}

// DefaultAdaptiveWeights returns the spec's default factor weights:
// (0.4, 0.4, 0.2) for (connection, latency, error).
func DefaultAdaptiveWeights() Weights {
	return Weights{Connection: 0.4, Latency: 0.4, Error: 0.2}
}
