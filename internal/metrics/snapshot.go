// Package metrics implements the derived per-backend statistics view
// (spec.md §3 "Metrics snapshot") and the aggregator that computes it
// from connection/request events (spec.md §4.6).
package metrics

// Entry is the derived statistics for one backend at the instant the
// enclosing Snapshot was published.
type Entry struct {
	AvgLatencyMs  float64
	P95LatencyMs  float64
	ErrorRate     float64
	LastUpdatedMs int64
}

// Snapshot is a concurrent-safe-by-construction mapping from backend
// id to Entry: it is built once, fully populated, and never mutated —
// readers always see a value where every field of an Entry was
// computed together. Publish it by replacing the whole value via
// atomic pointer swap on the Context.
type Snapshot struct {
	entries map[uint8]Entry
}

// Empty returns a Snapshot with no entries, suitable as the initial
// value before the aggregator's first flush.
func Empty() *Snapshot { return &Snapshot{entries: map[uint8]Entry{}} }

// New builds a Snapshot from a fully-populated entries map. The
// caller must not retain a reference to the map afterwards.
func New(entries map[uint8]Entry) *Snapshot {
	return &Snapshot{entries: entries}
}

// Get returns the Entry for id and whether it was present. A backend
// the aggregator has never seen an event for is absent; one it has seen
// but with no completed requests yet has a zero-valued Entry. Callers
// that need defaults (e.g. the adaptive strategy) handle both the
// ok=false case and a zero AvgLatencyMs explicitly.
func (s *Snapshot) Get(id uint8) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

// Len reports how many backends have an entry.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}
