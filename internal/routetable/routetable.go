// Package routetable implements the ordered, indexable collection of
// backends that the proxy and strategies read. A Table is built once
// and never mutated in place — reconfiguration builds a new Table and
// swaps it in atomically on the Context (see internal/lbcontext).
package routetable

import "l4lb/internal/backend"

// Table is an immutable, ordered list of backends. Every id appears at
// most once. Lookup by id goes through a map and lookup by index is
// O(1).
type Table struct {
	backends []*backend.Backend
	byID     map[uint8]int
}

// New builds a Table from an ordered slice of backends. The caller
// retains ownership of the slice header but must not mutate it after
// this call — Table takes a private copy of the index.
func New(backends []*backend.Backend) *Table {
	byID := make(map[uint8]int, len(backends))
	for i, b := range backends {
		byID[b.ID] = i
	}
	cp := make([]*backend.Backend, len(backends))
	copy(cp, backends)
	return &Table{backends: cp, byID: byID}
}

// Len returns the number of backends in the table.
func (t *Table) Len() int { return len(t.backends) }

// IsEmpty reports whether the table has no backends.
func (t *Table) IsEmpty() bool { return len(t.backends) == 0 }

// GetByID returns the backend with the given id, or nil if absent.
func (t *Table) GetByID(id uint8) *backend.Backend {
	idx, ok := t.byID[id]
	if !ok {
		return nil
	}
	return t.backends[idx]
}

// FindIndex returns the index of the backend with the given id, or -1.
func (t *Table) FindIndex(id uint8) int {
	idx, ok := t.byID[id]
	if !ok {
		return -1
	}
	return idx
}

// Contains reports whether a backend with the given id exists.
func (t *Table) Contains(id uint8) bool {
	_, ok := t.byID[id]
	return ok
}

// At returns the backend at the given index. The index must be in
// [0, Len()).
func (t *Table) At(i int) *backend.Backend { return t.backends[i] }

// Iter returns the full backend slice in table order. Callers must
// treat it as read-only.
func (t *Table) Iter() []*backend.Backend { return t.backends }

// BackendIDs returns the ids of every backend, in table order.
func (t *Table) BackendIDs() []uint8 {
	ids := make([]uint8, len(t.backends))
	for i, b := range t.backends {
		ids[i] = b.ID
	}
	return ids
}

// FilterHealthy returns the subset of backends that currently report
// alive, preserving table order. It does not consider the draining
// flag; no strategy reads it either, and the proxy's admission path
// checks backend.CanAcceptNew on the picked backend instead.
func (t *Table) FilterHealthy() []*backend.Backend {
	out := make([]*backend.Backend, 0, len(t.backends))
	for _, b := range t.backends {
		if b.IsAlive() {
			out = append(out, b)
		}
	}
	return out
}
