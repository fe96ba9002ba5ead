package lbcontext

import (
	"l4lb/internal/backend"
	"l4lb/internal/routetable"
)

// BackendSpec is the minimal description needed to construct a
// backend.Backend — the shape both the initial startup path and a
// reconfiguration's migration path build from. It intentionally
// mirrors config.BackendCfg rather than importing it, keeping
// lbcontext free of a dependency on the config package.
type BackendSpec struct {
	ID      uint8
	Name    string
	Address string
	Weight  int
}

// BuildRouteTable constructs a fresh route table from specs. Every
// backend starts alive (spec.md §9 open question 1): a freshly added
// backend is eligible for traffic before its first probe.
func BuildRouteTable(specs []BackendSpec) *routetable.Table {
	backends := make([]*backend.Backend, len(specs))
	for i, s := range specs {
		backends[i] = backend.New(s.ID, s.Name, s.Address, s.Weight)
	}
	return routetable.New(backends)
}

// MigrationResult summarizes what a Migrate call did, for logging.
type MigrationResult struct {
	SurvivingIDs []uint8
	AddedIDs     []uint8
	RemovedIDs   []uint8
}

// Migrate atomically replaces the route table with one built from
// specs, carrying forward each surviving backend's active-connection
// count (spec.md §4.7 steps 1-4 and §3's migration invariant: "the sum
// of migrated active_connections equals the sum of pre-migration
// active_connections restricted to backends that survived"). When
// preserveHealth is true, a surviving backend's alive flag is also
// carried forward instead of the new backend's default of alive=true;
// when it is false, every entry of the new table starts healthy.
// Backends added by the migration start alive=true either way (§9 open
// question 1). The loadbalancer's reload path passes true.
func (c *Context) Migrate(specs []BackendSpec, preserveHealth bool) MigrationResult {
	oldTable := c.RouteTable()

	newBackends := make([]*backend.Backend, len(specs))
	for i, s := range specs {
		newBackends[i] = backend.New(s.ID, s.Name, s.Address, s.Weight)
	}

	var result MigrationResult
	oldIDs := make(map[uint8]bool, oldTable.Len())
	for _, b := range oldTable.Iter() {
		oldIDs[b.ID] = true
	}

	newIDs := make(map[uint8]bool, len(newBackends))
	for _, nb := range newBackends {
		newIDs[nb.ID] = true
		if old := oldTable.GetByID(nb.ID); old != nil {
			nb.RestoreMigratedConnectionCount(old.ActiveConnections())
			if preserveHealth {
				nb.SetHealth(old.IsAlive(), old.LastHealthCheckMs())
			}
			result.SurvivingIDs = append(result.SurvivingIDs, nb.ID)
		} else {
			result.AddedIDs = append(result.AddedIDs, nb.ID)
		}
	}
	for id := range oldIDs {
		if !newIDs[id] {
			result.RemovedIDs = append(result.RemovedIDs, id)
		}
	}

	// Single atomic pointer swap: readers between the old and new
	// table never observe a half-built table (spec.md §4.7).
	c.SwapRouteTable(routetable.New(newBackends))
	// The connection counters moved with their backends, but record a
	// version bump so any cached adaptive score is invalidated too.
	c.connVersion.Add(1)

	return result
}
