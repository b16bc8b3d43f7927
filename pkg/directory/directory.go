// Package directory implements the local connection directory (C6): a
// thread-safe list of locally-attached client connections (Portal+Agent),
// and a separate list for outward gateway connections.
package directory

import (
	"sync"

	"github.com/freitascorp/relaycore/pkg/connstate"
)

// Entry is one directory slot holding a connection's SocketState; Remove
// matches entries by pointer identity.
type Entry struct {
	State *connstate.SocketState
}

// Directory is a thread-safe append/remove list with snapshot and
// predicate-based lookup. The zero value is not usable; use New.
type Directory struct {
	mu      sync.RWMutex
	entries []*Entry
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{}
}

// Add appends a new connection entry.
func (d *Directory) Add(state *connstate.SocketState) *Entry {
	e := &Entry{State: state}
	d.mu.Lock()
	d.entries = append(d.entries, e)
	d.mu.Unlock()
	return e
}

// Remove deletes e from the directory, if present.
func (d *Directory) Remove(e *Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.entries {
		if existing == e {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the current entries so callers can iterate
// without holding the directory's lock.
func (d *Directory) Snapshot() []*Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// FirstWhere returns the first entry satisfying pred, or nil.
func (d *Directory) FirstWhere(pred func(*Entry) bool) *Entry {
	for _, e := range d.Snapshot() {
		if pred(e) {
			return e
		}
	}
	return nil
}

// Len reports the current entry count.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// GatewayDirectory is the separate list of outward (Service→Gateway)
// connections, each carrying its own recent-interest map.
type GatewayDirectory struct {
	Directory
}

// NewGateway returns an empty GatewayDirectory.
func NewGateway() *GatewayDirectory {
	return &GatewayDirectory{}
}

// WhereRelevantTo returns the gateway peers that are GatewayAuth and whose
// recent-interest map contains (tenant, clientID) — candidates for
// return-path routing of a message addressed to that client.
func (g *GatewayDirectory) WhereRelevantTo(tenant, clientID string) []*Entry {
	var out []*Entry
	for _, e := range g.Snapshot() {
		if e.State.State() != connstate.GatewayAuth {
			continue
		}
		im := e.State.InterestMap
		if im == nil {
			continue
		}
		if im.Contains(tenant, clientID) {
			out = append(out, e)
		}
	}
	return out
}

// FindByClientID returns the authenticated gateway-role peer connection
// whose clientId equals id, or nil. Used when the caller already knows the
// specific peer node's instance id (e.g. a Gateway routing to a named
// Service node) rather than relying on recent-interest.
func (g *GatewayDirectory) FindByClientID(id string) *Entry {
	return g.FirstWhere(func(e *Entry) bool {
		return e.State.State() == connstate.GatewayAuth && e.State.ClientID() == id
	})
}
