// Package connections is the client's view of the relationships the local
// user takes part in, as last reported by the server.
package connections

import (
	"sync"

	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// Registry holds connections keyed by key_id. Adding a connection that is
// already known updates it in place, so a repeated verification never
// produces a duplicate entry.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]wire.Connection
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]wire.Connection)}
}

// Add inserts or updates c. It reports whether c was new.
func (r *Registry) Add(c wire.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.byKey[c.KeyID]
	if !known {
		r.order = append(r.order, c.KeyID)
	}
	r.byKey[c.KeyID] = c
	return !known
}

// Replace swaps the whole view for a fresh server listing.
func (r *Registry) Replace(list []wire.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKey = make(map[string]wire.Connection, len(list))
	r.order = r.order[:0]
	for _, c := range list {
		if _, dup := r.byKey[c.KeyID]; !dup {
			r.order = append(r.order, c.KeyID)
		}
		r.byKey[c.KeyID] = c
	}
}

func (r *Registry) Get(keyID string) (wire.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byKey[keyID]
	return c, ok
}

func (r *Registry) Remove(keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[keyID]; !ok {
		return
	}
	delete(r.byKey, keyID)
	kept := r.order[:0]
	for _, id := range r.order {
		if id != keyID {
			kept = append(kept, id)
		}
	}
	r.order = kept
}

// List returns all connections in the order they were first seen.
func (r *Registry) List() []wire.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]wire.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byKey[id])
	}
	return out
}

// Active returns the connections whose stored status is active.
func (r *Registry) Active() []wire.Connection {
	var out []wire.Connection
	for _, c := range r.List() {
		if keys.Status(c.Status) == keys.StatusActive {
			out = append(out, c)
		}
	}
	return out
}

// ActiveFor returns the active connection with the given counterpart, used
// to route new encryptions to the current key after a rotation.
func (r *Registry) ActiveFor(counterpart string) (wire.Connection, bool) {
	for _, c := range r.Active() {
		if wire.SameIdentity(c.PatientID, counterpart) || wire.SameIdentity(c.DoctorID, counterpart) {
			return c, true
		}
	}
	return wire.Connection{}, false
}
