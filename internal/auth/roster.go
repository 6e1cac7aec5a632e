package auth

import (
	"errors"
	"sync"
)

// Principal is an authenticated caller with a resolved role.
type Principal struct {
	// ID is the stable identifier (account id for players, service
	// subject for agents).
	ID string
	// Name is the display name.
	Name string
	// Role is the resolved privilege level.
	Role Role
	// ConnID identifies the originating bridge connection, empty for
	// principals without one.
	ConnID string
}

// Guest returns the anonymous guest principal for an unauthenticated
// connection.
func Guest(connID string) *Principal {
	return &Principal{ID: "", Name: "guest", Role: RoleGuest, ConnID: connID}
}

// ErrPrincipalNotFound is returned when a roster lookup yields no
// connected principal.
var ErrPrincipalNotFound = errors.New("principal not found")

// Roster tracks the currently connected principals. Identity resolution
// (name↔id) consults this live set, never token claims.
// All methods are safe for concurrent use.
type Roster struct {
	mu     sync.RWMutex
	byID   map[string]*Principal
	byName map[string]string // display name → id
}

// NewRoster creates an empty Roster.
func NewRoster() *Roster {
	return &Roster{
		byID:   make(map[string]*Principal),
		byName: make(map[string]string),
	}
}

// Add registers a principal. A reconnecting principal with the same id
// replaces its prior entry.
//
// Precondition: p must be non-nil with a non-empty ID.
func (r *Roster) Add(p *Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[p.ID]; ok {
		delete(r.byName, prev.Name)
	}
	r.byID[p.ID] = p
	if p.Name != "" {
		r.byName[p.Name] = p.ID
	}
}

// Remove drops a principal from the roster. Unknown ids are a no-op.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byName, p.Name)
}

// Get returns the connected principal with the given id.
//
// Postcondition: Returns the Principal or ErrPrincipalNotFound.
func (r *Roster) Get(id string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return p, nil
}

// ResolveName returns the id of the connected principal with the given
// display name.
//
// Postcondition: Returns the id or ErrPrincipalNotFound.
func (r *Roster) ResolveName(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return "", ErrPrincipalNotFound
	}
	return id, nil
}

// ResolveID returns the display name of the connected principal with
// the given id.
//
// Postcondition: Returns the name or ErrPrincipalNotFound.
func (r *Roster) ResolveID(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return "", ErrPrincipalNotFound
	}
	return p.Name, nil
}

// All returns a snapshot of all connected principals in no particular
// order.
func (r *Roster) All() []*Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Principal, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

// Count returns the number of connected principals.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
