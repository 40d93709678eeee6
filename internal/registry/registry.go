package registry

import (
	"fmt"
	"sync"

	"github.com/drill-ssh/drill/internal/tunnel"
	"github.com/google/uuid"
)

// Registry holds the ordered collection of tunnel records. It does not
// touch processes: removing a tunnel that is still forwarding is the
// caller's contract violation, so callers stop first, then remove.
type Registry struct {
	mu      sync.RWMutex
	tunnels []tunnel.Tunnel
	store   Store
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

// Load replaces the in-memory list with the store contents.
// A missing backing store yields an empty list, not an error.
func (r *Registry) Load() error {
	ts, err := r.store.Load()
	if err != nil {
		return tunnel.NewError(tunnel.KindPersistenceFailure, "", err)
	}
	r.mu.Lock()
	r.tunnels = ts
	r.mu.Unlock()
	return nil
}

// Save overwrites the backing store with the current list.
func (r *Registry) Save() error {
	r.mu.RLock()
	ts := append([]tunnel.Tunnel(nil), r.tunnels...)
	r.mu.RUnlock()
	if err := r.store.Save(ts); err != nil {
		return tunnel.NewError(tunnel.KindPersistenceFailure, "", err)
	}
	return nil
}

// List returns a copy of the registered tunnels in order.
func (r *Registry) List() []tunnel.Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]tunnel.Tunnel(nil), r.tunnels...)
}

// Get returns the tunnel with the given name.
func (r *Registry) Get(name string) (tunnel.Tunnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tunnels {
		if t.Name == name {
			return t, nil
		}
	}
	return tunnel.Tunnel{}, tunnel.Errorf(tunnel.KindRegistryNotFound, name, "not registered")
}

// Add validates t, assigns a fresh id, and appends it. Names must be
// unique at any instant.
func (r *Registry) Add(t tunnel.Tunnel) (tunnel.Tunnel, error) {
	if err := t.Validate(); err != nil {
		return tunnel.Tunnel{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tunnels {
		if existing.Name == t.Name {
			return tunnel.Tunnel{}, fmt.Errorf("tunnel %q already exists", t.Name)
		}
	}
	t.ID = uuid.NewString()
	r.tunnels = append(r.tunnels, t)
	return t, nil
}

// Update replaces the tunnel with the given id, preserving the id.
func (r *Registry) Update(id string, t tunnel.Tunnel) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tunnels {
		if r.tunnels[i].ID == id {
			t.ID = id
			r.tunnels[i] = t
			return nil
		}
	}
	return tunnel.Errorf(tunnel.KindRegistryNotFound, t.Name, "no tunnel with id %s", id)
}

// Remove deletes the named tunnel from the list. The caller must have
// stopped any active handle first; the registry leaves the order of the
// remaining tunnels intact and the list unchanged on error.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.tunnels {
		if t.Name == name {
			r.tunnels = append(r.tunnels[:i], r.tunnels[i+1:]...)
			return nil
		}
	}
	return tunnel.Errorf(tunnel.KindRegistryNotFound, name, "not registered")
}

// Len reports the number of registered tunnels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}
