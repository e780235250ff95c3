// Package session maps vehicle ids to their currently open message channels
// so threat notifications can be pushed to the counterpart vehicle.
package session

import "sync"

// Channel is an open bidirectional message channel to one connected client.
// Send must be safe to call after the underlying connection has closed
// (a no-op or an error, never a panic).
type Channel interface {
	Send(v interface{}) error
}

// Registry is the process-local binding of vehicle id to channel. A vehicle's
// binding follows its most recent telemetry message: a new message from the
// same id over a different channel silently overrides the previous binding.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Channel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Channel)}
}

// Bind associates id with ch, replacing any prior binding.
func (r *Registry) Bind(id string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = ch
}

// Lookup returns the channel currently bound to id.
func (r *Registry) Lookup(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[id]
	return ch, ok
}

// RemoveChannel drops every binding that points at ch. Called when a
// connection closes; ids bound to other channels are untouched.
func (r *Registry) RemoveChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, bound := range r.byID {
		if bound == ch {
			delete(r.byID, id)
		}
	}
}

// Len reports the number of active bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
