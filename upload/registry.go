package upload

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyActive is returned when an attempt is started for an ID that
// already has an active attempt. Only one controller may drive a unit.
var ErrAlreadyActive = errors.New("transfer is already active")

// DefaultRegistry is the process-wide registry used by clients that are not
// given one explicitly.
var DefaultRegistry = NewRegistry()

// Registry maps transfer IDs to the cancel handle of their active attempt.
type Registry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewRegistry ...
func NewRegistry() *Registry {
	return &Registry{entries: map[string]context.CancelFunc{}}
}

// Register adds id with its cancel handle. It fails with ErrAlreadyActive if
// id is already registered.
func (r *Registry) Register(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrAlreadyActive
	}
	r.entries[id] = cancel
	return nil
}

// Cancel invokes the cancel handle of id and reports whether it was active.
// The entry stays registered until its owner unregisters it.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.entries[id]
	if !ok {
		return false
	}
	cancel()
	return true
}

// Unregister removes id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// IsActive ...
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[id]
	return ok
}
