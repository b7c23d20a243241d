// Package registry implements the Worker Registry: the supervisor's live
// list of WAL receiver workers, preserving append order and keyed by worker
// ID rather than by process identifier (there is no fork in this design —
// see the concurrency model redesign notes).
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Entry is one registered WAL receiver worker.
type Entry struct {
	ID          string
	ServerName  string
	ServerIndex int
	Cancel      context.CancelFunc
}

// Registry is an ordered, append-order-preserving collection of Entry,
// keyed by ID. It replaces the original's PID linked list; a slice gives
// iteration order, a map gives O(1) lookup by ID. Removal also splices the
// ID out of the slice, so it is O(n) in the number of entries.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers a new worker and returns the generated ID.
func (r *Registry) Add(serverName string, serverIndex int, cancel context.CancelFunc) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.entries[id] = Entry{ID: id, ServerName: serverName, ServerIndex: serverIndex, Cancel: cancel}
	r.order = append(r.order, id)
	return id
}

// Remove cancels and removes the entry with the given ID. It reports
// whether an entry was found.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	if entry.Cancel != nil {
		entry.Cancel()
	}
	delete(r.entries, id)

	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// StopAll cancels every registered worker's context and clears the
// registry — the Go equivalent of "removal is sufficient, the child exits
// from its own signal handler": here, the worker goroutine exits when its
// context is cancelled.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok && entry.Cancel != nil {
			entry.Cancel()
		}
	}
	r.order = nil
	r.entries = make(map[string]Entry)
}

// List returns every registered entry in append order.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Len reports the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// ByServerIndex returns the entry registered for the given server index,
// if any. The invariant enforced elsewhere is that at most one registry
// entry carries a given server index at a time.
func (r *Registry) ByServerIndex(serverIndex int) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if e := r.entries[id]; e.ServerIndex == serverIndex {
			return e, true
		}
	}
	return Entry{}, false
}
