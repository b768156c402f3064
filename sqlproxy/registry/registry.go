// Package registry maps opaque string handles to shared, lock-protected
// resource entries.
//
// A Registry has two levels of locking. The map itself is guarded by a mutex
// that is held only while inserting, removing, or looking up a handle. Each
// Entry carries its own mutex, held for the whole of an operation on that
// resource, so that operations on one handle are serialized while operations
// on different handles proceed in parallel.
//
// Registries do not know about relationships between kinds. A handle derived
// from another (a statement from a connection, say) stores the parent's handle
// and must look it up again on every use.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// NewHandle returns a fresh random handle in canonical 36-character UUID form.
// Handles are never reused and carry no meaning beyond registry membership.
func NewHandle() string {
	return uuid.NewString()
}

// Entry holds one resource and serializes access to it.
type Entry[T any] struct {
	mu    sync.Mutex
	value T
	dead  bool
}

// Release waits for any in-flight operation on the entry, marks it dead so
// that waiters observe NotFound, and then runs fn with the value, still under
// the entry lock.
func (e *Entry[T]) Release(fn func(*T) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dead = true
	if fn == nil {
		return nil
	}
	return fn(&e.value)
}

// Registry is a concurrency-safe map from handle to Entry.
type Registry[T any] struct {
	kind    string
	mu      sync.Mutex
	entries map[string]*Entry[T]
}

// New creates an empty registry. The kind names the resource in errors.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]*Entry[T]),
	}
}

// Kind returns the resource name this registry was created with.
func (r *Registry[T]) Kind() string {
	return r.kind
}

// Insert stores value under handle, replacing nothing: handles come from
// NewHandle and are unique.
func (r *Registry[T]) Insert(handle string, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[handle] = &Entry[T]{value: value}
}

// With runs fn against the entry for handle while holding that entry's lock.
// The registry lock is not held while fn runs.
func (r *Registry[T]) With(handle string, fn func(*T) error) error {
	entry, err := r.lookup(handle)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.dead {
		return r.notFound(handle)
	}
	return fn(&entry.value)
}

// Remove detaches the entry for handle from the registry and returns it. The
// caller should Release the entry to free its resource.
func (r *Registry[T]) Remove(handle string) (*Entry[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[handle]
	if !ok {
		return nil, r.notFound(handle)
	}
	delete(r.entries, handle)
	return entry, nil
}

// Contains reports whether handle is currently registered.
func (r *Registry[T]) Contains(handle string) bool {
	_, err := r.lookup(handle)
	return err == nil
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry[T]) lookup(handle string) (*Entry[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[handle]
	if !ok {
		return nil, r.notFound(handle)
	}
	return entry, nil
}

func (r *Registry[T]) notFound(handle string) error {
	return fmt.Errorf("%s %q: %w", r.kind, handle, types.ErrNotFound)
}
