// Package registry tracks in-flight uploads by artifact key.
package registry

import (
	"errors"
	"sync"
)

// ErrAlreadyActive is returned by Start when the key already has a live upload.
var ErrAlreadyActive = errors.New("registry: upload already active for key")

// Registry maps artifact keys to active upload handles. At most one handle
// is live per key; a second Start for the same key is rejected.
type Registry[H any] struct {
	mu      sync.RWMutex
	entries map[string]H
}

// New creates an empty registry.
func New[H any]() *Registry[H] {
	return &Registry[H]{entries: make(map[string]H)}
}

// Start registers handle under key.
func (r *Registry[H]) Start(key string, handle H) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return ErrAlreadyActive
	}
	r.entries[key] = handle
	return nil
}

// Complete removes the entry for key after a successful upload.
func (r *Registry[H]) Complete(key string) {
	r.remove(key)
}

// Fail removes the entry for key after a failed upload.
func (r *Registry[H]) Fail(key string) {
	r.remove(key)
}

func (r *Registry[H]) remove(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// Get returns the live handle for key.
func (r *Registry[H]) Get(key string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[key]
	return h, ok
}

// Has reports whether key has a live upload.
func (r *Registry[H]) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Len returns the number of live uploads.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
