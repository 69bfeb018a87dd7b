// Package agent hosts the stateful runtime provider variant: a long-lived
// per-personality process that keeps its own conversation memory instead of
// receiving full history on every call.
package agent

import "sync"

// Registry keeps at most one resident runtime per personality hash for the
// process lifetime. Concurrent first requests for the same new hash run the
// factory exactly once.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	once    sync.Once
	runtime *Runtime
	err     error
}

// NewRegistry creates an empty runtime registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// GetOrCreate returns the resident runtime for a hash, invoking the factory
// on first sight. A failed factory is not cached so a later call can retry.
func (r *Registry) GetOrCreate(hash string, factory func() (*Runtime, error)) (*Runtime, error) {
	r.mu.Lock()
	entry, ok := r.entries[hash]
	if !ok {
		entry = &registryEntry{}
		r.entries[hash] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.runtime, entry.err = factory()
		if entry.err != nil {
			r.mu.Lock()
			delete(r.entries, hash)
			r.mu.Unlock()
		}
	})
	return entry.runtime, entry.err
}

// Len reports how many runtimes are resident.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
