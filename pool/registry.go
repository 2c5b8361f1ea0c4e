package pool

import "sync"

// ID identifies a HostPool for as long as it is registered. IDs are never
// reused, so a stale ID can only miss.
type ID uint64

// Registry is the table of live pools. A connection stores its pool's ID
// instead of a pointer; releasing it is a lookup here.
type Registry struct {
	mu    sync.RWMutex
	pools map[ID]*HostPool
	next  ID
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[ID]*HostPool)}
}

// Create builds a pool for addr under a fresh ID and registers it.
func (r *Registry) Create(addr string, opts Options) *HostPool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	p := NewHostPool(r.next, addr, opts)
	r.pools[p.id] = p
	return p
}

func (r *Registry) Lookup(id ID) (*HostPool, bool) {
	r.mu.RLock()
	p, ok := r.pools[id]
	r.mu.RUnlock()
	return p, ok
}

func (r *Registry) Unregister(id ID) {
	r.mu.Lock()
	delete(r.pools, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
