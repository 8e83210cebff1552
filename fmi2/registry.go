package fmi2

import (
	"sync"
)

// Handle identifies a live instance across the C ABI. Zero is never valid.
type Handle uint32

// Registry maps handles to live instances. Freed handles are reused.
// It is safe for concurrent use.
type Registry struct {
	entries  []*Instance
	freeList []Handle
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make([]*Instance, 0, 8),
		freeList: make([]Handle, 0, 4),
	}
}

// Insert stores inst and returns its handle, or 0 for a nil instance.
func (r *Registry) Insert(inst *Instance) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst == nil {
		return 0
	}
	if n := len(r.freeList); n > 0 {
		h := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.entries[h-1] = inst
		return h
	}
	r.entries = append(r.entries, inst)
	return Handle(len(r.entries))
}

// Get returns the instance behind h.
func (r *Registry) Get(h Handle) (*Instance, bool) {
	if h == 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(h) > len(r.entries) {
		return nil, false
	}
	inst := r.entries[h-1]
	return inst, inst != nil
}

// Remove drops h and returns its instance.
func (r *Registry) Remove(h Handle) (*Instance, bool) {
	if h == 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(h) > len(r.entries) {
		return nil, false
	}
	inst := r.entries[h-1]
	if inst == nil {
		return nil, false
	}
	r.entries[h-1] = nil
	r.freeList = append(r.freeList, h)
	return inst, true
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) - len(r.freeList)
}
