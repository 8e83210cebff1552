package arena

import "unsafe"

// Arena is an ordered collection of NUL-terminated string copies.
// It is not safe for concurrent use.
type Arena struct {
	alloc  Allocator
	ptrs   []unsafe.Pointer
	clears int
}

// New creates an arena over alloc, or over a Slab when alloc is nil.
func New(alloc Allocator) *Arena {
	if alloc == nil {
		alloc = NewSlab()
	}
	return &Arena{alloc: alloc}
}

// Put stores a NUL-terminated copy of s and returns its address. The copy
// stays valid until the next Clear.
func (a *Arena) Put(s string) unsafe.Pointer {
	buf := a.alloc.Alloc(len(s) + 1)
	copy(buf, s)
	buf[len(s)] = 0
	p := unsafe.Pointer(&buf[0])
	a.ptrs = append(a.ptrs, p)
	return p
}

// Entry returns the address of the i-th string stored since the last Clear,
// or nil when there is no such entry.
func (a *Arena) Entry(i int) unsafe.Pointer {
	if i < 0 || i >= len(a.ptrs) {
		return nil
	}
	return a.ptrs[i]
}

// Clear invalidates every address handed out so far.
func (a *Arena) Clear() {
	a.alloc.Reset()
	clear(a.ptrs)
	a.ptrs = a.ptrs[:0]
	a.clears++
}

// Release clears the arena and frees its storage.
func (a *Arena) Release() {
	a.Clear()
	a.alloc.Release()
}

// Len returns the number of strings stored since the last Clear.
func (a *Arena) Len() int {
	return len(a.ptrs)
}

// Clears returns how many times the arena has been cleared.
func (a *Arena) Clears() int {
	return a.clears
}
