package main

/*
#include <stdlib.h>
*/
import "C"

import "unsafe"

const cChunkSize = 4096

// cSlab is an arena.Allocator over C memory, so strings handed to the host
// are never moved or collected by the Go runtime.
type cSlab struct {
	chunks []unsafe.Pointer
	large  []unsafe.Pointer
	cur    int
	off    int
}

func (s *cSlab) Alloc(n int) []byte {
	if n > cChunkSize {
		p := C.malloc(C.size_t(n))
		s.large = append(s.large, p)
		return unsafe.Slice((*byte)(p), n)
	}
	for s.cur < len(s.chunks) {
		if s.off+n <= cChunkSize {
			b := unsafe.Slice((*byte)(unsafe.Add(s.chunks[s.cur], s.off)), n)
			s.off += n
			return b
		}
		s.cur++
		s.off = 0
	}
	s.chunks = append(s.chunks, C.malloc(cChunkSize))
	s.cur = len(s.chunks) - 1
	s.off = n
	return unsafe.Slice((*byte)(s.chunks[s.cur]), n)
}

func (s *cSlab) Reset() {
	for _, p := range s.large {
		C.free(p)
	}
	s.large = nil
	s.cur = 0
	s.off = 0
}

func (s *cSlab) Release() {
	s.Reset()
	for _, p := range s.chunks {
		C.free(p)
	}
	s.chunks = nil
}
