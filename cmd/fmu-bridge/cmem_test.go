//go:build cgo

package main

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/wippyai/wasm-fmu/arena"
)

func TestCSlab(t *testing.T) {
	s := &cSlab{}
	defer s.Release()

	a := arena.New(s)
	small := a.Put("hello")
	a.Put(strings.Repeat("x", cChunkSize+10))
	if b := *(*byte)(small); b != 'h' {
		t.Errorf("Put points at %q", b)
	}
	if b := *(*byte)(unsafe.Add(small, 5)); b != 0 {
		t.Errorf("missing NUL terminator: %#x", b)
	}
	if len(s.chunks) != 1 || len(s.large) != 1 {
		t.Errorf("chunks=%d large=%d", len(s.chunks), len(s.large))
	}

	a.Clear()
	if len(s.large) != 0 {
		t.Errorf("large allocations survived Clear: %d", len(s.large))
	}
	if again := a.Put("again"); again != small {
		t.Error("chunk not reused")
	}
	if len(s.chunks) != 1 {
		t.Errorf("chunks = %d", len(s.chunks))
	}
}
