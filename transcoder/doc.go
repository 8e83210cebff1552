// Package transcoder moves bridge values across the canonical ABI boundary.
//
// A Codec describes one element type: its WIT type, its memory layout and
// how an element is written to or read from guest memory. The list helpers
// build on codecs:
//
//	Lower     copies a Go slice into a guest list and returns (ptr, len)
//	LiftInto  copies a guest list into a caller-provided slice
//	ReadRetPtr reads the (ptr, len) pair a call returned through its retptr
//	Spill     writes flattened arguments to memory when they exceed
//	          MaxFlatParams
//
// Memory layout follows the canonical ABI:
//
//	Type            Size    Alignment
//	──────────────────────────────────
//	bool            1       1
//	s32             4       4
//	u64/f64         8       8
//	string          8       4 (ptr + len)
//	list<T>         8       4 (ptr + len)
//	tuple           sum     max field align
//
// FlatSignature derives the core wasm signature of an export from its WIT
// parameter and result types; bindings compare it against the guest's
// actual export before any call is made.
//
// Every guest allocation made while lowering is recorded in an
// AllocationList so that a failed lowering can free what it already wrote.
package transcoder
