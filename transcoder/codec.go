package transcoder

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-fmu/errors"
)

// Codec converts one list element between its Go form and its canonical
// in-memory form.
type Codec[T any] interface {
	// Type returns the element's WIT type.
	Type() wit.Type
	// Layout returns the element's size and alignment.
	Layout() Layout
	// Put encodes v into dst, which is exactly Layout().Size bytes.
	// Out-of-line data is allocated through alloc and recorded in allocs.
	Put(dst []byte, v T, mem Memory, alloc Allocator, allocs *AllocationList) error
	// Get decodes one element from src. Returned values never alias guest memory.
	Get(src []byte, mem Memory) (T, error)
}

// Element layouts, derived once from the element types.
var (
	u64Layout    = LayoutOf(wit.U64{})
	s32Layout    = LayoutOf(wit.S32{})
	f64Layout    = LayoutOf(wit.F64{})
	boolLayout   = LayoutOf(wit.Bool{})
	stringLayout = LayoutOf(wit.String{})
	pairLayout   = LayoutOf(pairCodec{}.Type())
)

type u64Codec struct{}

// U64 encodes value references.
var U64 Codec[uint64] = u64Codec{}

func (u64Codec) Type() wit.Type { return wit.U64{} }
func (u64Codec) Layout() Layout { return u64Layout }

func (u64Codec) Put(dst []byte, v uint64, _ Memory, _ Allocator, _ *AllocationList) error {
	binary.LittleEndian.PutUint64(dst, v)
	return nil
}

func (u64Codec) Get(src []byte, _ Memory) (uint64, error) {
	return binary.LittleEndian.Uint64(src), nil
}

type s32Codec struct{}

// S32 encodes integer variables.
var S32 Codec[int32] = s32Codec{}

func (s32Codec) Type() wit.Type { return wit.S32{} }
func (s32Codec) Layout() Layout { return s32Layout }

func (s32Codec) Put(dst []byte, v int32, _ Memory, _ Allocator, _ *AllocationList) error {
	binary.LittleEndian.PutUint32(dst, uint32(v))
	return nil
}

func (s32Codec) Get(src []byte, _ Memory) (int32, error) {
	return int32(binary.LittleEndian.Uint32(src)), nil
}

type f64Codec struct{}

// F64 encodes real variables.
var F64 Codec[float64] = f64Codec{}

func (f64Codec) Type() wit.Type { return wit.F64{} }
func (f64Codec) Layout() Layout { return f64Layout }

func (f64Codec) Put(dst []byte, v float64, _ Memory, _ Allocator, _ *AllocationList) error {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
	return nil
}

func (f64Codec) Get(src []byte, _ Memory) (float64, error) {
	return math.Float64frombits(binary.LittleEndian.Uint64(src)), nil
}

type boolCodec struct{}

// Bool encodes boolean variables as one byte.
var Bool Codec[bool] = boolCodec{}

func (boolCodec) Type() wit.Type { return wit.Bool{} }
func (boolCodec) Layout() Layout { return boolLayout }

func (boolCodec) Put(dst []byte, v bool, _ Memory, _ Allocator, _ *AllocationList) error {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
	return nil
}

func (boolCodec) Get(src []byte, _ Memory) (bool, error) {
	return src[0] != 0, nil
}

type stringCodec struct{}

// String encodes UTF-8 strings as (ptr, len).
var String Codec[string] = stringCodec{}

func (stringCodec) Type() wit.Type { return wit.String{} }
func (stringCodec) Layout() Layout { return stringLayout }

func (stringCodec) Put(dst []byte, v string, mem Memory, alloc Allocator, allocs *AllocationList) error {
	ptr, err := putString(v, mem, alloc, allocs)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst[0:], ptr)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(v)))
	return nil
}

func (stringCodec) Get(src []byte, mem Memory) (string, error) {
	return getString(src, mem)
}

type pairCodec struct{}

// Pair encodes tuple<string, string>, the element of a configuration mapping.
var Pair Codec[[2]string] = pairCodec{}

func (pairCodec) Type() wit.Type {
	return &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.String{}, wit.String{}}}}
}

func (pairCodec) Layout() Layout { return pairLayout }

func (pairCodec) Put(dst []byte, v [2]string, mem Memory, alloc Allocator, allocs *AllocationList) error {
	if err := String.Put(dst[0:8], v[0], mem, alloc, allocs); err != nil {
		return err
	}
	return String.Put(dst[8:16], v[1], mem, alloc, allocs)
}

func (pairCodec) Get(src []byte, mem Memory) ([2]string, error) {
	k, err := getString(src[0:8], mem)
	if err != nil {
		return [2]string{}, err
	}
	v, err := getString(src[8:16], mem)
	if err != nil {
		return [2]string{}, err
	}
	return [2]string{k, v}, nil
}

func putString(s string, mem Memory, alloc Allocator, allocs *AllocationList) (uint32, error) {
	if len(s) == 0 {
		return 0, nil
	}
	if uint64(len(s)) > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseEncode, len(s), "u32 string length")
	}
	ptr, err := alloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, err
	}
	allocs.Add(ptr, uint32(len(s)), 1)
	if err := mem.Write(ptr, []byte(s)); err != nil {
		return 0, err
	}
	return ptr, nil
}

func getString(src []byte, mem Memory) (string, error) {
	ptr := binary.LittleEndian.Uint32(src[0:])
	n := binary.LittleEndian.Uint32(src[4:])
	if n == 0 {
		return "", nil
	}
	data, err := mem.Read(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, nil, data)
	}
	// string(data) copies out of guest memory.
	return string(data), nil
}
