package transcoder

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-fmu/errors"
)

// ListOf returns the WIT type list<T> for a codec's element type.
func ListOf[T any](c Codec[T]) wit.Type {
	return &wit.TypeDef{Kind: &wit.List{Type: c.Type()}}
}

// Lower copies vals into a freshly allocated guest list and returns its
// (ptr, len). An empty slice lowers to (0, 0) without allocating.
// Allocations are recorded in allocs; the caller frees them on failure.
func Lower[T any](c Codec[T], vals []T, mem Memory, alloc Allocator, allocs *AllocationList) (uint32, uint32, error) {
	if len(vals) == 0 {
		return 0, 0, nil
	}
	layout := c.Layout()
	total := uint64(len(vals)) * uint64(layout.Size)
	if total > math.MaxUint32 {
		return 0, 0, errors.Overflow(errors.PhaseEncode, total, "u32 list size")
	}

	buf := make([]byte, total)
	for i, v := range vals {
		off := uint32(i) * layout.Size
		if err := c.Put(buf[off:off+layout.Size], v, mem, alloc, allocs); err != nil {
			return 0, 0, err
		}
	}

	ptr, err := alloc.Alloc(uint32(total), layout.Align)
	if err != nil {
		return 0, 0, err
	}
	allocs.Add(ptr, uint32(total), layout.Align)
	if err := mem.Write(ptr, buf); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(vals)), nil
}

// LiftInto decodes the guest list at (ptr, n) into dst element by element.
// dst must have exactly n elements.
func LiftInto[T any](c Codec[T], mem Memory, ptr, n uint32, dst []T) error {
	if uint32(len(dst)) != n {
		return errors.New(errors.PhaseDecode, errors.KindLengthMismatch).
			Detail("guest returned %d values, %d requested", n, len(dst)).
			Build()
	}
	if n == 0 {
		return nil
	}
	layout := c.Layout()
	total := uint64(n) * uint64(layout.Size)
	if total > math.MaxUint32 {
		return errors.Overflow(errors.PhaseDecode, total, "u32 list size")
	}
	view, err := mem.Read(ptr, uint32(total))
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		off := i * layout.Size
		v, err := c.Get(view[off:off+layout.Size], mem)
		if err != nil {
			var e *errors.Error
			if errors.As(err, &e) && e.Path == nil {
				e.Path = []string{strconv.Itoa(int(i))}
			}
			return err
		}
		dst[i] = v
	}
	return nil
}

// ReadRetPtr reads the (ptr, len) pair a list-returning export wrote at retptr.
func ReadRetPtr(mem Memory, retptr uint32) (uint32, uint32, error) {
	view, err := mem.Read(retptr, 8)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(view[0:]), binary.LittleEndian.Uint32(view[4:]), nil
}

// Spill stores flat arguments as a tuple in guest memory and returns its
// address. The types must be i32 or i64/f64 core values, which is the case
// for handles and lists.
func Spill(flat []uint64, types []api.ValueType, mem Memory, alloc Allocator, allocs *AllocationList) (uint32, error) {
	if len(flat) != len(types) {
		return 0, errors.InvalidInput(errors.PhaseEncode, "spill: %d values for %d types", len(flat), len(types))
	}
	var size, align uint32 = 0, 1
	offsets := make([]uint32, len(types))
	for i, t := range types {
		n := uint32(4)
		if t == api.ValueTypeI64 || t == api.ValueTypeF64 {
			n = 8
		}
		size = AlignTo(size, n)
		offsets[i] = size
		size += n
		if n > align {
			align = n
		}
	}
	size = AlignTo(size, align)

	buf := make([]byte, size)
	for i, t := range types {
		if t == api.ValueTypeI64 || t == api.ValueTypeF64 {
			binary.LittleEndian.PutUint64(buf[offsets[i]:], flat[i])
		} else {
			binary.LittleEndian.PutUint32(buf[offsets[i]:], uint32(flat[i]))
		}
	}

	ptr, err := alloc.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	allocs.Add(ptr, size, align)
	if err := mem.Write(ptr, buf); err != nil {
		return 0, err
	}
	return ptr, nil
}
