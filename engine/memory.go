package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmfmu "github.com/wippyai/wasm-fmu"
	"github.com/wippyai/wasm-fmu/errors"
)

// Memory wraps guest linear memory to implement wasmfmu.Memory.
type Memory struct {
	mem api.Memory
}

// NewMemory wraps the memory exported by mod, or returns nil when mod has none.
func NewMemory(mod api.Module) *Memory {
	mem := mod.Memory()
	if mem == nil {
		return nil
	}
	return &Memory{mem: mem}
}

// Read returns a view of guest memory. The view is invalidated by the next
// guest call, which may grow or rewrite memory.
func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseDecode, offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseEncode, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseDecode, offset, 4)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseEncode, offset, 4)
	}
	return nil
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Allocator allocates guest memory through the guest's exported allocator.
type Allocator struct {
	allocFn  api.Function
	freeFn   api.Function
	isSimple bool
}

// NewAllocator looks up the allocator exported by mod: cabi_realloc first,
// then legacy names.
func NewAllocator(mod api.Module) *Allocator {
	defs := mod.ExportedFunctionDefinitions()
	a := &Allocator{}
	for _, name := range []string{CabiRealloc, legacyRealloc, legacyAlloc, simpleAlloc} {
		def, ok := defs[name]
		if !ok {
			continue
		}
		// the export key, not def.Name(): stripped modules carry no name section
		a.allocFn = mod.ExportedFunction(name)
		a.isSimple = len(def.ParamTypes()) < 4
		break
	}

	for _, name := range []string{CabiFree, legacyDealloc, simpleFree} {
		if fn := mod.ExportedFunction(name); fn != nil {
			a.freeFn = fn
			break
		}
	}
	return a
}

// Available reports whether the guest exports an allocator.
func (a *Allocator) Available() bool {
	return a.allocFn != nil
}

// WithContext binds the allocator to the context of the current call.
func (a *Allocator) WithContext(ctx context.Context) wasmfmu.Allocator {
	return &boundAllocator{a: a, ctx: ctx}
}

type boundAllocator struct {
	a     *Allocator
	ctx   context.Context
	stack [4]uint64
}

func (b *boundAllocator) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	if b.a.allocFn == nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, align, fmt.Errorf("no allocator exported"))
	}

	if b.a.isSimple {
		b.stack[0] = uint64(size)
		if err := b.a.allocFn.CallWithStack(b.ctx, b.stack[:1]); err != nil {
			return 0, errors.AllocationFailed(errors.PhaseEncode, size, align, err)
		}
		return uint32(b.stack[0]), nil
	}

	b.stack[0] = 0
	b.stack[1] = 0
	b.stack[2] = uint64(align)
	b.stack[3] = uint64(size)
	if err := b.a.allocFn.CallWithStack(b.ctx, b.stack[:4]); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, align, err)
	}
	ptr := uint32(b.stack[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, align, nil)
	}
	return ptr, nil
}

func (b *boundAllocator) Free(ptr, size, align uint32) {
	if b.a.freeFn == nil || ptr == 0 {
		return
	}
	b.stack[0] = uint64(ptr)
	b.stack[1] = uint64(size)
	b.stack[2] = uint64(align)
	if err := b.a.freeFn.CallWithStack(b.ctx, b.stack[:3]); err != nil {
		Logger().Warn("Free: failed to release guest memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// Compile-time check that Memory implements wasmfmu.Memory and MemorySizer
var _ wasmfmu.Memory = (*Memory)(nil)
var _ wasmfmu.MemorySizer = (*Memory)(nil)

// Compile-time check that boundAllocator implements wasmfmu.Allocator
var _ wasmfmu.Allocator = (*boundAllocator)(nil)
