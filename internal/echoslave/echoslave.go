// Package echoslave builds a co-simulation slave guest that stores every
// value written to it and echoes it back on read.
//
// Variables live in fixed tables of Slots entries per kind, indexed by value
// reference. A few references are reserved for observing the bridge:
//
//	integer 63   define hook invocations since construction
//	real    60   start time from setup-experiment
//	real    61   stop time from setup-experiment
//	real    62   tolerance from setup-experiment
//	real    63   t+dt of the last do-step
//	string  62   instanceName configuration value
//	string  63   resourceLocation configuration value
//
// do-step traps when dt <= 0. Every method traps when called with a handle
// other than the live one, or with a reference >= Slots.
package echoslave

import (
	"os"
	"path/filepath"

	"github.com/wippyai/wasm-fmu/internal/wasmgen"
)

const (
	// Class is the default qualified class name.
	Class = "example:echo/model#echo-slave"

	// BulkClass is the qualified name of the bulk result type.
	BulkClass = "fmu:export/bulk#bulk-read"

	// Slots is the number of references per kind.
	Slots = 64

	intBase   = 1024
	realBase  = intBase + Slots*4
	boolBase  = realBase + Slots*8
	strBase   = boolBase + Slots
	stateEnd  = strBase + Slots*8
	heapStart = 4096
)

// Exported counters, readable through api.Module.ExportedGlobal.
const (
	GlobalCalls       = "calls"
	GlobalBulkCalls   = "bulk_calls"
	GlobalDrops       = "drops"
	GlobalClosed      = "closed"
	GlobalPostReturns = "post_returns"
)

// Options selects the capabilities of the generated guest.
type Options struct {
	// Class overrides the qualified class name.
	Class string
	// Bulk exports get-all, set-all and the bulk-read accessors.
	Bulk bool
	// NoDtor omits the resource destructors.
	NoDtor bool
	// Omit lists method names that are not exported.
	Omit []string
	// Mismatch lists method names exported with a wrong core signature.
	Mismatch []string
	// Names emits a name section whose function names differ from the
	// export names, as toolchain builds do.
	Names bool
}

func (o Options) class() string {
	if o.Class == "" {
		return Class
	}
	return o.Class
}

func (o Options) omitted(method string) bool {
	for _, m := range o.Omit {
		if m == method {
			return true
		}
	}
	return false
}

func (o Options) mismatched(method string) bool {
	for _, m := range o.Mismatch {
		if m == method {
			return true
		}
	}
	return false
}

// WriteResources writes mainclass.txt and model.wasm into dir.
func WriteResources(dir string, opts Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "mainclass.txt"), []byte(opts.class()+"\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "model.wasm"), Build(opts), 0o644)
}

var (
	i32 = wasmgen.I32
	i64 = wasmgen.I64
	f64 = wasmgen.F64
)

func vals(v ...wasmgen.ValType) []wasmgen.ValType { return v }

func repeat(t wasmgen.ValType, n int) []wasmgen.ValType {
	out := make([]wasmgen.ValType, n)
	for i := range out {
		out[i] = t
	}
	return out
}

type builder struct {
	m    *wasmgen.Module
	opts Options
	pre  string
	res  string

	heap, cur, next                        uint32
	calls, bulkCalls, drops, closed, posts uint32

	alloc, check, slot, store, load, zero *wasmgen.Func
}

// Build encodes the guest module.
func Build(opts Options) []byte {
	iface, res := splitClass(opts.class())
	b := &builder{m: wasmgen.New(), opts: opts, pre: iface + "#", res: res}

	mem := b.m.AddMemory(2)
	b.m.ExportMemory("memory", mem)

	b.heap = b.m.AddGlobal(i32, true, heapStart)
	b.cur = b.m.AddGlobal(i32, true, 0)
	b.next = b.m.AddGlobal(i32, true, 0)
	b.calls = b.exportedCounter(GlobalCalls)
	b.bulkCalls = b.exportedCounter(GlobalBulkCalls)
	b.drops = b.exportedCounter(GlobalDrops)
	b.closed = b.exportedCounter(GlobalClosed)
	b.posts = b.exportedCounter(GlobalPostReturns)

	b.internals()
	b.lifecycle()
	b.accessors()
	if opts.Bulk {
		b.bulk()
	}
	return b.m.Encode()
}

func splitClass(class string) (string, string) {
	for i := len(class) - 1; i >= 0; i-- {
		if class[i] == '#' {
			return class[:i], class[i+1:]
		}
	}
	return class, class
}

func (b *builder) exportedCounter(name string) uint32 {
	g := b.m.AddGlobal(i32, true, 0)
	b.m.ExportGlobal(name, g)
	return g
}

func (b *builder) method(name string) string {
	return b.pre + "[method]" + b.res + "." + name
}

// export exports f under the method's name unless omitted. A mismatched
// method is exported as a stub with a different signature.
func (b *builder) export(method, name string, f *wasmgen.Func) {
	switch {
	case b.opts.omitted(method):
	case b.opts.mismatched(method):
		stub := b.m.NewFunc(vals(i64), nil)
		b.m.ExportFunc(name, stub)
	default:
		b.m.ExportFunc(name, f)
	}
}

func (b *builder) internals() {
	m := b.m

	// alloc(size) -> ptr: 8-aligned bump allocation, growing memory on demand.
	b.alloc = m.NewFunc(vals(i32), vals(i32))
	ptr := b.alloc.AddLocal(i32)
	end := b.alloc.AddLocal(i32)
	b.alloc.GlobalGet(b.heap).I32Const(7).I32Add().I32Const(-8).I32And().LocalSet(ptr).
		LocalGet(ptr).LocalGet(0).I32Add().LocalSet(end).
		Block().
		LocalGet(end).MemorySize().I32Const(16).I32Shl().I32LeU().BrIf(0).
		LocalGet(0).I32Const(16).I32ShrU().I32Const(1).I32Add().MemoryGrow().
		I32Const(-1).I32Eq().If().Unreachable().End().
		End().
		LocalGet(end).GlobalSet(b.heap).
		LocalGet(ptr)

	// cabi_realloc(old, oldSize, align, newSize) -> ptr, fresh allocations only.
	realloc := m.NewFunc(vals(i32, i32, i32, i32), vals(i32))
	realloc.LocalGet(3).Call(b.alloc)
	m.ExportFunc("cabi_realloc", realloc)
	if b.opts.Names {
		m.SetName(b.alloc, "bump_alloc")
		m.SetName(realloc, "guest_realloc_impl")
	}

	// check(self) traps unless self is the live handle.
	b.check = m.NewFunc(vals(i32), nil)
	b.check.LocalGet(0).I32Eqz().If().Unreachable().End().
		LocalGet(0).GlobalGet(b.cur).I32Ne().If().Unreachable().End().
		GlobalGet(b.calls).I32Const(1).I32Add().GlobalSet(b.calls)

	// slot(ref, base, size) -> address
	b.slot = m.NewFunc(vals(i64, i32, i32), vals(i32))
	b.slot.LocalGet(0).I64Const(Slots).I64GeU().If().Unreachable().End().
		LocalGet(0).I32WrapI64().LocalGet(2).I32Mul().LocalGet(1).I32Add()

	// store(refs, n, vals, vn, base, size)
	b.store = m.NewFunc(vals(i32, i32, i32, i32, i32, i32), nil)
	si := b.store.AddLocal(i32)
	b.store.LocalGet(1).LocalGet(3).I32Ne().If().Unreachable().End().
		Block().Loop().
		LocalGet(si).LocalGet(1).I32GeU().BrIf(1).
		LocalGet(0).LocalGet(si).I32Const(3).I32Shl().I32Add().I64Load(0).
		LocalGet(4).LocalGet(5).Call(b.slot).
		LocalGet(2).LocalGet(si).LocalGet(5).I32Mul().I32Add().
		LocalGet(5).
		MemoryCopy().
		LocalGet(si).I32Const(1).I32Add().LocalSet(si).
		Br(0).
		End().End()

	// load(refs, n, base, size) -> retptr to (ptr, len)
	b.load = m.NewFunc(vals(i32, i32, i32, i32), vals(i32))
	out := b.load.AddLocal(i32)
	li := b.load.AddLocal(i32)
	ret := b.load.AddLocal(i32)
	b.load.LocalGet(1).LocalGet(3).I32Mul().Call(b.alloc).LocalSet(out).
		I32Const(8).Call(b.alloc).LocalSet(ret).
		Block().Loop().
		LocalGet(li).LocalGet(1).I32GeU().BrIf(1).
		LocalGet(out).LocalGet(li).LocalGet(3).I32Mul().I32Add().
		LocalGet(0).LocalGet(li).I32Const(3).I32Shl().I32Add().I64Load(0).
		LocalGet(2).LocalGet(3).Call(b.slot).
		LocalGet(3).
		MemoryCopy().
		LocalGet(li).I32Const(1).I32Add().LocalSet(li).
		Br(0).
		End().End().
		LocalGet(ret).LocalGet(out).I32Store(0).
		LocalGet(ret).LocalGet(1).I32Store(4).
		LocalGet(ret)

	b.zero = m.NewFunc(nil, nil)
	b.zero.I32Const(intBase).I32Const(0).I32Const(stateEnd - intBase).MemoryFill()
}

func (b *builder) lifecycle() {
	m := b.m

	// constructor(config list<tuple<string,string>>) -> handle
	ctor := m.NewFunc(vals(i32, i32), vals(i32))
	ctor.Call(b.zero).
		GlobalGet(b.next).I32Const(1).I32Add().GlobalSet(b.next).
		GlobalGet(b.next).GlobalSet(b.cur).
		I32Const(0).GlobalSet(b.closed).
		LocalGet(1).I32Const(0).I32GtU().If().
		I32Const(strBase+62*8).LocalGet(0).I32Const(8).I32Add().I32Const(8).MemoryCopy().
		End().
		LocalGet(1).I32Const(1).I32GtU().If().
		I32Const(strBase+63*8).LocalGet(0).I32Const(24).I32Add().I32Const(8).MemoryCopy().
		End().
		GlobalGet(b.cur)
	b.export("constructor", b.pre+"[constructor]"+b.res, ctor)

	if !b.opts.NoDtor {
		dtor := m.NewFunc(vals(i32), nil)
		dtor.LocalGet(0).GlobalGet(b.cur).I32Eq().If().I32Const(0).GlobalSet(b.cur).End().
			GlobalGet(b.drops).I32Const(1).I32Add().GlobalSet(b.drops)
		m.ExportFunc(b.pre+"[dtor]"+b.res, dtor)
	}

	define := m.NewFunc(vals(i32), nil)
	define.LocalGet(0).Call(b.check).
		I32Const(intBase + 63*4).
		I32Const(intBase + 63*4).I32Load(0).I32Const(1).I32Add().
		I32Store(0)
	b.export("define", b.method("define"), define)

	setup := m.NewFunc(vals(i32, f64, f64, f64), nil)
	setup.LocalGet(0).Call(b.check).
		I32Const(realBase + 60*8).LocalGet(1).F64Store(0).
		I32Const(realBase + 61*8).LocalGet(2).F64Store(0).
		I32Const(realBase + 62*8).LocalGet(3).F64Store(0)
	b.export("setup-experiment", b.method("setup-experiment"), setup)

	for _, name := range []string{"enter-initialization-mode", "exit-initialization-mode", "terminate"} {
		f := m.NewFunc(vals(i32), nil)
		f.LocalGet(0).Call(b.check)
		b.export(name, b.method(name), f)
	}

	doStep := m.NewFunc(vals(i32, f64, f64), nil)
	doStep.LocalGet(0).Call(b.check).
		LocalGet(2).F64Const(0).F64Le().If().Unreachable().End().
		I32Const(realBase + 63*8).LocalGet(1).LocalGet(2).F64Add().F64Store(0)
	b.export("do-step", b.method("do-step"), doStep)

	closeFn := m.NewFunc(vals(i32), nil)
	closeFn.LocalGet(0).Call(b.check).I32Const(1).GlobalSet(b.closed)
	b.export("close", b.method("close"), closeFn)
}

type kind struct {
	name string
	base int32
	size int32
}

var kinds = []kind{
	{"integer", intBase, 4},
	{"real", realBase, 8},
	{"boolean", boolBase, 1},
	{"string", strBase, 8},
}

func (b *builder) accessors() {
	m := b.m
	for _, k := range kinds {
		get := m.NewFunc(vals(i32, i32, i32), vals(i32))
		get.LocalGet(0).Call(b.check).
			LocalGet(1).LocalGet(2).I32Const(k.base).I32Const(k.size).Call(b.load)
		b.export("get-"+k.name, b.method("get-"+k.name), get)

		set := m.NewFunc(repeat(i32, 5), nil)
		set.LocalGet(0).Call(b.check).
			LocalGet(1).LocalGet(2).LocalGet(3).LocalGet(4).
			I32Const(k.base).I32Const(k.size).Call(b.store)
		b.export("set-"+k.name, b.method("set-"+k.name), set)
	}

	post := m.NewFunc(vals(i32), nil)
	post.GlobalGet(b.posts).I32Const(1).I32Add().GlobalSet(b.posts)
	m.ExportFunc("cabi_post_"+b.method("get-real"), post)
}

func (b *builder) bulk() {
	m := b.m

	// get-all(self, 4 x list<u64>) -> bulk-read handle. The handle is the
	// address of a record holding the four retptrs.
	getAll := m.NewFunc(repeat(i32, 9), vals(i32))
	rec := getAll.AddLocal(i32)
	getAll.LocalGet(0).Call(b.check).
		GlobalGet(b.bulkCalls).I32Const(1).I32Add().GlobalSet(b.bulkCalls).
		I32Const(16).Call(b.alloc).LocalSet(rec)
	for i, k := range kinds {
		getAll.LocalGet(rec).
			LocalGet(uint32(1 + 2*i)).LocalGet(uint32(2 + 2*i)).
			I32Const(k.base).I32Const(k.size).Call(b.load).
			I32Store(uint32(4 * i))
	}
	getAll.LocalGet(rec)
	b.export("get-all", b.method("get-all"), getAll)

	// set-all(self, 8 lists) takes 17 flat params and is passed spilled.
	setAll := m.NewFunc(vals(i32), nil)
	setAll.LocalGet(0).I32Load(0).Call(b.check).
		GlobalGet(b.bulkCalls).I32Const(1).I32Add().GlobalSet(b.bulkCalls)
	for i, k := range kinds {
		off := uint32(4 + 16*i)
		setAll.LocalGet(0).I32Load(off).
			LocalGet(0).I32Load(off + 4).
			LocalGet(0).I32Load(off + 8).
			LocalGet(0).I32Load(off + 12).
			I32Const(k.base).I32Const(k.size).Call(b.store)
	}
	b.export("set-all", b.method("set-all"), setAll)

	iface, res := splitClass(BulkClass)
	for i, name := range []string{"int-values", "real-values", "bool-values", "string-values"} {
		f := m.NewFunc(vals(i32), vals(i32))
		f.LocalGet(0).I32Load(uint32(4 * i))
		m.ExportFunc(iface+"#[method]"+res+"."+name, f)
	}
	if !b.opts.NoDtor {
		drop := m.NewFunc(vals(i32), nil)
		drop.GlobalGet(b.drops).I32Const(1).I32Add().GlobalSet(b.drops)
		m.ExportFunc(iface+"#[dtor]"+res, drop)
	}
}
