package wasmgen

import "sort"

const (
	magic   uint32 = 0x6D736100
	version uint32 = 0x01
)

const (
	sectionCustom   byte = 0
	sectionType     byte = 1
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionGlobal   byte = 6
	sectionExport   byte = 7
	sectionCode     byte = 10
)

const (
	kindFunc   byte = 0
	kindMemory byte = 2
	kindGlobal byte = 3
)

const funcTypeByte byte = 0x60

const nameSubsectionFunc byte = 1

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

func (v ValType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return "unknown"
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) equal(o FuncType) bool {
	if len(ft.Params) != len(o.Params) || len(ft.Results) != len(o.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

type global struct {
	typ     ValType
	mutable bool
	init    int64
}

type export struct {
	name  string
	kind  byte
	index uint32
}

// Module is a core module under construction.
type Module struct {
	types    []FuncType
	funcs    []*Func
	globals  []global
	exports  []export
	memories []uint32
	names    []export
}

// New creates an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(ft FuncType) uint32 {
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// NewFunc declares a function. Its body may be emitted at any time before
// Encode, so functions can call each other regardless of declaration order.
func (m *Module) NewFunc(params, results []ValType) *Func {
	f := &Func{
		index:   uint32(len(m.funcs)),
		typeIdx: m.typeIndex(FuncType{Params: params, Results: results}),
		nparams: uint32(len(params)),
	}
	m.funcs = append(m.funcs, f)
	return f
}

// AddMemory adds a linear memory with the given minimum size in pages.
func (m *Module) AddMemory(minPages uint32) uint32 {
	m.memories = append(m.memories, minPages)
	return uint32(len(m.memories) - 1)
}

// AddGlobal adds an integer global initialized to init.
func (m *Module) AddGlobal(typ ValType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{typ: typ, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

func (m *Module) ExportFunc(name string, f *Func) {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, index: f.index})
}

// SetName records a debug name for f in the custom name section.
func (m *Module) SetName(f *Func, name string) {
	m.names = append(m.names, export{name: name, kind: kindFunc, index: f.index})
}

func (m *Module) ExportMemory(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kindMemory, index: idx})
}

func (m *Module) ExportGlobal(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kindGlobal, index: idx})
}

// Encode encodes the module to the WebAssembly binary format.
func (m *Module) Encode() []byte {
	w := &writer{}
	w.WriteU32LE(magic)
	w.WriteU32LE(version)

	if len(m.types) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.types)))
		for _, ft := range m.types {
			sec.Byte(funcTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, sectionType, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.WriteU32(f.typeIdx)
		}
		writeSection(w, sectionFunction, sec.Bytes())
	}

	if len(m.memories) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.memories)))
		for _, pages := range m.memories {
			sec.Byte(0x00)
			sec.WriteU32(pages)
		}
		writeSection(w, sectionMemory, sec.Bytes())
	}

	if len(m.globals) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.Byte(byte(g.typ))
			if g.mutable {
				sec.Byte(0x01)
			} else {
				sec.Byte(0x00)
			}
			switch g.typ {
			case I64:
				sec.Byte(opI64Const)
			default:
				sec.Byte(opI32Const)
			}
			sec.WriteS64(g.init)
			sec.Byte(opEnd)
		}
		writeSection(w, sectionGlobal, sec.Bytes())
	}

	if len(m.exports) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.exports)))
		for _, e := range m.exports {
			sec.WriteName(e.name)
			sec.Byte(e.kind)
			sec.WriteU32(e.index)
		}
		writeSection(w, sectionExport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		sec := &writer{}
		sec.WriteU32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := f.encode()
			sec.WriteU32(uint32(len(body)))
			sec.WriteBytes(body)
		}
		writeSection(w, sectionCode, sec.Bytes())
	}

	if len(m.names) > 0 {
		sub := &writer{}
		sub.WriteU32(uint32(len(m.names)))
		for _, n := range sortedNames(m.names) {
			sub.WriteU32(n.index)
			sub.WriteName(n.name)
		}
		sec := &writer{}
		sec.WriteName("name")
		sec.Byte(nameSubsectionFunc)
		sec.WriteU32(uint32(len(sub.Bytes())))
		sec.WriteBytes(sub.Bytes())
		writeSection(w, sectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

// sortedNames orders the name map by function index, as the format requires.
func sortedNames(names []export) []export {
	out := append([]export(nil), names...)
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}
