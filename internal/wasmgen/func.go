package wasmgen

const (
	opUnreachable byte = 0x00
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opBrIf        byte = 0x0D
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opDrop        byte = 0x1A
	opLocalGet    byte = 0x20
	opLocalSet    byte = 0x21
	opLocalTee    byte = 0x22
	opGlobalGet   byte = 0x23
	opGlobalSet   byte = 0x24
	opI32Load     byte = 0x28
	opI64Load     byte = 0x29
	opF64Load     byte = 0x2B
	opI32Load8U   byte = 0x2D
	opI32Store    byte = 0x36
	opI64Store    byte = 0x37
	opF64Store    byte = 0x39
	opI32Store8   byte = 0x3A
	opMemorySize  byte = 0x3F
	opMemoryGrow  byte = 0x40
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opF64Const    byte = 0x44
	opI32Eqz      byte = 0x45
	opI32Eq       byte = 0x46
	opI32Ne       byte = 0x47
	opI32LtU      byte = 0x49
	opI32GtU      byte = 0x4B
	opI32LeU      byte = 0x4D
	opI32GeU      byte = 0x4F
	opI64LtU      byte = 0x54
	opI64GeU      byte = 0x5A
	opF64Gt       byte = 0x64
	opF64Le       byte = 0x65
	opI32Add      byte = 0x6A
	opI32Sub      byte = 0x6B
	opI32Mul      byte = 0x6C
	opI32And      byte = 0x71
	opI32Shl      byte = 0x74
	opI32ShrU     byte = 0x76
	opF64Add      byte = 0xA0
	opI32WrapI64  byte = 0xA7
	opPrefixFC    byte = 0xFC

	fcMemoryCopy uint32 = 0x0A
	fcMemoryFill uint32 = 0x0B

	blockEmpty byte = 0x40
)

// Func is a function under construction. Emitters append one instruction
// and return the receiver for chaining.
type Func struct {
	code    writer
	locals  []ValType
	index   uint32
	typeIdx uint32
	nparams uint32
}

// Index returns the function index within its module.
func (f *Func) Index() uint32 {
	return f.index
}

// AddLocal declares a local and returns its index. Parameters occupy the
// first indices.
func (f *Func) AddLocal(t ValType) uint32 {
	f.locals = append(f.locals, t)
	return f.nparams + uint32(len(f.locals)) - 1
}

func (f *Func) encode() []byte {
	w := &writer{}

	// Runs of equal types share one declaration.
	type run struct {
		t ValType
		n uint32
	}
	var runs []run
	for _, t := range f.locals {
		if len(runs) > 0 && runs[len(runs)-1].t == t {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{t: t, n: 1})
	}
	w.WriteU32(uint32(len(runs)))
	for _, r := range runs {
		w.WriteU32(r.n)
		w.Byte(byte(r.t))
	}

	w.WriteBytes(f.code.Bytes())
	w.Byte(opEnd)
	return w.Bytes()
}

func (f *Func) op(b byte) *Func {
	f.code.Byte(b)
	return f
}

func (f *Func) opIdx(b byte, idx uint32) *Func {
	f.code.Byte(b)
	f.code.WriteU32(idx)
	return f
}

func (f *Func) memarg(b byte, align, offset uint32) *Func {
	f.code.Byte(b)
	f.code.WriteU32(align)
	f.code.WriteU32(offset)
	return f
}

// Control

func (f *Func) Unreachable() *Func { return f.op(opUnreachable) }
func (f *Func) Block() *Func       { f.code.Byte(opBlock); return f.op(blockEmpty) }
func (f *Func) Loop() *Func        { f.code.Byte(opLoop); return f.op(blockEmpty) }
func (f *Func) If() *Func          { f.code.Byte(opIf); return f.op(blockEmpty) }
func (f *Func) Else() *Func        { return f.op(opElse) }
func (f *Func) End() *Func         { return f.op(opEnd) }
func (f *Func) Br(depth uint32) *Func {
	return f.opIdx(opBr, depth)
}
func (f *Func) BrIf(depth uint32) *Func {
	return f.opIdx(opBrIf, depth)
}
func (f *Func) Return() *Func { return f.op(opReturn) }
func (f *Func) Call(callee *Func) *Func {
	return f.opIdx(opCall, callee.index)
}
func (f *Func) Drop() *Func { return f.op(opDrop) }

// Variables

func (f *Func) LocalGet(idx uint32) *Func  { return f.opIdx(opLocalGet, idx) }
func (f *Func) LocalSet(idx uint32) *Func  { return f.opIdx(opLocalSet, idx) }
func (f *Func) LocalTee(idx uint32) *Func  { return f.opIdx(opLocalTee, idx) }
func (f *Func) GlobalGet(idx uint32) *Func { return f.opIdx(opGlobalGet, idx) }
func (f *Func) GlobalSet(idx uint32) *Func { return f.opIdx(opGlobalSet, idx) }

// Memory. Alignment is the natural alignment of the access.

func (f *Func) I32Load(offset uint32) *Func   { return f.memarg(opI32Load, 2, offset) }
func (f *Func) I64Load(offset uint32) *Func   { return f.memarg(opI64Load, 3, offset) }
func (f *Func) F64Load(offset uint32) *Func   { return f.memarg(opF64Load, 3, offset) }
func (f *Func) I32Load8U(offset uint32) *Func { return f.memarg(opI32Load8U, 0, offset) }
func (f *Func) I32Store(offset uint32) *Func  { return f.memarg(opI32Store, 2, offset) }
func (f *Func) I64Store(offset uint32) *Func  { return f.memarg(opI64Store, 3, offset) }
func (f *Func) F64Store(offset uint32) *Func  { return f.memarg(opF64Store, 3, offset) }
func (f *Func) I32Store8(offset uint32) *Func { return f.memarg(opI32Store8, 0, offset) }

func (f *Func) MemorySize() *Func { f.code.Byte(opMemorySize); return f.op(0x00) }
func (f *Func) MemoryGrow() *Func { f.code.Byte(opMemoryGrow); return f.op(0x00) }

// MemoryCopy copies n bytes: operands are dst, src, n.
func (f *Func) MemoryCopy() *Func {
	f.code.Byte(opPrefixFC)
	f.code.WriteU32(fcMemoryCopy)
	f.code.Byte(0x00)
	return f.op(0x00)
}

// MemoryFill sets n bytes: operands are dst, value, n.
func (f *Func) MemoryFill() *Func {
	f.code.Byte(opPrefixFC)
	f.code.WriteU32(fcMemoryFill)
	return f.op(0x00)
}

// Constants

func (f *Func) I32Const(v int32) *Func {
	f.code.Byte(opI32Const)
	f.code.WriteS64(int64(v))
	return f
}

func (f *Func) I64Const(v int64) *Func {
	f.code.Byte(opI64Const)
	f.code.WriteS64(v)
	return f
}

func (f *Func) F64Const(v float64) *Func {
	f.code.Byte(opF64Const)
	f.code.WriteF64(v)
	return f
}

// Numeric

func (f *Func) I32Eqz() *Func     { return f.op(opI32Eqz) }
func (f *Func) I32Eq() *Func      { return f.op(opI32Eq) }
func (f *Func) I32Ne() *Func      { return f.op(opI32Ne) }
func (f *Func) I32LtU() *Func     { return f.op(opI32LtU) }
func (f *Func) I32GtU() *Func     { return f.op(opI32GtU) }
func (f *Func) I32LeU() *Func     { return f.op(opI32LeU) }
func (f *Func) I32GeU() *Func     { return f.op(opI32GeU) }
func (f *Func) I64LtU() *Func     { return f.op(opI64LtU) }
func (f *Func) I64GeU() *Func     { return f.op(opI64GeU) }
func (f *Func) F64Gt() *Func      { return f.op(opF64Gt) }
func (f *Func) F64Le() *Func      { return f.op(opF64Le) }
func (f *Func) I32Add() *Func     { return f.op(opI32Add) }
func (f *Func) I32Sub() *Func     { return f.op(opI32Sub) }
func (f *Func) I32Mul() *Func     { return f.op(opI32Mul) }
func (f *Func) I32And() *Func     { return f.op(opI32And) }
func (f *Func) I32Shl() *Func     { return f.op(opI32Shl) }
func (f *Func) I32ShrU() *Func    { return f.op(opI32ShrU) }
func (f *Func) F64Add() *Func     { return f.op(opF64Add) }
func (f *Func) I32WrapI64() *Func { return f.op(opI32WrapI64) }
