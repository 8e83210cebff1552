package transcoder

import "go.bytecodealliance.org/wit"

// Layout is the in-memory size and alignment of a value.
type Layout struct {
	Size  uint32
	Align uint32
}

// AlignTo rounds offset up to a multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// LayoutOf computes the canonical layout of t for the types crossing the
// slave boundary: primitives, strings, lists, tuples and records.
func LayoutOf(t wit.Type) Layout {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Layout{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return Layout{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Layout{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return Layout{Size: 8, Align: 8}
	case wit.String:
		return Layout{Size: 8, Align: 4}
	case *wit.TypeDef:
		switch kind := typ.Kind.(type) {
		case *wit.List:
			return Layout{Size: 8, Align: 4}
		case *wit.Tuple:
			return sequence(kind.Types)
		case *wit.Record:
			fields := make([]wit.Type, len(kind.Fields))
			for i, f := range kind.Fields {
				fields[i] = f.Type
			}
			return sequence(fields)
		case wit.Type:
			return LayoutOf(kind)
		}
	}
	return Layout{Size: 0, Align: 1}
}

func sequence(types []wit.Type) Layout {
	if len(types) == 0 {
		return Layout{Size: 0, Align: 1}
	}
	maxAlign := uint32(1)
	offset := uint32(0)
	for _, t := range types {
		l := LayoutOf(t)
		offset = AlignTo(offset, l.Align)
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		offset += l.Size
	}
	return Layout{Size: AlignTo(offset, maxAlign), Align: maxAlign}
}
