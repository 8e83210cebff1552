package binding

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-fmu/transcoder"
)

// BulkClass is the qualified name of the optional bulk result type.
const BulkClass = "fmu:export/bulk#bulk-read"

// Method names exported by a slave class.
const (
	Define                  = "define"
	SetupExperiment         = "setup-experiment"
	EnterInitializationMode = "enter-initialization-mode"
	ExitInitializationMode  = "exit-initialization-mode"
	DoStep                  = "do-step"
	Terminate               = "terminate"
	Close                   = "close"
	GetAll                  = "get-all"
	SetAll                  = "set-all"
)

// Kind is a scalar variable type.
type Kind int

const (
	Integer Kind = iota
	Real
	Boolean
	String
)

// Kinds lists every scalar kind in bulk argument order.
var Kinds = [...]Kind{Integer, Real, Boolean, String}

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Boolean:
		return "boolean"
	case String:
		return "string"
	}
	return "unknown"
}

// Getter returns the name of the kind's get method.
func (k Kind) Getter() string { return "get-" + k.String() }

// Setter returns the name of the kind's set method.
func (k Kind) Setter() string { return "set-" + k.String() }

// BulkAccessor returns the bulk-read method returning the kind's values.
func (k Kind) BulkAccessor() string {
	switch k {
	case Integer:
		return "int-values"
	case Real:
		return "real-values"
	case Boolean:
		return "bool-values"
	}
	return "string-values"
}

// elem returns the WIT element type of the kind's values.
func (k Kind) elem() wit.Type {
	switch k {
	case Integer:
		return transcoder.S32.Type()
	case Real:
		return transcoder.F64.Type()
	case Boolean:
		return transcoder.Bool.Type()
	}
	return transcoder.String.Type()
}

var (
	handle = wit.U32{}
	refs   = transcoder.ListOf(transcoder.U64)
	config = transcoder.ListOf(transcoder.Pair)
)

func listOf(t wit.Type) wit.Type {
	return &wit.TypeDef{Kind: &wit.List{Type: t}}
}

// spec describes one entry point by its WIT signature.
type spec struct {
	name    string
	params  []wit.Type
	results []wit.Type
}

func (s spec) signature() transcoder.Signature {
	return transcoder.FlatSignature(s.params, s.results)
}

func lifecycleSpecs() []spec {
	unit := func(name string) spec { return spec{name: name, params: []wit.Type{handle}} }
	specs := []spec{
		unit(Define),
		{name: SetupExperiment, params: []wit.Type{handle, wit.F64{}, wit.F64{}, wit.F64{}}},
		unit(EnterInitializationMode),
		unit(ExitInitializationMode),
		{name: DoStep, params: []wit.Type{handle, wit.F64{}, wit.F64{}}},
		unit(Terminate),
		unit(Close),
	}
	for _, k := range Kinds {
		specs = append(specs,
			spec{name: k.Getter(), params: []wit.Type{handle, refs}, results: []wit.Type{listOf(k.elem())}},
			spec{name: k.Setter(), params: []wit.Type{handle, refs, listOf(k.elem())}},
		)
	}
	return specs
}

func constructorSpec() spec {
	return spec{name: "constructor", params: []wit.Type{config}, results: []wit.Type{handle}}
}

func destructorSpec() spec {
	return spec{name: "destructor", params: []wit.Type{handle}}
}

func getAllSpec() spec {
	return spec{name: GetAll, params: []wit.Type{handle, refs, refs, refs, refs}, results: []wit.Type{handle}}
}

func setAllSpec() spec {
	params := []wit.Type{handle}
	for _, k := range Kinds {
		params = append(params, refs, listOf(k.elem()))
	}
	return spec{name: SetAll, params: params}
}

func accessorSpec(k Kind) spec {
	return spec{name: k.BulkAccessor(), params: []wit.Type{handle}, results: []wit.Type{listOf(k.elem())}}
}
