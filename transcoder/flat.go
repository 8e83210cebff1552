package transcoder

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

const (
	// MaxFlatParams is the flat parameter count above which arguments are
	// passed through linear memory.
	MaxFlatParams = 16
	// MaxFlatResults is the flat result count above which an export returns
	// a pointer to its results.
	MaxFlatResults = 1
)

// Signature is the core signature of an exported function.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
	// Spilled means the parameters are passed as one pointer to a tuple.
	Spilled bool
	// RetPtr means the single result is a pointer to the flattened results.
	RetPtr bool
}

// Flatten returns the core types of t.
func Flatten(t wit.Type) []api.ValueType {
	switch typ := t.(type) {
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	case *wit.TypeDef:
		switch kind := typ.Kind.(type) {
		case *wit.List:
			return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
		case *wit.Tuple:
			var out []api.ValueType
			for _, e := range kind.Types {
				out = append(out, Flatten(e)...)
			}
			return out
		case *wit.Record:
			var out []api.ValueType
			for _, f := range kind.Fields {
				out = append(out, Flatten(f.Type)...)
			}
			return out
		case wit.Type:
			return Flatten(kind)
		}
	}
	return []api.ValueType{api.ValueTypeI32}
}

// FlatSignature derives the core signature of an export taking params and
// returning results.
func FlatSignature(params, results []wit.Type) Signature {
	var sig Signature
	for _, p := range params {
		sig.Params = append(sig.Params, Flatten(p)...)
	}
	if len(sig.Params) > MaxFlatParams {
		sig.Params = []api.ValueType{api.ValueTypeI32}
		sig.Spilled = true
	}
	for _, r := range results {
		sig.Results = append(sig.Results, Flatten(r)...)
	}
	if len(sig.Results) > MaxFlatResults {
		sig.Results = []api.ValueType{api.ValueTypeI32}
		sig.RetPtr = true
	}
	return sig
}

// Matches reports whether def has exactly this signature.
func (s Signature) Matches(def api.FunctionDefinition) bool {
	return equalTypes(s.Params, def.ParamTypes()) && equalTypes(s.Results, def.ResultTypes())
}

func (s Signature) String() string {
	return FormatTypes(s.Params) + " -> " + FormatTypes(s.Results)
}

// FormatTypes renders core types as "(i32, f64)".
func FormatTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
