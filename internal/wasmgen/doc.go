// Package wasmgen assembles small core WebAssembly modules in Go.
//
// It covers the subset needed to build guest fixtures: function types,
// functions with locals, one linear memory, i32/i64 globals and exports.
// Instructions are emitted through chained methods on Func:
//
//	m := wasmgen.New()
//	add := m.NewFunc([]wasmgen.ValType{wasmgen.I32, wasmgen.I32}, []wasmgen.ValType{wasmgen.I32})
//	add.LocalGet(0).LocalGet(1).I32Add()
//	m.ExportFunc("add", add)
//	bin := m.Encode()
//
// Bodies are terminated automatically; structured blocks still need End.
package wasmgen
