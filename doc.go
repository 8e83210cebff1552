// Package wasmfmu bridges the FMI 2.0 co-simulation slave interface to slave
// implementations compiled to WebAssembly.
//
// A slave is packaged as a resource directory holding a manifest and a core
// WebAssembly module. The manifest names a guest resource type; the bridge
// constructs one guest object per slave instance and forwards every lifecycle
// and variable access call to it, marshaling value references and values
// through guest linear memory.
//
// # Architecture Overview
//
//	wasmfmu/             Root package with core Memory and Allocator interfaces
//	├── engine/          Process-wide wazero runtime, scoped invocation, memory access
//	├── loader/          Manifest parsing, archive compilation, per-slave namespaces
//	├── binding/         Entry point resolution by export name and core signature
//	├── transcoder/      Canonical ABI list lowering and lifting
//	├── arena/           Transient string storage handed to the host
//	├── bridge/          Marshaling of every call crossing into the guest
//	├── slave/           Slave facade implementing the co-simulation surface
//	├── fmi2/            FMI 2.0 status mapping and instance registry
//	├── config/          TOML and environment settings
//	├── errors/          Structured error types
//	└── cmd/             C ABI shared library and simulation runner
//
// # Resource Layout
//
//	resources/
//	├── mainclass.txt    first line: qualified class, e.g. example:echo/model#echo-slave
//	├── model.wasm       core module exporting the class
//	└── bridge.toml      optional bridge settings
//
// # Quick Start
//
//	s, err := slave.Instantiate(ctx, slave.Params{
//	    InstanceName:     "vessel",
//	    ResourceLocation: "/opt/fmu/resources",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Free(ctx)
//
//	_ = s.SetupExperiment(ctx, slave.Unset(), 0, slave.Value(10))
//	_ = s.EnterInitializationMode(ctx)
//	_ = s.ExitInitializationMode(ctx)
//	ok := s.DoStep(ctx, 0, 0.1)
//
// A file URI prefix on the resource location (file:///, file:// or file:/)
// is removed as is; the remainder is used as the directory path.
package wasmfmu
