// Package engine owns the process-wide wazero runtime shared by every slave.
//
// The runtime is created lazily by the first Acquire, using the
// configuration last passed to Configure, and lives until the process
// exits. Guest work runs inside Invoke, which attaches the calling
// goroutine to the runtime for the duration of one unit of work:
//
//	err := engine.Invoke(ctx, func(env *engine.Env) error {
//	    mod, err := env.Runtime().InstantiateWithConfig(env.Context(), bin, cfg)
//	    ...
//	})
//
// Invoke releases the attachment on every exit path and turns a panic into
// a fatal error, so a failing guest never leaves the runtime attached.
//
// Memory and Allocator adapt a guest module's linear memory and its
// exported cabi_realloc to the wasmfmu.Memory and wasmfmu.Allocator
// interfaces used by the transcoder.
package engine
