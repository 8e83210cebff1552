package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fmu/errors"
)

// provider owns the process runtime. It is created on first use and lives
// until the process exits.
type provider struct {
	runtime wazero.Runtime
	err     error
	cfg     Config
	mu      sync.Mutex
	started bool
}

var (
	process  = &provider{}
	attached atomic.Int64
)

// Env is the call-scoped handle to the process runtime.
// It must not be retained after the unit of work that received it returns.
type Env struct {
	ctx     context.Context
	runtime wazero.Runtime
}

// Context returns the context of the current call.
func (e *Env) Context() context.Context {
	return e.ctx
}

// Runtime returns the shared wazero runtime.
func (e *Env) Runtime() wazero.Runtime {
	return e.runtime
}

// Configure sets the runtime configuration used when the process runtime is
// created. It reports false when the runtime already exists, in which case
// cfg is ignored.
func Configure(cfg Config) bool {
	process.mu.Lock()
	defer process.mu.Unlock()
	if process.started {
		return false
	}
	process.cfg = cfg
	return true
}

// Acquire returns a handle to the process runtime, creating the runtime on
// first use. A creation failure is fatal and returned by every later call.
func Acquire(ctx context.Context) (*Env, error) {
	rt, err := process.get()
	if err != nil {
		return nil, err
	}
	return &Env{ctx: ctx, runtime: rt}, nil
}

func (p *provider) get() (wazero.Runtime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.started = true
		p.runtime, p.err = newRuntime(p.cfg)
		if p.err != nil {
			Logger().Error("unable to set up the runtime", zap.Error(p.err))
		} else {
			Logger().Debug("runtime created",
				zap.Uint32("memoryLimitPages", p.cfg.MemoryLimitPages),
				zap.String("cacheDir", p.cfg.CompilationCacheDir))
		}
	}
	return p.runtime, p.err
}

func newRuntime(cfg Config) (wazero.Runtime, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}
	if cfg.CompilationCacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.Fatal("unable to set up the runtime", err)
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}
	// The runtime outlives any single call, so it is not bound to a caller context.
	return wazero.NewRuntimeWithConfig(context.Background(), runtimeCfg), nil
}

// Invoke runs fn attached to the process runtime. The attachment is released
// on every exit path; a panic inside fn is converted into a fatal error.
func Invoke(ctx context.Context, fn func(env *Env) error) (err error) {
	env, err := Acquire(ctx)
	if err != nil {
		return err
	}

	attached.Add(1)
	defer func() {
		attached.Add(-1)
		if r := recover(); r != nil {
			Logger().Error("panic during guest invocation", zap.Any("panic", r))
			err = errors.Fatal(fmt.Sprintf("panic during guest invocation: %v", r), nil)
		}
	}()

	return fn(env)
}

// Attached returns the number of units of work currently attached.
func Attached() int64 {
	return attached.Load()
}
