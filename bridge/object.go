package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmfmu "github.com/wippyai/wasm-fmu"
	"github.com/wippyai/wasm-fmu/arena"
	"github.com/wippyai/wasm-fmu/binding"
	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/loader"
	"github.com/wippyai/wasm-fmu/transcoder"
)

// Configuration keys passed to the guest constructor.
const (
	KeyInstanceName     = "instanceName"
	KeyResourceLocation = "resourceLocation"
)

// Unset is the value passed to the guest for an undefined experiment time or
// tolerance.
const Unset = -1.0

// Operations that invalidate the string addresses previously stored in an
// Object's arena.
const (
	clearGetString = "get-string"
	clearSetString = "set-string"
	clearGetAll    = "get-all"
	clearSetAll    = "set-all"
	clearClose     = "close"
	clearDestroy   = "destroy"
)

var clearPoints = []string{clearGetString, clearSetString, clearGetAll, clearSetAll, clearClose, clearDestroy}

// Options configures an Object.
type Options struct {
	// Strings backs the string arena; nil uses Go memory.
	Strings arena.Allocator
	// Logger overrides the package logger for this object.
	Logger           *zap.Logger
	InstanceName     string
	ResourceLocation string
	// DisableBulk forces the scalar fallback for GetAll and SetAll.
	DisableBulk bool
}

// Object is a guest object and the state needed to call it. It is not safe
// for concurrent use.
type Object struct {
	ns     *loader.Namespace
	set    *binding.Set
	strs   *arena.Arena
	log    *zap.Logger
	opts   Options
	calls  int
	handle uint32
	live   bool
	bulk   bool
}

// New prepares an object of the bound class. No guest object exists until
// Construct.
func New(ns *loader.Namespace, set *binding.Set, opts Options) *Object {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &Object{
		ns:   ns,
		set:  set,
		strs: arena.New(opts.Strings),
		log: log.With(
			zap.String("instance", opts.InstanceName),
			zap.String("class", set.Class())),
		opts: opts,
		bulk: set.Bulk() && !opts.DisableBulk,
	}
}

// Handle returns the live guest handle, or 0.
func (o *Object) Handle() uint32 { return o.handle }

// Live reports whether a guest object exists.
func (o *Object) Live() bool { return o.live }

// Bulk reports whether GetAll and SetAll use the guest's bulk entry points.
func (o *Object) Bulk() bool { return o.bulk }

// Calls returns the number of guest method calls made so far.
func (o *Object) Calls() int { return o.calls }

// Strings returns the arena holding NUL-terminated copies of the strings
// returned by the last GetString or GetAll, in order.
func (o *Object) Strings() *arena.Arena { return o.strs }

// Construct creates a new guest object from the configuration mapping and
// runs its define hook. A previous object is released first.
func (o *Object) Construct(ctx context.Context) error {
	return o.invoke(ctx, func(ctx context.Context) error {
		o.release(ctx)

		f := o.frame(ctx)
		defer f.release()

		cfg := [][2]string{
			{KeyInstanceName, o.opts.InstanceName},
			{KeyResourceLocation, o.opts.ResourceLocation},
		}
		ptr, n, err := lower(f, transcoder.Pair, cfg)
		if err != nil {
			return f.abort(err)
		}
		res, err := o.call(ctx, o.set.Constructor(), ptr, n)
		if err != nil {
			return errors.Instantiation(o.set.Class(), err)
		}
		o.handle = uint32(res[0])
		o.live = true
		o.log.Debug("guest object constructed", zap.Uint32("handle", o.handle))

		_, err = o.call(ctx, o.set.Method(binding.Define), uint64(o.handle))
		return err
	})
}

// SetupExperiment passes the experiment bounds to the guest. A nil value
// is passed as Unset.
func (o *Object) SetupExperiment(ctx context.Context, start, stop, tolerance *float64) error {
	return o.invoke(ctx, func(ctx context.Context) error {
		h, err := o.self()
		if err != nil {
			return err
		}
		_, err = o.call(ctx, o.set.Method(binding.SetupExperiment),
			h, api.EncodeF64(orUnset(start)), api.EncodeF64(orUnset(stop)), api.EncodeF64(orUnset(tolerance)))
		return err
	})
}

func orUnset(v *float64) float64 {
	if v == nil {
		return Unset
	}
	return *v
}

func (o *Object) EnterInitializationMode(ctx context.Context) error {
	return o.unit(ctx, binding.EnterInitializationMode)
}

func (o *Object) ExitInitializationMode(ctx context.Context) error {
	return o.unit(ctx, binding.ExitInitializationMode)
}

func (o *Object) Terminate(ctx context.Context) error {
	return o.unit(ctx, binding.Terminate)
}

// DoStep advances the guest from t by dt. Any failure, including a guest
// trap, is logged and reported as false.
func (o *Object) DoStep(ctx context.Context, t, dt float64) bool {
	err := o.invoke(ctx, func(ctx context.Context) error {
		h, err := o.self()
		if err != nil {
			return err
		}
		_, err = o.call(ctx, o.set.Method(binding.DoStep), h, api.EncodeF64(t), api.EncodeF64(dt))
		return err
	})
	if err != nil {
		o.log.Warn("step failed",
			zap.Float64("t", t),
			zap.Float64("dt", dt),
			zap.Error(err))
		return false
	}
	return true
}

// Close clears the string arena and calls the guest close method.
func (o *Object) Close(ctx context.Context) error {
	o.clear(clearClose)
	return o.unit(ctx, binding.Close)
}

// Release drops the guest object without closing it and frees the string
// arena. It is safe to call on an object that was never constructed.
func (o *Object) Release(ctx context.Context) {
	o.log.Debug("string arena released", zap.String("at", clearDestroy))
	o.strs.Release()
	if !o.live {
		return
	}
	err := o.invoke(ctx, func(ctx context.Context) error {
		o.release(ctx)
		return nil
	})
	if err != nil {
		o.log.Warn("release failed", zap.Error(err))
	}
	o.live = false
	o.handle = 0
}

// clear empties the string arena at one of the clear points.
func (o *Object) clear(point string) {
	o.strs.Clear()
	o.log.Debug("string arena cleared", zap.String("at", point))
}

func (o *Object) release(ctx context.Context) {
	if !o.live {
		return
	}
	h := o.handle
	o.live = false
	o.handle = 0
	if d := o.set.Destructor(); d != nil {
		if _, err := o.call(ctx, d, uint64(h)); err != nil {
			o.log.Warn("guest destructor failed", zap.Uint32("handle", h), zap.Error(err))
		}
	}
}

func (o *Object) unit(ctx context.Context, method string) error {
	return o.invoke(ctx, func(ctx context.Context) error {
		h, err := o.self()
		if err != nil {
			return err
		}
		_, err = o.call(ctx, o.set.Method(method), h)
		return err
	})
}

func (o *Object) invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.ns.Closed() {
		return errors.Closed(errors.PhaseCall, "namespace")
	}
	return engine.Invoke(ctx, func(env *engine.Env) error {
		return fn(env.Context())
	})
}

func (o *Object) self() (uint64, error) {
	if !o.live {
		return 0, errors.NotInitialized(errors.PhaseCall, "guest object")
	}
	return uint64(o.handle), nil
}

func (o *Object) call(ctx context.Context, e *binding.Entry, params ...uint64) ([]uint64, error) {
	o.calls++
	return e.Call(ctx, params...)
}

// frame holds the allocations made while lowering one call's arguments.
type frame struct {
	mem    wasmfmu.Memory
	alloc  wasmfmu.Allocator
	allocs *transcoder.AllocationList
}

func (o *Object) frame(ctx context.Context) *frame {
	return &frame{
		mem:    o.ns.Memory(),
		alloc:  o.ns.Allocator().WithContext(ctx),
		allocs: transcoder.NewAllocationList(),
	}
}

// abort frees the frame's allocations and returns err.
func (f *frame) abort(err error) error {
	f.allocs.Free(f.alloc)
	return err
}

func (f *frame) release() {
	f.allocs.Release()
}

func lower[T any](f *frame, c transcoder.Codec[T], vals []T) (uint64, uint64, error) {
	ptr, n, err := transcoder.Lower(c, vals, f.mem, f.alloc, f.allocs)
	return uint64(ptr), uint64(n), err
}
