package fmi2

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-fmu/arena"
	"github.com/wippyai/wasm-fmu/config"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/slave"
)

// Params are the fmi2Instantiate arguments.
type Params struct {
	// Strings backs the strings returned by GetString and GetAll.
	Strings arena.Allocator
	// Log receives messages for the host logger callback; nil drops them.
	Log LogFunc
	// Settings overrides the process settings.
	Settings         *config.Settings
	InstanceName     string
	GUID             string
	ResourceLocation string
	Type             Type
	Visible          bool
	LoggingOn        bool
}

// Instance adapts a slave to the FMI 2.0 argument and status conventions.
type Instance struct {
	slave *slave.Slave
	log   *zap.Logger
	gate  *gate
	name  string
	guid  string
	refs  []uint64
	bools []bool
	fatal bool
}

// Instantiate creates a co-simulation instance. Failures are reported
// through p.Log and returned.
func Instantiate(ctx context.Context, p Params) (*Instance, error) {
	g := &gate{}
	g.set(p.LoggingOn, nil)

	core := zapcore.NewTee(Logger().Core(), newCallbackCore(p.Log, p.InstanceName, g))
	base := zap.New(core)
	log := base.With(zap.String("instance", p.InstanceName))

	if p.Type != CoSimulation {
		err := errors.InvalidInput(errors.PhaseLoad, "%s is not supported, only %s", p.Type, CoSimulation)
		log.Error("instantiation failed", zap.Error(err))
		return nil, err
	}

	s, err := slave.Instantiate(ctx, slave.Params{
		Settings:         p.Settings,
		Strings:          p.Strings,
		Logger:           base,
		InstanceName:     p.InstanceName,
		ResourceLocation: p.ResourceLocation,
	})
	if err != nil {
		log.Error("instantiation failed", zap.Error(err))
		return nil, err
	}

	log.Debug("instantiated",
		zap.String("guid", p.GUID),
		zap.String("class", s.Class()))
	return &Instance{slave: s, log: log, gate: g, name: p.InstanceName, guid: p.GUID}, nil
}

func (i *Instance) Name() string { return i.name }

func (i *Instance) GUID() string { return i.guid }

// Slave returns the underlying slave.
func (i *Instance) Slave() *slave.Slave { return i.slave }

// SetDebugLogging switches debug logging and selects its categories. An
// empty selection enables every category.
func (i *Instance) SetDebugLogging(on bool, categories []string) Status {
	for _, c := range categories {
		if !knownCategory(c) {
			i.log.Warn("unknown log category", zap.String("category", c))
			return Warning
		}
	}
	i.gate.set(on, categories)
	return OK
}

func knownCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

func (i *Instance) SetupExperiment(ctx context.Context, toleranceDefined bool, tolerance, start float64, stopDefined bool, stop float64) Status {
	tol, end := slave.Unset(), slave.Unset()
	if toleranceDefined {
		tol = slave.Value(tolerance)
	}
	if stopDefined {
		end = slave.Value(stop)
	}
	return i.run("setup experiment", func() error {
		return i.slave.SetupExperiment(ctx, tol, start, end)
	})
}

func (i *Instance) EnterInitializationMode(ctx context.Context) Status {
	return i.run("enter initialization mode", func() error {
		return i.slave.EnterInitializationMode(ctx)
	})
}

func (i *Instance) ExitInitializationMode(ctx context.Context) Status {
	return i.run("exit initialization mode", func() error {
		return i.slave.ExitInitializationMode(ctx)
	})
}

func (i *Instance) Terminate(ctx context.Context) Status {
	return i.run("terminate", func() error {
		return i.slave.Terminate(ctx)
	})
}

func (i *Instance) Reset(ctx context.Context) Status {
	return i.run("reset", func() error {
		return i.slave.Reset(ctx)
	})
}

// DoStep returns Discard when the guest step failed.
func (i *Instance) DoStep(ctx context.Context, t, dt float64, noSetPrior bool) Status {
	if i.fatal {
		return Fatal
	}
	st := StepStatus(i.slave.DoStep(ctx, t, dt))
	if st != OK {
		i.log.Warn("step discarded",
			zap.Float64("t", t),
			zap.Float64("dt", dt),
			zap.Bool("noSetFMUStatePriorToCurrentPoint", noSetPrior))
	}
	return st
}

func (i *Instance) GetReal(ctx context.Context, vr []uint32, dst []float64) Status {
	return i.run("get real", func() error {
		return i.slave.GetReal(ctx, i.widen(vr), dst)
	})
}

func (i *Instance) GetInteger(ctx context.Context, vr []uint32, dst []int32) Status {
	return i.run("get integer", func() error {
		return i.slave.GetInteger(ctx, i.widen(vr), dst)
	})
}

// GetBoolean writes True or False into dst.
func (i *Instance) GetBoolean(ctx context.Context, vr []uint32, dst []int32) Status {
	return i.run("get boolean", func() error {
		if len(vr) != len(dst) {
			return lengthError(len(vr), len(dst))
		}
		vals := i.scratchBools(len(dst))
		if err := i.slave.GetBoolean(ctx, i.widen(vr), vals); err != nil {
			return err
		}
		fromBools(dst, vals)
		return nil
	})
}

// GetString fills dst with the string values. Their NUL-terminated copies in
// the slave's arena stay valid until the next string or bulk access, reset
// or free.
func (i *Instance) GetString(ctx context.Context, vr []uint32, dst []string) Status {
	return i.run("get string", func() error {
		return i.slave.GetString(ctx, i.widen(vr), dst)
	})
}

func (i *Instance) SetReal(ctx context.Context, vr []uint32, vals []float64) Status {
	return i.run("set real", func() error {
		return i.slave.SetReal(ctx, i.widen(vr), vals)
	})
}

func (i *Instance) SetInteger(ctx context.Context, vr []uint32, vals []int32) Status {
	return i.run("set integer", func() error {
		return i.slave.SetInteger(ctx, i.widen(vr), vals)
	})
}

// SetBoolean treats every non-zero value as true.
func (i *Instance) SetBoolean(ctx context.Context, vr []uint32, vals []int32) Status {
	return i.run("set boolean", func() error {
		return i.slave.SetBoolean(ctx, i.widen(vr), toBools(i.scratchBools(len(vals)), vals))
	})
}

func (i *Instance) SetString(ctx context.Context, vr []uint32, vals []string) Status {
	return i.run("set string", func() error {
		return i.slave.SetString(ctx, i.widen(vr), vals)
	})
}

// BulkRefs are the value references of a bulk access.
type BulkRefs struct {
	Integer []uint32
	Real    []uint32
	Boolean []uint32
	String  []uint32
}

func (r BulkRefs) widen() slave.Refs {
	return slave.Refs{
		Integer: widen(nil, r.Integer),
		Real:    widen(nil, r.Real),
		Boolean: widen(nil, r.Boolean),
		String:  widen(nil, r.String),
	}
}

// BulkValues are the values of a bulk access, with booleans as True/False.
type BulkValues struct {
	Integer []int32
	Real    []float64
	Boolean []int32
	String  []string
}

// GetAll reads all four kinds in one operation.
func (i *Instance) GetAll(ctx context.Context, refs BulkRefs, dst BulkValues) Status {
	return i.run("get all", func() error {
		if len(refs.Boolean) != len(dst.Boolean) {
			return lengthError(len(refs.Boolean), len(dst.Boolean))
		}
		out := slave.Values{
			Integer: dst.Integer,
			Real:    dst.Real,
			Boolean: make([]bool, len(dst.Boolean)),
			String:  dst.String,
		}
		if err := i.slave.GetAll(ctx, refs.widen(), out); err != nil {
			return err
		}
		fromBools(dst.Boolean, out.Boolean)
		return nil
	})
}

// SetAll writes all four kinds in one operation.
func (i *Instance) SetAll(ctx context.Context, refs BulkRefs, vals BulkValues) Status {
	return i.run("set all", func() error {
		in := slave.Values{
			Integer: vals.Integer,
			Real:    vals.Real,
			Boolean: toBools(make([]bool, len(vals.Boolean)), vals.Boolean),
			String:  vals.String,
		}
		return i.slave.SetAll(ctx, refs.widen(), in)
	})
}

// Free releases the instance. It is always safe to call; a failed guest
// close has already been logged by the slave.
func (i *Instance) Free(ctx context.Context) {
	_ = i.slave.Free(ctx)
	_ = i.log.Sync()
}

// run executes op unless a previous call was fatal, and maps its error.
func (i *Instance) run(op string, fn func() error) Status {
	if i.fatal {
		i.log.Error(op+" rejected after a fatal error")
		return Fatal
	}
	err := fn()
	st := StatusOf(err)
	switch st {
	case OK:
	case Fatal:
		i.fatal = true
		i.log.Error(op+" failed", zap.Error(err))
	default:
		i.log.Error(op+" failed", zap.Error(err))
	}
	return st
}

func (i *Instance) widen(vr []uint32) []uint64 {
	i.refs = widen(i.refs[:0], vr)
	return i.refs
}

func (i *Instance) scratchBools(n int) []bool {
	if cap(i.bools) < n {
		i.bools = make([]bool, n)
	}
	return i.bools[:n]
}

func widen(dst []uint64, vr []uint32) []uint64 {
	for _, r := range vr {
		dst = append(dst, uint64(r))
	}
	return dst
}

func toBools(dst []bool, vals []int32) []bool {
	for i, v := range vals {
		dst[i] = v != False
	}
	return dst
}

func fromBools(dst []int32, vals []bool) {
	for i, v := range vals {
		if v {
			dst[i] = True
		} else {
			dst[i] = False
		}
	}
}

func lengthError(refs, vals int) error {
	return errors.InvalidInput(errors.PhaseEncode, "%d references for %d values", refs, vals)
}
