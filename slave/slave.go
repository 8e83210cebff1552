package slave

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-fmu/arena"
	"github.com/wippyai/wasm-fmu/binding"
	"github.com/wippyai/wasm-fmu/bridge"
	"github.com/wippyai/wasm-fmu/config"
	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/loader"
)

type (
	Refs   = bridge.Refs
	Values = bridge.Values
)

// Optional is a real value that may be undefined.
type Optional struct {
	Value   float64
	Defined bool
}

// Unset returns an undefined value.
func Unset() Optional { return Optional{} }

// Value returns a defined value.
func Value(v float64) Optional { return Optional{Value: v, Defined: true} }

// or returns o when defined and def otherwise.
func (o Optional) or(def Optional) Optional {
	if o.Defined {
		return o
	}
	return def
}

func (o Optional) ptr() *float64 {
	if !o.Defined {
		return nil
	}
	v := o.Value
	return &v
}

// Params are the arguments of Instantiate.
type Params struct {
	// Settings overrides the process settings (config.Process).
	Settings *config.Settings
	// Strings backs the string arena; nil uses Go memory.
	Strings arena.Allocator
	// Logger overrides the package loggers for this instance.
	Logger           *zap.Logger
	InstanceName     string
	ResourceLocation string
	// Tolerance and StopTime are the defaults used by SetupExperiment when
	// the host leaves the corresponding argument undefined.
	Tolerance Optional
	StopTime  Optional
}

// Slave is a co-simulation slave backed by a guest object. Calls on one
// Slave must not overlap.
type Slave struct {
	ns       *loader.Namespace
	obj      *bridge.Object
	log      *zap.Logger
	name     string
	dir      string
	class    string
	params   Params
	settings config.Settings
	freed    bool
}

// ResourcePath strips a file URI scheme from a resource location.
func ResourcePath(location string) string {
	for _, prefix := range []string{"file:///", "file://", "file:/"} {
		if strings.HasPrefix(location, prefix) {
			return location[len(prefix):]
		}
	}
	return location
}

// Instantiate loads the slave archive from the resource location, binds its
// class and constructs the guest object. Every failure is fatal.
func Instantiate(ctx context.Context, p Params) (*Slave, error) {
	settings, err := resolveSettings(p)
	if err != nil {
		return nil, err
	}
	engine.Configure(settings.Engine())

	dir := ResourcePath(p.ResourceLocation)
	if settings, err = config.ForResources(settings, dir); err != nil {
		return nil, err
	}

	class, err := loader.ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	var ns *loader.Namespace
	err = engine.Invoke(ctx, func(env *engine.Env) error {
		var lerr error
		ns, lerr = loader.Load(env.Context(), env, filepath.Join(dir, loader.ArchiveFile))
		return lerr
	})
	if err != nil {
		return nil, err
	}

	set, err := binding.Bind(ns, class.String())
	if err != nil {
		ns.Close(ctx)
		return nil, err
	}

	obj := bridge.New(ns, set, bridge.Options{
		Strings:          p.Strings,
		Logger:           p.Logger,
		InstanceName:     p.InstanceName,
		ResourceLocation: dir,
		DisableBulk:      settings.Bridge.DisableBulk,
	})
	if err := obj.Construct(ctx); err != nil {
		obj.Release(ctx)
		ns.Close(ctx)
		return nil, err
	}

	log := p.Logger
	if log == nil {
		log = Logger()
	}
	s := &Slave{
		ns:       ns,
		obj:      obj,
		log:      log.With(zap.String("instance", p.InstanceName)),
		name:     p.InstanceName,
		dir:      dir,
		class:    class.String(),
		params:   p,
		settings: settings,
	}
	s.log.Info("slave instantiated",
		zap.String("class", s.class),
		zap.String("resources", dir),
		zap.Bool("bulk", obj.Bulk()))
	return s, nil
}

func resolveSettings(p Params) (config.Settings, error) {
	if p.Settings != nil {
		return *p.Settings, nil
	}
	return config.Process()
}

func (s *Slave) InstanceName() string { return s.name }

// ResourceDir returns the resource directory after URI prefix stripping.
func (s *Slave) ResourceDir() string { return s.dir }

// Class returns the qualified class named by the manifest.
func (s *Slave) Class() string { return s.class }

// Bulk reports whether GetAll and SetAll take the single-call path.
func (s *Slave) Bulk() bool { return s.obj.Bulk() }

// Params returns the parameters the slave was instantiated with.
func (s *Slave) Params() Params { return s.params }

// Object exposes the underlying bridge object.
func (s *Slave) Object() *bridge.Object { return s.obj }

// SetupExperiment forwards the experiment setup. Undefined tolerance and
// stop time fall back to the instantiation Params. The guest receives
// (start, stop, tolerance) with values still undefined passed as -1.
func (s *Slave) SetupExperiment(ctx context.Context, tolerance Optional, start float64, stop Optional) error {
	if err := s.check(); err != nil {
		return err
	}
	tolerance = tolerance.or(s.params.Tolerance)
	stop = stop.or(s.params.StopTime)
	return s.obj.SetupExperiment(ctx, &start, stop.ptr(), tolerance.ptr())
}

func (s *Slave) EnterInitializationMode(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.EnterInitializationMode(ctx)
}

func (s *Slave) ExitInitializationMode(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.ExitInitializationMode(ctx)
}

// DoStep advances the slave. It returns false when the guest step failed.
func (s *Slave) DoStep(ctx context.Context, t, dt float64) bool {
	if s.freed {
		return false
	}
	return s.obj.DoStep(ctx, t, dt)
}

func (s *Slave) Terminate(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.Terminate(ctx)
}

// Reset closes the guest object and constructs a fresh one. Bindings are
// not re-resolved.
func (s *Slave) Reset(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.obj.Close(ctx); err != nil {
		return err
	}
	return s.obj.Construct(ctx)
}

// Free closes the guest object, then releases it and the namespace. The
// release happens even when close fails; its error is returned.
func (s *Slave) Free(ctx context.Context) error {
	if s.freed {
		return nil
	}
	s.freed = true

	err := s.obj.Close(ctx)
	if err != nil {
		s.log.Warn("close failed during free", zap.Error(err))
	}
	s.obj.Release(ctx)
	if cerr := s.ns.Close(ctx); cerr != nil {
		s.log.Warn("namespace close failed", zap.Error(cerr))
	}
	s.log.Debug("slave freed")
	return err
}

func (s *Slave) GetInteger(ctx context.Context, refs []uint64, dst []int32) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.GetInteger(ctx, refs, dst)
}

func (s *Slave) GetReal(ctx context.Context, refs []uint64, dst []float64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.GetReal(ctx, refs, dst)
}

func (s *Slave) GetBoolean(ctx context.Context, refs []uint64, dst []bool) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.GetBoolean(ctx, refs, dst)
}

// GetString reads string variables into dst. The strings belong to the
// caller.
func (s *Slave) GetString(ctx context.Context, refs []uint64, dst []string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.GetString(ctx, refs, dst)
}

func (s *Slave) SetInteger(ctx context.Context, refs []uint64, vals []int32) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.SetInteger(ctx, refs, vals)
}

func (s *Slave) SetReal(ctx context.Context, refs []uint64, vals []float64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.SetReal(ctx, refs, vals)
}

func (s *Slave) SetBoolean(ctx context.Context, refs []uint64, vals []bool) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.SetBoolean(ctx, refs, vals)
}

func (s *Slave) SetString(ctx context.Context, refs []uint64, vals []string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.SetString(ctx, refs, vals)
}

func (s *Slave) GetAll(ctx context.Context, refs Refs, dst Values) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.GetAll(ctx, refs, dst)
}

func (s *Slave) SetAll(ctx context.Context, refs Refs, vals Values) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.obj.SetAll(ctx, refs, vals)
}

func (s *Slave) check() error {
	if s.freed {
		return errors.Closed(errors.PhaseCall, "slave "+s.name)
	}
	return nil
}
