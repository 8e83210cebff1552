package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-fmu/bridge"
	"github.com/wippyai/wasm-fmu/config"
	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/internal/echoslave"
	"github.com/wippyai/wasm-fmu/slave"
)

type options struct {
	resources   string
	configFile  string
	logLevel    string
	reals       []uint64
	integers    []uint64
	steps       int
	dt          float64
	start       float64
	stop        float64
	interactive bool
	demo        bool
}

func main() {
	var (
		resources   = flag.String("resources", "", "FMU resources directory holding the guest archive")
		configFile  = flag.String("config", "", "Bridge settings file (TOML)")
		logLevel    = flag.String("log", "", "Log level (debug, info, warn, error)")
		realRefs    = flag.String("real", "", "Real value references to print (comma-separated)")
		intRefs     = flag.String("int", "", "Integer value references to print (comma-separated)")
		steps       = flag.Int("steps", 10, "Number of steps")
		dt          = flag.Float64("dt", 0.1, "Step size")
		start       = flag.Float64("start", 0, "Start time")
		stop        = flag.Float64("stop", -1, "Stop time (negative leaves it undefined)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		demo        = flag.Bool("demo", false, "Run the built-in echo slave")
	)
	flag.Parse()

	opts := options{
		resources:   *resources,
		configFile:  *configFile,
		logLevel:    *logLevel,
		steps:       *steps,
		dt:          *dt,
		start:       *start,
		stop:        *stop,
		interactive: *interactive,
		demo:        *demo,
	}
	var err error
	if opts.reals, err = parseRefs(*realRefs); err != nil {
		fail(fmt.Errorf("-real: %w", err))
	}
	if opts.integers, err = parseRefs(*intRefs); err != nil {
		fail(fmt.Errorf("-int: %w", err))
	}

	if opts.demo {
		dir, err := os.MkdirTemp("", "fmu-demo-")
		if err != nil {
			fail(err)
		}
		defer os.RemoveAll(dir)
		if err := echoslave.WriteResources(dir, echoslave.Options{Bulk: true}); err != nil {
			fail(err)
		}
		opts.resources = dir
		if len(opts.reals) == 0 {
			// t+dt of the last step
			opts.reals = []uint64{63}
		}
	}

	if opts.resources == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -resources <dir> [-steps N] [-dt s] [-real 0,1] [-int 2]")
		fmt.Fprintln(os.Stderr, "       run -resources <dir> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       run -demo [-i]")
		os.Exit(1)
	}

	settings, err := loadSettings(opts)
	if err != nil {
		fail(err)
	}
	log := newLogger(settings.Level())
	defer log.Sync()
	engine.SetLogger(log)
	bridge.SetLogger(log)
	slave.SetLogger(log)

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			log.Warn("stdout is not a terminal, running in batch mode")
		} else {
			if err := runInteractive(opts, settings); err != nil {
				fail(err)
			}
			return
		}
	}

	if err := run(context.Background(), opts, settings); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadSettings(opts options) (config.Settings, error) {
	s, err := config.Process()
	if err != nil {
		return s, err
	}
	if opts.configFile != "" {
		if s, err = config.LoadFile(s, opts.configFile); err != nil {
			return s, err
		}
	}
	if opts.logLevel != "" {
		s.Log.Level = opts.logLevel
		if _, err := zapcore.ParseLevel(opts.logLevel); err != nil {
			return s, fmt.Errorf("-log: %w", err)
		}
	}
	return s, nil
}

func newLogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// parseRefs parses a comma-separated list of value references.
func parseRefs(s string) ([]uint64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var refs []uint64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value reference %q", part)
		}
		refs = append(refs, v)
	}
	return refs, nil
}

func stopTime(opts options) slave.Optional {
	if opts.stop < 0 {
		return slave.Unset()
	}
	return slave.Value(opts.stop)
}

// startSlave instantiates the slave and brings it to step mode.
func startSlave(ctx context.Context, opts options, settings config.Settings) (*slave.Slave, error) {
	s, err := slave.Instantiate(ctx, slave.Params{
		Settings:         &settings,
		InstanceName:     "run",
		ResourceLocation: opts.resources,
		StopTime:         stopTime(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	if err := initialize(ctx, s, opts); err != nil {
		s.Free(ctx)
		return nil, err
	}
	return s, nil
}

func initialize(ctx context.Context, s *slave.Slave, opts options) error {
	if err := s.SetupExperiment(ctx, slave.Unset(), opts.start, stopTime(opts)); err != nil {
		return fmt.Errorf("setup experiment: %w", err)
	}
	if err := s.EnterInitializationMode(ctx); err != nil {
		return fmt.Errorf("enter initialization mode: %w", err)
	}
	if err := s.ExitInitializationMode(ctx); err != nil {
		return fmt.Errorf("exit initialization mode: %w", err)
	}
	return nil
}

// sample holds the printed values after one step.
type sample struct {
	reals    []float64
	integers []int32
}

func read(ctx context.Context, s *slave.Slave, opts options) (sample, error) {
	out := sample{
		reals:    make([]float64, len(opts.reals)),
		integers: make([]int32, len(opts.integers)),
	}
	err := s.GetAll(ctx, slave.Refs{Real: opts.reals, Integer: opts.integers}, slave.Values{
		Real:    out.reals,
		Integer: out.integers,
	})
	return out, err
}

func header(opts options) string {
	cols := []string{"t"}
	for _, r := range opts.reals {
		cols = append(cols, fmt.Sprintf("real[%d]", r))
	}
	for _, r := range opts.integers {
		cols = append(cols, fmt.Sprintf("int[%d]", r))
	}
	return strings.Join(cols, "\t")
}

func (v sample) row(t float64) string {
	cols := []string{strconv.FormatFloat(t, 'g', 6, 64)}
	for _, x := range v.reals {
		cols = append(cols, strconv.FormatFloat(x, 'g', 10, 64))
	}
	for _, x := range v.integers {
		cols = append(cols, strconv.FormatInt(int64(x), 10))
	}
	return strings.Join(cols, "\t")
}

func run(ctx context.Context, opts options, settings config.Settings) error {
	s, err := startSlave(ctx, opts, settings)
	if err != nil {
		return err
	}
	defer s.Free(ctx)

	fmt.Printf("Slave: %s (%s)\n", s.Class(), s.ResourceDir())
	fmt.Printf("Bulk access: %v\n\n", s.Bulk())
	fmt.Println(header(opts))

	t := opts.start
	for i := 0; i < opts.steps; i++ {
		if !s.DoStep(ctx, t, opts.dt) {
			return fmt.Errorf("step %d at t=%g discarded", i, t)
		}
		t += opts.dt
		v, err := read(ctx, s, opts)
		if err != nil {
			return fmt.Errorf("read values: %w", err)
		}
		fmt.Println(v.row(t))
	}

	if err := s.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}
