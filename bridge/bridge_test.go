package bridge

import (
	"context"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-fmu/binding"
	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/internal/echoslave"
	"github.com/wippyai/wasm-fmu/loader"
)

type fixture struct {
	obj *Object
	ns  *loader.Namespace
}

func (fx *fixture) counter(name string) uint32 {
	return uint32(fx.ns.Module().ExportedGlobal(name).Get())
}

func newFixture(t *testing.T, guest echoslave.Options, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	env, err := engine.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ns, err := loader.LoadBytes(ctx, env, echoslave.Build(guest))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	class := guest.Class
	if class == "" {
		class = echoslave.Class
	}
	set, err := binding.Bind(ns, class)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if opts.InstanceName == "" {
		opts.InstanceName = "inst"
	}
	obj := New(ns, set, opts)
	if err := obj.Construct(ctx); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	t.Cleanup(func() {
		obj.Release(ctx)
		ns.Close(ctx)
	})
	return &fixture{obj: obj, ns: ns}
}

func TestObject_Construct(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{InstanceName: "tank", ResourceLocation: "/opt/res"})

	got := make([]string, 2)
	if err := fx.obj.GetString(ctx, []uint64{62, 63}, got); err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if diff := cmp.Diff([]string{"tank", "/opt/res"}, got); diff != "" {
		t.Errorf("constructor config (-want +got):\n%s", diff)
	}

	defines := make([]int32, 1)
	if err := fx.obj.GetInteger(ctx, []uint64{63}, defines); err != nil {
		t.Fatal(err)
	}
	if defines[0] != 1 {
		t.Errorf("define called %d times, want 1", defines[0])
	}
}

func TestObject_Reinitialize(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	first := fx.obj.Handle()

	if err := fx.obj.SetReal(ctx, []uint64{1}, []float64{42}); err != nil {
		t.Fatal(err)
	}
	if err := fx.obj.Construct(ctx); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if fx.obj.Handle() == first {
		t.Error("handle not replaced")
	}
	if fx.counter(echoslave.GlobalDrops) != 1 {
		t.Errorf("drops = %d, want 1", fx.counter(echoslave.GlobalDrops))
	}

	got := make([]float64, 1)
	if err := fx.obj.GetReal(ctx, []uint64{1}, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 {
		t.Errorf("value survived reconstruction: %v", got[0])
	}
}

func TestObject_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	o := fx.obj
	refs := []uint64{3, 0, 17}

	t.Run("integer", func(t *testing.T) {
		in := []int32{-7, 2147483647, 0}
		if err := o.SetInteger(ctx, refs, in); err != nil {
			t.Fatal(err)
		}
		out := make([]int32, len(refs))
		if err := o.GetInteger(ctx, refs, out); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("real", func(t *testing.T) {
		in := []float64{1.5, -0.25, 1e300}
		if err := o.SetReal(ctx, refs, in); err != nil {
			t.Fatal(err)
		}
		out := make([]float64, len(refs))
		if err := o.GetReal(ctx, refs, out); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("boolean", func(t *testing.T) {
		in := []bool{true, false, true}
		if err := o.SetBoolean(ctx, refs, in); err != nil {
			t.Fatal(err)
		}
		out := make([]bool, len(refs))
		if err := o.GetBoolean(ctx, refs, out); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("string", func(t *testing.T) {
		in := []string{"pump", "", "débit"}
		if err := o.SetString(ctx, refs, in); err != nil {
			t.Fatal(err)
		}
		out := make([]string, len(refs))
		if err := o.GetString(ctx, refs, out); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if err := o.SetReal(ctx, nil, nil); err != nil {
			t.Fatal(err)
		}
		if err := o.GetReal(ctx, nil, nil); err != nil {
			t.Fatal(err)
		}
	})
}

func TestObject_SetupExperiment(t *testing.T) {
	ctx := context.Background()
	stop := 10.0

	tests := []struct {
		name             string
		start, stop, tol *float64
		want             []float64
	}{
		{name: "all unset", want: []float64{Unset, Unset, Unset}},
		{name: "stop only", stop: &stop, want: []float64{Unset, 10, Unset}},
		{name: "all set", start: ptr(0.5), stop: &stop, tol: ptr(1e-6), want: []float64{0.5, 10, 1e-6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, echoslave.Options{}, Options{})
			if err := fx.obj.SetupExperiment(ctx, tt.start, tt.stop, tt.tol); err != nil {
				t.Fatalf("SetupExperiment: %v", err)
			}
			got := make([]float64, 3)
			if err := fx.obj.GetReal(ctx, []uint64{60, 61, 62}, got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(start, stop, tol) (-want +got):\n%s", diff)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestObject_DoStep(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	o := fx.obj

	if !o.DoStep(ctx, 1, 0.5) {
		t.Fatal("DoStep returned false")
	}
	got := make([]float64, 1)
	if err := o.GetReal(ctx, []uint64{63}, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 1.5 {
		t.Errorf("t+dt = %v, want 1.5", got[0])
	}

	// The guest traps on a non-positive step size.
	if o.DoStep(ctx, 1.5, 0) {
		t.Error("trapping step returned true")
	}
	if err := o.GetReal(ctx, []uint64{63}, got); err != nil {
		t.Fatalf("object unusable after failed step: %v", err)
	}
	if engine.Attached() != 0 {
		t.Errorf("attached = %d after step", engine.Attached())
	}
}

func TestObject_TrapIsFatal(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})

	err := fx.obj.GetReal(ctx, []uint64{echoslave.Slots}, make([]float64, 1))
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindGuestTrap {
		t.Fatalf("error = %v, want guest_trap", err)
	}
	if e.Method != binding.Real.Getter() {
		t.Errorf("trap names %q", e.Method)
	}
	if !errors.IsFatal(err) {
		t.Error("guest trap outside do-step must be fatal")
	}
}

func TestObject_InvalidInput(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	calls := fx.obj.Calls()

	err := fx.obj.SetInteger(ctx, []uint64{1, 2}, []int32{1})
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindInvalidInput {
		t.Fatalf("error = %v, want invalid_input", err)
	}
	if errors.IsFatal(err) {
		t.Error("length mismatch from the caller should not be fatal")
	}
	if err := fx.obj.GetAll(ctx, Refs{Real: []uint64{1}}, Values{}); err == nil {
		t.Error("GetAll accepted short output")
	}
	if fx.obj.Calls() != calls {
		t.Error("invalid input reached the guest")
	}
}

func TestObject_PostReturn(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})

	if err := fx.obj.GetReal(ctx, []uint64{0, 1}, make([]float64, 2)); err != nil {
		t.Fatal(err)
	}
	if err := fx.obj.GetInteger(ctx, []uint64{0}, make([]int32, 1)); err != nil {
		t.Fatal(err)
	}
	if n := fx.counter(echoslave.GlobalPostReturns); n != 1 {
		t.Errorf("post_returns = %d, want 1", n)
	}
}

func bulkInput() (Refs, Values) {
	refs := Refs{
		Integer: []uint64{1, 2},
		Real:    []uint64{4},
		Boolean: []uint64{5, 6, 7},
		String:  []uint64{8, 9},
	}
	vals := Values{
		Integer: []int32{11, -12},
		Real:    []float64{3.25},
		Boolean: []bool{false, true, true},
		String:  []string{"alpha", "omega"},
	}
	return refs, vals
}

func outputsFor(refs Refs) Values {
	return Values{
		Integer: make([]int32, len(refs.Integer)),
		Real:    make([]float64, len(refs.Real)),
		Boolean: make([]bool, len(refs.Boolean)),
		String:  make([]string, len(refs.String)),
	}
}

func TestObject_BulkMatchesFallback(t *testing.T) {
	ctx := context.Background()
	refs, vals := bulkInput()

	fixtures := map[string]*fixture{
		"bulk":     newFixture(t, echoslave.Options{Class: "bulk:eq/a#slave", Bulk: true}, Options{}),
		"disabled": newFixture(t, echoslave.Options{Class: "bulk:eq/b#slave", Bulk: true}, Options{DisableBulk: true}),
		"absent":   newFixture(t, echoslave.Options{Class: "bulk:eq/c#slave"}, Options{}),
	}
	results := make(map[string]Values)
	for name, fx := range fixtures {
		if err := fx.obj.SetAll(ctx, refs, vals); err != nil {
			t.Fatalf("%s SetAll: %v", name, err)
		}
		out := outputsFor(refs)
		if err := fx.obj.GetAll(ctx, refs, out); err != nil {
			t.Fatalf("%s GetAll: %v", name, err)
		}
		results[name] = out
	}

	for name, got := range results {
		if diff := cmp.Diff(vals, got); diff != "" {
			t.Errorf("%s (-want +got):\n%s", name, diff)
		}
	}

	if !fixtures["bulk"].obj.Bulk() || fixtures["disabled"].obj.Bulk() || fixtures["absent"].obj.Bulk() {
		t.Error("bulk flags wrong")
	}
	if n := fixtures["bulk"].counter(echoslave.GlobalBulkCalls); n != 2 {
		t.Errorf("bulk guest saw %d bulk calls, want 2", n)
	}
	if n := fixtures["disabled"].counter(echoslave.GlobalBulkCalls); n != 0 {
		t.Errorf("disabled bulk guest saw %d bulk calls", n)
	}
	// the bulk-read result is dropped after its accessors ran
	if n := fixtures["bulk"].counter(echoslave.GlobalDrops); n != 1 {
		t.Errorf("bulk result drops = %d, want 1", n)
	}
}

func TestObject_ClearPoints(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{Bulk: true}, Options{})
	o := fx.obj
	refs, vals := bulkInput()

	steps := map[string]func() error{
		"get-string": func() error { return o.GetString(ctx, []uint64{8}, make([]string, 1)) },
		"set-string": func() error { return o.SetString(ctx, []uint64{8}, []string{"x"}) },
		"get-all":    func() error { return o.GetAll(ctx, refs, outputsFor(refs)) },
		"set-all":    func() error { return o.SetAll(ctx, refs, vals) },
		"close":      func() error { return o.Close(ctx) },
	}
	for _, point := range clearPoints {
		step, ok := steps[point]
		if !ok {
			continue
		}
		before := o.Strings().Clears()
		if err := step(); err != nil {
			t.Fatalf("%s: %v", point, err)
		}
		if o.Strings().Clears() != before+1 {
			t.Errorf("%s did not clear the string arena", point)
		}
	}

	before := o.Strings().Clears()
	if err := o.GetReal(ctx, []uint64{1}, make([]float64, 1)); err != nil {
		t.Fatal(err)
	}
	if o.Strings().Clears() != before {
		t.Error("get-real cleared the string arena")
	}
}

func TestObject_StringsValidUntilClear(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	o := fx.obj

	if err := o.SetString(ctx, []uint64{0, 1}, []string{"first", "second"}); err != nil {
		t.Fatal(err)
	}
	got := make([]string, 2)
	if err := o.GetString(ctx, []uint64{0, 1}, got); err != nil {
		t.Fatal(err)
	}
	if !o.DoStep(ctx, 0, 1) {
		t.Fatal("step failed")
	}
	if err := o.GetReal(ctx, []uint64{0}, make([]float64, 1)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Errorf("strings changed before a clear point (-want +got):\n%s", diff)
	}
	if o.Strings().Len() != 2 {
		t.Errorf("arena holds %d strings, want 2", o.Strings().Len())
	}
}

func TestObject_StringsOwnedByCaller(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	o := fx.obj

	if err := o.SetString(ctx, []uint64{0, 1}, []string{"alpha", "omega"}); err != nil {
		t.Fatal(err)
	}
	first := make([]string, 1)
	if err := o.GetString(ctx, []uint64{0}, first); err != nil {
		t.Fatal(err)
	}
	held := first[0]
	seen := map[string]bool{held: true}

	second := make([]string, 1)
	if err := o.GetString(ctx, []uint64{1}, second); err != nil {
		t.Fatal(err)
	}
	if held != "alpha" || !seen["alpha"] {
		t.Errorf("earlier result changed to %q after a later GetString", held)
	}
	if got := cstring(o.Strings().Entry(0)); got != "omega" {
		t.Errorf("arena entry = %q, want omega", got)
	}
}

func TestObject_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	o := fx.obj

	for name, fn := range map[string]func(context.Context) error{
		"enter":     o.EnterInitializationMode,
		"exit":      o.ExitInitializationMode,
		"terminate": o.Terminate,
		"close":     o.Close,
	} {
		if err := fn(ctx); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if fx.counter(echoslave.GlobalClosed) != 1 {
		t.Error("guest close not called")
	}

	o.Release(ctx)
	if o.Live() {
		t.Error("object live after Release")
	}
	o.Release(ctx)
	if fx.counter(echoslave.GlobalDrops) != 1 {
		t.Errorf("drops = %d, want 1", fx.counter(echoslave.GlobalDrops))
	}

	err := o.Terminate(ctx)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindNotInitialized {
		t.Errorf("call after Release = %v, want not_initialized", err)
	}
	if o.DoStep(ctx, 0, 1) {
		t.Error("DoStep succeeded without a guest object")
	}
}

func TestObject_ClosedNamespace(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, echoslave.Options{}, Options{})
	if err := fx.ns.Close(ctx); err != nil {
		t.Fatal(err)
	}
	err := fx.obj.Terminate(ctx)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Errorf("error = %v, want closed", err)
	}
}

func cstring(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}
