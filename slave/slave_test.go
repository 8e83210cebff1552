package slave

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-fmu/config"
	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/internal/echoslave"
	"github.com/wippyai/wasm-fmu/loader"
)

func resources(t *testing.T, opts echoslave.Options) string {
	t.Helper()
	dir := t.TempDir()
	if err := echoslave.WriteResources(dir, opts); err != nil {
		t.Fatal(err)
	}
	return dir
}

func instantiate(t *testing.T, dir string) *Slave {
	t.Helper()
	settings := config.Default()
	s, err := Instantiate(context.Background(), Params{
		Settings:         &settings,
		InstanceName:     "unit",
		ResourceLocation: "file:///" + dir,
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { s.Free(context.Background()) })
	return s
}

func TestResourcePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"file:///x", "x"},
		{"file://x", "x"},
		{"file:/x", "x"},
		{"file:///opt/fmu/resources", "opt/fmu/resources"},
		{"file:////opt/fmu", "/opt/fmu"},
		{"/opt/fmu", "/opt/fmu"},
		{"x", "x"},
	}
	for _, tt := range tests {
		if got := ResourcePath(tt.in); got != tt.want {
			t.Errorf("ResourcePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInstantiate(t *testing.T) {
	ctx := context.Background()
	dir := resources(t, echoslave.Options{})
	s := instantiate(t, dir)

	if s.Class() != echoslave.Class {
		t.Errorf("Class = %q", s.Class())
	}
	if s.ResourceDir() != dir {
		t.Errorf("ResourceDir = %q, want %q", s.ResourceDir(), dir)
	}

	got := make([]string, 2)
	if err := s.GetString(ctx, []uint64{62, 63}, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"unit", dir}, got); diff != "" {
		t.Errorf("constructor config (-want +got):\n%s", diff)
	}
}

func TestInstantiate_Errors(t *testing.T) {
	settings := config.Default()
	tests := []struct {
		name     string
		setup    func(t *testing.T) string
		contains string
	}{
		{
			name:     "missing manifest",
			setup:    func(t *testing.T) string { return t.TempDir() },
			contains: loader.ManifestFile,
		},
		{
			name: "missing archive",
			setup: func(t *testing.T) string {
				dir := resources(t, echoslave.Options{})
				os.Remove(filepath.Join(dir, loader.ArchiveFile))
				return dir
			},
			contains: loader.ArchiveFile,
		},
		{
			name: "unknown class",
			setup: func(t *testing.T) string {
				dir := resources(t, echoslave.Options{})
				os.WriteFile(filepath.Join(dir, loader.ManifestFile), []byte("no:such/model#ghost\n"), 0o644)
				return dir
			},
			contains: "no:such/model#ghost",
		},
		{
			name: "missing method",
			setup: func(t *testing.T) string {
				return resources(t, echoslave.Options{Class: "slave:err/a#m", Omit: []string{"terminate"}})
			},
			contains: "terminate",
		},
		{
			name: "bad bridge settings",
			setup: func(t *testing.T) string {
				dir := resources(t, echoslave.Options{})
				os.WriteFile(filepath.Join(dir, config.ResourceFile), []byte("[bridge\n"), 0o644)
				return dir
			},
			contains: config.ResourceFile,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			_, err := Instantiate(context.Background(), Params{
				Settings:         &settings,
				InstanceName:     "broken",
				ResourceLocation: "file:///" + dir,
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsFatal(err) {
				t.Errorf("construction error must be fatal: %v", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not mention %q", err, tt.contains)
			}
		})
	}
}

func TestSlave_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := instantiate(t, resources(t, echoslave.Options{}))

	if err := s.SetupExperiment(ctx, Unset(), 0, Value(10)); err != nil {
		t.Fatal(err)
	}
	got := make([]float64, 3)
	if err := s.GetReal(ctx, []uint64{60, 61, 62}, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 10, -1}, got); diff != "" {
		t.Errorf("(start, stop, tol) (-want +got):\n%s", diff)
	}

	if err := s.EnterInitializationMode(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.ExitInitializationMode(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if !s.DoStep(ctx, float64(i)*0.1, 0.1) {
			t.Fatalf("step %d failed", i)
		}
	}
	if s.DoStep(ctx, 0.3, -0.1) {
		t.Error("trapping step reported success")
	}
	if err := s.Terminate(ctx); err != nil {
		t.Fatal(err)
	}
	if engine.Attached() != 0 {
		t.Errorf("attached = %d", engine.Attached())
	}
}

func TestSlave_SetupDefaults(t *testing.T) {
	ctx := context.Background()
	settings := config.Default()
	s, err := Instantiate(ctx, Params{
		Settings:         &settings,
		InstanceName:     "defaults",
		ResourceLocation: resources(t, echoslave.Options{}),
		Tolerance:        Value(1e-4),
		StopTime:         Value(5),
	})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer s.Free(ctx)

	tests := []struct {
		name      string
		tolerance Optional
		start     float64
		stop      Optional
		want      []float64
	}{
		{name: "instantiation defaults", tolerance: Unset(), start: 0, stop: Unset(), want: []float64{0, 5, 1e-4}},
		{name: "explicit values win", tolerance: Value(1e-6), start: 1, stop: Value(2), want: []float64{1, 2, 1e-6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetupExperiment(ctx, tt.tolerance, tt.start, tt.stop); err != nil {
				t.Fatal(err)
			}
			got := make([]float64, 3)
			if err := s.GetReal(ctx, []uint64{60, 61, 62}, got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(start, stop, tol) (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInstantiate_NamedGuest(t *testing.T) {
	ctx := context.Background()
	s := instantiate(t, resources(t, echoslave.Options{Names: true}))
	if err := s.SetString(ctx, []uint64{2}, []string{"named"}); err != nil {
		t.Fatal(err)
	}
	got := make([]string, 1)
	if err := s.GetString(ctx, []uint64{2}, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != "named" {
		t.Errorf("GetString = %q", got[0])
	}
}

func TestSlave_Reset(t *testing.T) {
	ctx := context.Background()
	s := instantiate(t, resources(t, echoslave.Options{}))

	if err := s.SetInteger(ctx, []uint64{5}, []int32{99}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetString(ctx, []uint64{5}, []string{"stale"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	ints := make([]int32, 2)
	if err := s.GetInteger(ctx, []uint64{5, 63}, ints); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{0, 1}, ints); diff != "" {
		t.Errorf("after reset (value, define count) (-want +got):\n%s", diff)
	}
	strs := make([]string, 1)
	if err := s.GetString(ctx, []uint64{5}, strs); err != nil {
		t.Fatal(err)
	}
	if strs[0] != "" {
		t.Errorf("string survived reset: %q", strs[0])
	}
}

func TestSlave_BulkFallbackEquivalence(t *testing.T) {
	ctx := context.Background()
	refs := Refs{
		Integer: []uint64{0, 1},
		Real:    []uint64{2},
		Boolean: []uint64{3},
		String:  []uint64{4, 5},
	}
	vals := Values{
		Integer: []int32{4, 8},
		Real:    []float64{15.16},
		Boolean: []bool{true},
		String:  []string{"twenty", "three"},
	}

	var outputs []Values
	for _, opts := range []echoslave.Options{
		{Class: "slave:bulk/on#m", Bulk: true},
		{Class: "slave:bulk/off#m"},
	} {
		s := instantiate(t, resources(t, opts))
		if s.Bulk() != opts.Bulk {
			t.Fatalf("%s: Bulk = %v", opts.Class, s.Bulk())
		}
		if err := s.SetAll(ctx, refs, vals); err != nil {
			t.Fatalf("%s SetAll: %v", opts.Class, err)
		}
		out := Values{
			Integer: make([]int32, 2),
			Real:    make([]float64, 1),
			Boolean: make([]bool, 1),
			String:  make([]string, 2),
		}
		if err := s.GetAll(ctx, refs, out); err != nil {
			t.Fatalf("%s GetAll: %v", opts.Class, err)
		}
		outputs = append(outputs, out)
	}
	if diff := cmp.Diff(outputs[0], outputs[1]); diff != "" {
		t.Errorf("bulk and fallback differ (-bulk +fallback):\n%s", diff)
	}
	if diff := cmp.Diff(vals, outputs[0]); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSlave_DisableBulkFromResources(t *testing.T) {
	dir := resources(t, echoslave.Options{Class: "slave:bulk/cfg#m", Bulk: true})
	if err := os.WriteFile(filepath.Join(dir, config.ResourceFile), []byte("[bridge]\ndisable_bulk = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := instantiate(t, dir)
	if s.Bulk() {
		t.Error("bridge.toml disable_bulk ignored")
	}
}

func TestSlave_Free(t *testing.T) {
	ctx := context.Background()
	settings := config.Default()
	s, err := Instantiate(ctx, Params{
		Settings:         &settings,
		InstanceName:     "free",
		ResourceLocation: resources(t, echoslave.Options{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	ns := s.ns

	if err := s.Free(ctx); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if !ns.Closed() {
		t.Error("namespace not closed")
	}
	if s.Object().Live() {
		t.Error("guest object still live")
	}
	if err := s.Free(ctx); err != nil {
		t.Errorf("second Free: %v", err)
	}

	err = s.Terminate(ctx)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Errorf("call after Free = %v, want closed", err)
	}
	if s.DoStep(ctx, 0, 1) {
		t.Error("DoStep after Free succeeded")
	}
}

func TestSlave_FreeAfterFailedClose(t *testing.T) {
	ctx := context.Background()
	settings := config.Default()
	s, err := Instantiate(ctx, Params{
		Settings:         &settings,
		InstanceName:     "noclose",
		ResourceLocation: resources(t, echoslave.Options{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Dropping the guest object first makes the guest close call fail.
	s.Object().Release(ctx)

	if err := s.Free(ctx); err == nil {
		t.Error("expected the close error")
	}
	if !s.ns.Closed() {
		t.Error("namespace must be released even when close fails")
	}
}
