package echoslave

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const scratch = 100000

type guest struct {
	t   *testing.T
	mod api.Module
}

func newGuest(t *testing.T, opts Options) *guest {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })

	mod, err := rt.Instantiate(ctx, Build(opts))
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return &guest{t: t, mod: mod}
}

func (g *guest) call(name string, args ...uint64) ([]uint64, error) {
	g.t.Helper()
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		g.t.Fatalf("export %q not found", name)
	}
	return fn.Call(context.Background(), args...)
}

func (g *guest) mustCall(name string, args ...uint64) []uint64 {
	g.t.Helper()
	res, err := g.call(name, args...)
	if err != nil {
		g.t.Fatalf("%s: %v", name, err)
	}
	return res
}

func (g *guest) counter(name string) uint32 {
	return uint32(g.mod.ExportedGlobal(name).Get())
}

func method(name string) string {
	return "example:echo/model#[method]echo-slave." + name
}

func TestBuild_Exports(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	tests := []struct {
		name    string
		opts    Options
		present []string
		absent  []string
	}{
		{
			name:    "default",
			present: []string{"cabi_realloc", "example:echo/model#[constructor]echo-slave", "example:echo/model#[dtor]echo-slave", method("do-step")},
			absent:  []string{method("get-all"), "fmu:export/bulk#[method]bulk-read.int-values"},
		},
		{
			name:    "bulk",
			opts:    Options{Bulk: true},
			present: []string{method("get-all"), method("set-all"), "fmu:export/bulk#[method]bulk-read.string-values", "fmu:export/bulk#[dtor]bulk-read"},
		},
		{
			name:   "omitted",
			opts:   Options{Omit: []string{"terminate"}, NoDtor: true},
			absent: []string{method("terminate"), "example:echo/model#[dtor]echo-slave"},
		},
		{
			name:    "custom class",
			opts:    Options{Class: "acme:plant/sim#tank"},
			present: []string{"acme:plant/sim#[constructor]tank", "acme:plant/sim#[method]tank.get-real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := rt.CompileModule(ctx, Build(tt.opts))
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			defs := compiled.ExportedFunctions()
			for _, name := range tt.present {
				if defs[name] == nil {
					t.Errorf("missing export %q", name)
				}
			}
			for _, name := range tt.absent {
				if defs[name] != nil {
					t.Errorf("unexpected export %q", name)
				}
			}
		})
	}
}

func TestBuild_Mismatch(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, Build(Options{Mismatch: []string{"do-step"}}))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	def := compiled.ExportedFunctions()[method("do-step")]
	if def == nil {
		t.Fatal("do-step not exported")
	}
	if got := def.ParamTypes(); len(got) != 1 || got[0] != api.ValueTypeI64 {
		t.Errorf("params = %v, want [i64]", got)
	}
}

func TestGuest_ConstructorConfig(t *testing.T) {
	g := newGuest(t, Options{})
	mem := g.mod.Memory()

	mem.Write(scratch+100, []byte("instanceNameinst1resourceLocation/tmp/res"))
	cfg := make([]byte, 32)
	binary.LittleEndian.PutUint32(cfg[0:], scratch+100)
	binary.LittleEndian.PutUint32(cfg[4:], 12)
	binary.LittleEndian.PutUint32(cfg[8:], scratch+112)
	binary.LittleEndian.PutUint32(cfg[12:], 5)
	binary.LittleEndian.PutUint32(cfg[16:], scratch+117)
	binary.LittleEndian.PutUint32(cfg[20:], 16)
	binary.LittleEndian.PutUint32(cfg[24:], scratch+133)
	binary.LittleEndian.PutUint32(cfg[28:], 8)
	mem.Write(scratch, cfg)

	h := g.mustCall("example:echo/model#[constructor]echo-slave", scratch, 2)[0]
	if h != 1 {
		t.Fatalf("handle = %d, want 1", h)
	}

	// get-string([62, 63])
	refs := make([]byte, 16)
	binary.LittleEndian.PutUint64(refs[0:], 62)
	binary.LittleEndian.PutUint64(refs[8:], 63)
	mem.Write(scratch+200, refs)
	ret := uint32(g.mustCall(method("get-string"), h, scratch+200, 2)[0])

	ptr, _ := mem.ReadUint32Le(ret)
	n, _ := mem.ReadUint32Le(ret + 4)
	if n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	var got []string
	for i := uint32(0); i < n; i++ {
		sp, _ := mem.ReadUint32Le(ptr + i*8)
		sl, _ := mem.ReadUint32Le(ptr + i*8 + 4)
		b, _ := mem.Read(sp, sl)
		got = append(got, string(b))
	}
	if strings.Join(got, ",") != "inst1,/tmp/res" {
		t.Errorf("config values = %v", got)
	}
}

func TestGuest_RealEchoAndStep(t *testing.T) {
	g := newGuest(t, Options{})
	mem := g.mod.Memory()

	h := g.mustCall("example:echo/model#[constructor]echo-slave", 0, 0)[0]
	g.mustCall(method("define"), h)

	refs := make([]byte, 8)
	binary.LittleEndian.PutUint64(refs, 5)
	mem.Write(scratch, refs)
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, math.Float64bits(2.5))
	mem.Write(scratch+8, data)

	g.mustCall(method("set-real"), h, scratch, 1, scratch+8, 1)
	ret := uint32(g.mustCall(method("get-real"), h, scratch, 1)[0])
	ptr, _ := mem.ReadUint32Le(ret)
	v, _ := mem.ReadFloat64Le(ptr)
	if v != 2.5 {
		t.Errorf("real[5] = %v, want 2.5", v)
	}

	g.mustCall(method("do-step"), h, api.EncodeF64(1), api.EncodeF64(0.5))
	binary.LittleEndian.PutUint64(refs, 63)
	mem.Write(scratch, refs)
	ret = uint32(g.mustCall(method("get-real"), h, scratch, 1)[0])
	ptr, _ = mem.ReadUint32Le(ret)
	if v, _ := mem.ReadFloat64Le(ptr); v != 1.5 {
		t.Errorf("t+dt = %v, want 1.5", v)
	}

	if _, err := g.call(method("do-step"), h, api.EncodeF64(1), api.EncodeF64(0)); err == nil {
		t.Error("do-step with dt=0 should trap")
	}
}

func TestGuest_HandleChecks(t *testing.T) {
	g := newGuest(t, Options{})

	h := g.mustCall("example:echo/model#[constructor]echo-slave", 0, 0)[0]
	if _, err := g.call(method("terminate"), h+1); err == nil {
		t.Error("stale handle should trap")
	}
	g.mustCall(method("close"), h)
	if g.counter(GlobalClosed) != 1 {
		t.Error("close not recorded")
	}
	g.mustCall("example:echo/model#[dtor]echo-slave", h)
	if g.counter(GlobalDrops) != 1 {
		t.Errorf("drops = %d, want 1", g.counter(GlobalDrops))
	}
	if _, err := g.call(method("terminate"), h); err == nil {
		t.Error("dropped handle should trap")
	}
}

func TestGuest_BulkGetAll(t *testing.T) {
	g := newGuest(t, Options{Bulk: true})
	mem := g.mod.Memory()

	h := g.mustCall("example:echo/model#[constructor]echo-slave", 0, 0)[0]

	refs := make([]byte, 8)
	binary.LittleEndian.PutUint64(refs, 3)
	mem.Write(scratch, refs)
	ival := make([]byte, 4)
	binary.LittleEndian.PutUint32(ival, 77)
	mem.Write(scratch+8, ival)
	g.mustCall(method("set-integer"), h, scratch, 1, scratch+8, 1)

	rec := uint32(g.mustCall(method("get-all"), h, scratch, 1, 0, 0, 0, 0, 0, 0)[0])
	ret := uint32(g.mustCall("fmu:export/bulk#[method]bulk-read.int-values", uint64(rec))[0])
	ptr, _ := mem.ReadUint32Le(ret)
	n, _ := mem.ReadUint32Le(ret + 4)
	v, _ := mem.ReadUint32Le(ptr)
	if n != 1 || v != 77 {
		t.Errorf("int-values = (%d items, %d), want (1, 77)", n, v)
	}
	ret = uint32(g.mustCall("fmu:export/bulk#[method]bulk-read.real-values", uint64(rec))[0])
	if n, _ := mem.ReadUint32Le(ret + 4); n != 0 {
		t.Errorf("real-values len = %d, want 0", n)
	}
	if g.counter(GlobalBulkCalls) != 1 {
		t.Errorf("bulk_calls = %d, want 1", g.counter(GlobalBulkCalls))
	}
}

func TestWriteResources(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "resources")
	if err := WriteResources(dir, Options{}); err != nil {
		t.Fatalf("WriteResources: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "mainclass.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != Class {
		t.Errorf("mainclass = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "model.wasm")); err != nil {
		t.Errorf("model.wasm: %v", err)
	}
}
