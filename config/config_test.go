package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-fmu/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "settings.toml", `
[runtime]
memory_limit_pages = 512
compilation_cache_dir = " /var/cache/fmu "

[log]
level = "debug"
`)
	got, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := Settings{
		Runtime: Runtime{CompilationCacheDir: "/var/cache/fmu", MemoryLimitPages: 512},
		Log:     Log{Level: "debug"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if got.Level() != zapcore.DebugLevel {
		t.Errorf("Level = %v", got.Level())
	}
	if cfg := got.Engine(); cfg.MemoryLimitPages != 512 || cfg.CompilationCacheDir != "/var/cache/fmu" {
		t.Errorf("Engine = %+v", cfg)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "syntax", content: "[runtime\n"},
		{name: "unknown key", content: "[bridge]\nfast = true\n"},
		{name: "bad level", content: "[log]\nlevel = \"loud\"\n"},
		{name: "too many pages", content: "[runtime]\nmemory_limit_pages = 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "settings.toml", tt.content)
			_, err := LoadFile(Default(), path)
			var e *errors.Error
			if !errors.As(err, &e) || e.Kind != errors.KindInvalidConfig {
				t.Fatalf("error = %v, want invalid_config", err)
			}
			if !errors.IsFatal(err) {
				t.Error("config errors must be fatal")
			}
		})
	}
}

func TestForResources(t *testing.T) {
	base := Default()
	base.Runtime.MemoryLimitPages = 64

	dir := t.TempDir()
	got, err := ForResources(base, dir)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if diff := cmp.Diff(base, got); diff != "" {
		t.Errorf("missing file changed settings (-want +got):\n%s", diff)
	}

	writeFile(t, dir, ResourceFile, "[bridge]\ndisable_bulk = true\n[runtime]\nmemory_limit_pages = 8\n")
	got, err = ForResources(base, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Bridge.DisableBulk {
		t.Error("bridge section not applied")
	}
	if got.Runtime.MemoryLimitPages != 64 {
		t.Error("runtime section must not apply per instance")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvDisableBulk, "1")
	t.Setenv(EnvCacheDir, "/tmp/cache")

	got, err := FromEnv(Default())
	if err != nil {
		t.Fatal(err)
	}
	want := Settings{
		Runtime: Runtime{CompilationCacheDir: "/tmp/cache"},
		Log:     Log{Level: "error"},
		Bridge:  Bridge{DisableBulk: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	t.Setenv(EnvDisableBulk, "sometimes")
	if _, err := FromEnv(Default()); err == nil {
		t.Error("expected error for invalid boolean")
	}
}

func TestProcess(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bridge.toml", "[log]\nlevel = \"info\"\n[bridge]\ndisable_bulk = true\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvLogLevel, "debug")

	got, err := Process()
	if err != nil {
		t.Fatal(err)
	}
	if got.Log.Level != "debug" {
		t.Errorf("env should override the file: level = %q", got.Log.Level)
	}
	if !got.Bridge.DisableBulk {
		t.Error("file setting lost")
	}
}
