// Package config loads bridge settings from TOML files and the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
)

// Settings file and environment names.
const (
	ResourceFile   = "bridge.toml"
	EnvConfig      = "FMU_BRIDGE_CONFIG"
	EnvLogLevel    = "FMU_BRIDGE_LOG_LEVEL"
	EnvDisableBulk = "FMU_BRIDGE_DISABLE_BULK"
	EnvCacheDir    = "FMU_BRIDGE_CACHE_DIR"
)

// Settings are the effective bridge settings.
type Settings struct {
	Runtime Runtime
	Log     Log
	Bridge  Bridge
}

type Runtime struct {
	CompilationCacheDir string
	MemoryLimitPages    uint32
	CloseOnContextDone  bool
}

type Log struct {
	Level string
}

type Bridge struct {
	DisableBulk bool
}

// fileConfig is the TOML key mapping of a settings file.
type fileConfig struct {
	Runtime struct {
		CompilationCacheDir string `toml:"compilation_cache_dir"`
		MemoryLimitPages    uint32 `toml:"memory_limit_pages"`
		CloseOnContextDone  bool   `toml:"close_on_context_done"`
	} `toml:"runtime"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Bridge struct {
		DisableBulk bool `toml:"disable_bulk"`
	} `toml:"bridge"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{Log: Log{Level: "warn"}}
}

// Process returns the process-wide settings: defaults, then the file named
// by FMU_BRIDGE_CONFIG if set, then environment overrides.
func Process() (Settings, error) {
	s := Default()
	if path := strings.TrimSpace(os.Getenv(EnvConfig)); path != "" {
		var err error
		if s, err = LoadFile(s, path); err != nil {
			return Settings{}, err
		}
	}
	return FromEnv(s)
}

// LoadFile overlays the keys defined in the TOML file at path onto base.
func LoadFile(base Settings, path string) (Settings, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, invalid(path, "unable to load settings", err)
	}

	s := base
	if meta.IsDefined("runtime", "compilation_cache_dir") {
		s.Runtime.CompilationCacheDir = strings.TrimSpace(raw.Runtime.CompilationCacheDir)
	}
	if meta.IsDefined("runtime", "memory_limit_pages") {
		s.Runtime.MemoryLimitPages = raw.Runtime.MemoryLimitPages
	}
	if meta.IsDefined("runtime", "close_on_context_done") {
		s.Runtime.CloseOnContextDone = raw.Runtime.CloseOnContextDone
	}
	if meta.IsDefined("log", "level") {
		s.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("bridge", "disable_bulk") {
		s.Bridge.DisableBulk = raw.Bridge.DisableBulk
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, invalid(path, "unknown key "+undecoded[0].String(), nil)
	}
	return s, s.validate(path)
}

// ForResources applies the [bridge] section of <dir>/bridge.toml, if the
// file exists. Runtime and log settings are process-wide and ignored here.
func ForResources(base Settings, dir string) (Settings, error) {
	path := filepath.Join(dir, ResourceFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	local, err := LoadFile(base, path)
	if err != nil {
		return Settings{}, err
	}
	s := base
	s.Bridge = local.Bridge
	return s, nil
}

// FromEnv applies environment overrides to s.
func FromEnv(s Settings) (Settings, error) {
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		s.Log.Level = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvCacheDir); ok {
		s.Runtime.CompilationCacheDir = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvDisableBulk); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Settings{}, invalid(EnvDisableBulk, "expected a boolean", err)
		}
		s.Bridge.DisableBulk = b
	}
	return s, s.validate("environment")
}

// Engine returns the runtime configuration for engine.Configure.
func (s Settings) Engine() engine.Config {
	return engine.Config{
		CompilationCacheDir: s.Runtime.CompilationCacheDir,
		MemoryLimitPages:    s.Runtime.MemoryLimitPages,
		CloseOnContextDone:  s.Runtime.CloseOnContextDone,
	}
}

// Level parses the configured log level.
func (s Settings) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(s.Log.Level)
	if err != nil {
		return zapcore.WarnLevel
	}
	return lvl
}

func (s Settings) validate(source string) error {
	if _, err := zapcore.ParseLevel(s.Log.Level); err != nil {
		return invalid(source, "invalid log level "+strconv.Quote(s.Log.Level), err)
	}
	if s.Runtime.MemoryLimitPages > 65536 {
		return invalid(source, "memory_limit_pages exceeds 65536", nil)
	}
	return nil
}

func invalid(source, detail string, cause error) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
		Path(source).
		Detail("%s", detail).
		Cause(cause).
		Build()
}
