package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
)

// compiled modules are owned by the process runtime and shared by digest
var compiled = struct {
	m map[string]wazero.CompiledModule
	sync.Mutex
}{m: make(map[string]wazero.CompiledModule)}

// Namespace is an isolated instance of a slave archive.
type Namespace struct {
	module  api.Module
	memory  *engine.Memory
	alloc   *engine.Allocator
	classes map[string]*Class
	digest  string
	closed  bool
}

// Load reads the archive at path and instantiates it into a new namespace.
func Load(ctx context.Context, env *engine.Env, path string) (*Namespace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Path(path).
			Detail("unable to read archive").
			Cause(err).
			Build()
	}
	return LoadBytes(ctx, env, data)
}

// LoadBytes instantiates an in-memory archive into a new namespace.
func LoadBytes(ctx context.Context, env *engine.Env, data []byte) (*Namespace, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	cm, err := compile(ctx, env.Runtime(), digest, data)
	if err != nil {
		return nil, err
	}

	// Anonymous instances let independent slaves load the same archive.
	mod, err := env.Runtime().InstantiateModule(ctx, cm, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Detail("unable to instantiate archive %s", digest[:12]).
			Cause(err).
			Build()
	}

	ns := &Namespace{
		module:  mod,
		memory:  engine.NewMemory(mod),
		alloc:   engine.NewAllocator(mod),
		classes: make(map[string]*Class),
		digest:  digest,
	}
	engine.Logger().Debug("namespace loaded",
		zap.String("digest", digest[:12]),
		zap.Int("exports", len(mod.ExportedFunctionDefinitions())),
		zap.Int("compiled", Compiled()))
	return ns, nil
}

func compile(ctx context.Context, rt wazero.Runtime, digest string, data []byte) (wazero.CompiledModule, error) {
	compiled.Lock()
	defer compiled.Unlock()

	if cm, ok := compiled.m[digest]; ok {
		return cm, nil
	}
	cm, err := rt.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.InvalidArchive(digest[:12], err)
	}
	compiled.m[digest] = cm
	return cm, nil
}

// Compiled returns the number of distinct archives compiled in this process.
func Compiled() int {
	compiled.Lock()
	defer compiled.Unlock()
	return len(compiled.m)
}

// ID identifies the archive: equal IDs mean identical code.
func (n *Namespace) ID() string {
	return n.digest
}

func (n *Namespace) Module() api.Module {
	return n.module
}

func (n *Namespace) Memory() *engine.Memory {
	return n.memory
}

func (n *Namespace) Allocator() *engine.Allocator {
	return n.alloc
}

// Resolve finds a class by qualified name. A missing required class is a
// fatal error naming it; a missing optional class yields (nil, nil).
func (n *Namespace) Resolve(name string, required bool) (*Class, error) {
	if n.closed {
		return nil, errors.Closed(errors.PhaseBind, "namespace")
	}
	if c, ok := n.classes[name]; ok {
		return c, nil
	}

	cn, err := ParseClassName(name)
	if err != nil {
		if required {
			return nil, err
		}
		return nil, nil
	}

	c := &Class{name: cn, ns: n, methods: make(map[string]api.FunctionDefinition)}
	prefix := cn.methodPrefix()
	for export, def := range n.module.ExportedFunctionDefinitions() {
		switch {
		case export == cn.Constructor():
			c.ctor = def
		case export == cn.Destructor():
			c.dtor = def
		case strings.HasPrefix(export, prefix):
			c.methods[export[len(prefix):]] = def
		}
	}

	if c.ctor == nil && c.dtor == nil && len(c.methods) == 0 {
		if required {
			return nil, errors.ClassNotFound(name)
		}
		return nil, nil
	}
	n.classes[name] = c
	return c, nil
}

// Close releases the module instance. It is safe to call more than once.
func (n *Namespace) Close(ctx context.Context) error {
	if n.closed {
		return nil
	}
	n.closed = true
	n.classes = nil
	return n.module.Close(ctx)
}

func (n *Namespace) Closed() bool {
	return n.closed
}

// Class is a resource type exported by a namespace.
type Class struct {
	ns      *Namespace
	ctor    api.FunctionDefinition
	dtor    api.FunctionDefinition
	methods map[string]api.FunctionDefinition
	name    ClassName
}

func (c *Class) Name() ClassName {
	return c.name
}

func (c *Class) Namespace() *Namespace {
	return c.ns
}

// Constructor returns the constructor definition, or nil.
func (c *Class) Constructor() api.FunctionDefinition {
	return c.ctor
}

// Destructor returns the destructor definition, or nil.
func (c *Class) Destructor() api.FunctionDefinition {
	return c.dtor
}

// Method returns a method definition, or nil.
func (c *Class) Method(name string) api.FunctionDefinition {
	return c.methods[name]
}

// Methods returns the exported method names.
func (c *Class) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	return names
}

// Function returns the callable export for def.
func (c *Class) Function(def api.FunctionDefinition) api.Function {
	if def == nil {
		return nil
	}
	return c.ns.module.ExportedFunction(def.ExportNames()[0])
}
