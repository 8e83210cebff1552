package binding

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/loader"
	"github.com/wippyai/wasm-fmu/transcoder"
)

// Entry is one resolved entry point of a namespace.
type Entry struct {
	Fn     api.Function
	Post   api.Function
	Class  string
	Name   string
	Export string
	Sig    transcoder.Signature
}

// Call invokes the entry. A guest trap is reported as a guest_trap error
// naming the class and method.
func (e *Entry) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	res, err := e.Fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.GuestTrap(e.Class, e.Name, err)
	}
	return res, nil
}

// PostReturn runs the guest's post-return hook for results, if exported.
func (e *Entry) PostReturn(ctx context.Context, results []uint64) error {
	if e.Post == nil {
		return nil
	}
	if _, err := e.Post.Call(ctx, results...); err != nil {
		return errors.GuestTrap(e.Class, e.Name, err)
	}
	return nil
}

// resolved is the validated, instance-independent part of an entry.
type resolved struct {
	name   string
	export string
	post   string
	sig    transcoder.Signature
}

// table is the validated binding of one slave type.
type table struct {
	methods   map[string]resolved
	accessors [len(Kinds)]resolved
	ctor      resolved
	dtor      *resolved
	bulkDtor  *resolved
	class     string
	bulkClass string
	bulk      bool
}

var cache = struct {
	tables map[string]*table
	sync.Mutex
	hits   int
	misses int
}{tables: make(map[string]*table)}

// CacheStats returns binding cache hits and misses since process start.
func CacheStats() (hits, misses int) {
	cache.Lock()
	defer cache.Unlock()
	return cache.hits, cache.misses
}

// Set is the binding of one slave type materialized for one namespace.
type Set struct {
	ctor      *Entry
	dtor      *Entry
	methods   map[string]*Entry
	accessors [len(Kinds)]*Entry
	bulkDtor  *Entry
	class     string
	bulk      bool
}

// Bind resolves every entry point of class in ns. Validation runs once per
// slave type; later namespaces loaded from the same archive reuse it.
func Bind(ns *loader.Namespace, class string) (*Set, error) {
	key := ns.ID() + "\x00" + class

	cache.Lock()
	t, ok := cache.tables[key]
	if ok {
		cache.hits++
	}
	cache.Unlock()

	if !ok {
		var err error
		t, err = validate(ns, class)
		if err != nil {
			return nil, err
		}
		cache.Lock()
		cache.misses++
		cache.tables[key] = t
		cache.Unlock()
	}
	return materialize(ns, t)
}

func validate(ns *loader.Namespace, className string) (*table, error) {
	class, err := ns.Resolve(className, true)
	if err != nil {
		return nil, err
	}

	t := &table{class: className, methods: make(map[string]resolved)}

	name := class.Name()
	if t.ctor, err = check(ns, className, constructorSpec(), name.Constructor(), class.Constructor()); err != nil {
		return nil, err
	}
	if def := class.Destructor(); def != nil {
		r, err := check(ns, className, destructorSpec(), name.Destructor(), def)
		if err != nil {
			return nil, err
		}
		t.dtor = &r
	}
	for _, s := range lifecycleSpecs() {
		r, err := check(ns, className, s, name.Method(s.name), class.Method(s.name))
		if err != nil {
			return nil, err
		}
		t.methods[s.name] = r
	}

	if err := probeBulk(ns, class, t); err != nil {
		return nil, err
	}

	engine.Logger().Debug("class bound",
		zap.String("class", className),
		zap.Int("methods", len(t.methods)),
		zap.Bool("bulk", t.bulk))
	return t, nil
}

// probeBulk enables bulk access when the bulk type and every bulk entry
// point are exported. A missing entry disables bulk; a wrong signature is
// an error.
func probeBulk(ns *loader.Namespace, class *loader.Class, t *table) error {
	bulk, err := ns.Resolve(BulkClass, false)
	if err != nil || bulk == nil {
		return err
	}

	name := class.Name()
	bulkName := bulk.Name()
	var missing []string
	if class.Method(GetAll) == nil {
		missing = append(missing, name.Method(GetAll))
	}
	if class.Method(SetAll) == nil {
		missing = append(missing, name.Method(SetAll))
	}
	for _, k := range Kinds {
		if bulk.Method(k.BulkAccessor()) == nil {
			missing = append(missing, bulkName.Method(k.BulkAccessor()))
		}
	}
	if len(missing) > 0 {
		engine.Logger().Warn("bulk type present but incomplete, using scalar access",
			zap.String("class", t.class),
			zap.Strings("missing", missing))
		return nil
	}

	for _, s := range []spec{getAllSpec(), setAllSpec()} {
		r, err := check(ns, t.class, s, name.Method(s.name), class.Method(s.name))
		if err != nil {
			return err
		}
		t.methods[s.name] = r
	}
	for i, k := range Kinds {
		s := accessorSpec(k)
		r, err := check(ns, BulkClass, s, bulkName.Method(s.name), bulk.Method(s.name))
		if err != nil {
			return err
		}
		t.accessors[i] = r
	}
	if def := bulk.Destructor(); def != nil {
		r, err := check(ns, BulkClass, destructorSpec(), bulkName.Destructor(), def)
		if err != nil {
			return err
		}
		t.bulkDtor = &r
	}
	t.bulkClass = BulkClass
	t.bulk = true
	return nil
}

func check(ns *loader.Namespace, class string, s spec, export string, def api.FunctionDefinition) (resolved, error) {
	if def == nil {
		return resolved{}, errors.MethodNotFound(class, s.name)
	}
	sig := s.signature()
	if !sig.Matches(def) {
		got := transcoder.FormatTypes(def.ParamTypes()) + " -> " + transcoder.FormatTypes(def.ResultTypes())
		return resolved{}, errors.SignatureMismatch(class, s.name, sig.String(), got)
	}
	r := resolved{name: s.name, export: export, sig: sig}
	if post := engine.PostReturnName(export); ns.Module().ExportedFunctionDefinitions()[post] != nil {
		r.post = post
	}
	return r, nil
}

func materialize(ns *loader.Namespace, t *table) (*Set, error) {
	mod := ns.Module()
	entry := func(class string, r resolved) (*Entry, error) {
		fn := mod.ExportedFunction(r.export)
		if fn == nil {
			return nil, errors.MethodNotFound(class, r.name)
		}
		e := &Entry{Fn: fn, Class: class, Name: r.name, Export: r.export, Sig: r.sig}
		if r.post != "" {
			e.Post = mod.ExportedFunction(r.post)
		}
		return e, nil
	}

	s := &Set{class: t.class, methods: make(map[string]*Entry, len(t.methods)), bulk: t.bulk}
	var err error
	if s.ctor, err = entry(t.class, t.ctor); err != nil {
		return nil, err
	}
	if t.dtor != nil {
		if s.dtor, err = entry(t.class, *t.dtor); err != nil {
			return nil, err
		}
	}
	for name, r := range t.methods {
		if s.methods[name], err = entry(t.class, r); err != nil {
			return nil, err
		}
	}
	if t.bulk {
		for i, r := range t.accessors {
			if s.accessors[i], err = entry(t.bulkClass, r); err != nil {
				return nil, err
			}
		}
		if t.bulkDtor != nil {
			if s.bulkDtor, err = entry(t.bulkClass, *t.bulkDtor); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Class returns the bound class name.
func (s *Set) Class() string { return s.class }

func (s *Set) Constructor() *Entry { return s.ctor }

// Destructor returns the class destructor, or nil when the guest has none.
func (s *Set) Destructor() *Entry { return s.dtor }

// Method returns a bound method, or nil.
func (s *Set) Method(name string) *Entry { return s.methods[name] }

func (s *Set) Getter(k Kind) *Entry { return s.methods[k.Getter()] }
func (s *Set) Setter(k Kind) *Entry { return s.methods[k.Setter()] }

// Bulk reports whether get-all/set-all are available.
func (s *Set) Bulk() bool { return s.bulk }

// BulkAccessor returns the bulk-read accessor for k, or nil without bulk.
func (s *Set) BulkAccessor(k Kind) *Entry { return s.accessors[k] }

// BulkDestructor returns the bulk-read destructor, or nil.
func (s *Set) BulkDestructor() *Entry { return s.bulkDtor }
