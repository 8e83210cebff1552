package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-fmu/binding"
	"github.com/wippyai/wasm-fmu/errors"
	"github.com/wippyai/wasm-fmu/transcoder"
)

// Refs holds the value references of a bulk access, one list per kind.
type Refs struct {
	Integer []uint64
	Real    []uint64
	Boolean []uint64
	String  []uint64
}

func (r Refs) of(k binding.Kind) []uint64 {
	switch k {
	case binding.Integer:
		return r.Integer
	case binding.Real:
		return r.Real
	case binding.Boolean:
		return r.Boolean
	}
	return r.String
}

// Values holds the values of a bulk access, parallel to Refs.
type Values struct {
	Integer []int32
	Real    []float64
	Boolean []bool
	String  []string
}

func (v Values) len(k binding.Kind) int {
	switch k {
	case binding.Integer:
		return len(v.Integer)
	case binding.Real:
		return len(v.Real)
	case binding.Boolean:
		return len(v.Boolean)
	}
	return len(v.String)
}

// GetInteger reads the integer variables refs into dst.
func (o *Object) GetInteger(ctx context.Context, refs []uint64, dst []int32) error {
	return getScalar(ctx, o, binding.Integer, transcoder.S32, refs, dst)
}

// GetReal reads the real variables refs into dst.
func (o *Object) GetReal(ctx context.Context, refs []uint64, dst []float64) error {
	return getScalar(ctx, o, binding.Real, transcoder.F64, refs, dst)
}

// GetBoolean reads the boolean variables refs into dst.
func (o *Object) GetBoolean(ctx context.Context, refs []uint64, dst []bool) error {
	return getScalar(ctx, o, binding.Boolean, transcoder.Bool, refs, dst)
}

// GetString reads the string variables refs into dst. NUL-terminated copies
// are also kept in the object's arena until the next clear point.
func (o *Object) GetString(ctx context.Context, refs []uint64, dst []string) error {
	if err := checkLen(binding.String, len(refs), len(dst)); err != nil {
		return err
	}
	o.clear(clearGetString)
	return o.invoke(ctx, func(ctx context.Context) error {
		if err := get(ctx, o, binding.String, transcoder.String, refs, dst); err != nil {
			return err
		}
		o.intern(dst)
		return nil
	})
}

func (o *Object) SetInteger(ctx context.Context, refs []uint64, vals []int32) error {
	return setScalar(ctx, o, binding.Integer, transcoder.S32, refs, vals)
}

func (o *Object) SetReal(ctx context.Context, refs []uint64, vals []float64) error {
	return setScalar(ctx, o, binding.Real, transcoder.F64, refs, vals)
}

func (o *Object) SetBoolean(ctx context.Context, refs []uint64, vals []bool) error {
	return setScalar(ctx, o, binding.Boolean, transcoder.Bool, refs, vals)
}

// SetString writes the string variables refs. It clears the string arena.
func (o *Object) SetString(ctx context.Context, refs []uint64, vals []string) error {
	o.clear(clearSetString)
	return setScalar(ctx, o, binding.String, transcoder.String, refs, vals)
}

// GetAll reads every kind in one guest call when the guest supports bulk
// access, and through the four scalar getters otherwise. dst must have one
// element per reference of each kind.
func (o *Object) GetAll(ctx context.Context, refs Refs, dst Values) error {
	for _, k := range binding.Kinds {
		if err := checkLen(k, len(refs.of(k)), dst.len(k)); err != nil {
			return err
		}
	}
	o.clear(clearGetAll)
	return o.invoke(ctx, func(ctx context.Context) error {
		var err error
		if o.bulk {
			err = o.getBulk(ctx, refs, dst)
		} else {
			err = o.getEach(ctx, refs, dst)
		}
		if err != nil {
			return err
		}
		o.intern(dst.String)
		return nil
	})
}

func (o *Object) getEach(ctx context.Context, refs Refs, dst Values) error {
	if err := get(ctx, o, binding.Integer, transcoder.S32, refs.Integer, dst.Integer); err != nil {
		return err
	}
	if err := get(ctx, o, binding.Real, transcoder.F64, refs.Real, dst.Real); err != nil {
		return err
	}
	if err := get(ctx, o, binding.Boolean, transcoder.Bool, refs.Boolean, dst.Boolean); err != nil {
		return err
	}
	return get(ctx, o, binding.String, transcoder.String, refs.String, dst.String)
}

func (o *Object) getBulk(ctx context.Context, refs Refs, dst Values) (err error) {
	h, err := o.self()
	if err != nil {
		return err
	}

	f := o.frame(ctx)
	defer f.release()

	args := []uint64{h}
	for _, k := range binding.Kinds {
		ptr, n, err := lower(f, transcoder.U64, refs.of(k))
		if err != nil {
			return f.abort(err)
		}
		args = append(args, ptr, n)
	}
	res, err := o.call(ctx, o.set.Method(binding.GetAll), args...)
	if err != nil {
		return err
	}
	result := res[0]

	if d := o.set.BulkDestructor(); d != nil {
		defer func() {
			if _, derr := o.call(ctx, d, result); derr != nil && err == nil {
				err = derr
			}
		}()
	}

	if err = bulkValues(ctx, o, binding.Integer, transcoder.S32, result, dst.Integer); err != nil {
		return err
	}
	if err = bulkValues(ctx, o, binding.Real, transcoder.F64, result, dst.Real); err != nil {
		return err
	}
	if err = bulkValues(ctx, o, binding.Boolean, transcoder.Bool, result, dst.Boolean); err != nil {
		return err
	}
	return bulkValues(ctx, o, binding.String, transcoder.String, result, dst.String)
}

// bulkValues lifts one kind's values out of a bulk-read result.
func bulkValues[T any](ctx context.Context, o *Object, k binding.Kind, c transcoder.Codec[T], result uint64, dst []T) error {
	e := o.set.BulkAccessor(k)
	res, err := o.call(ctx, e, result)
	if err != nil {
		return err
	}
	return lift(ctx, o, e, c, res, dst)
}

// SetAll writes every kind in one guest call when the guest supports bulk
// access, and through the four scalar setters otherwise.
func (o *Object) SetAll(ctx context.Context, refs Refs, vals Values) error {
	for _, k := range binding.Kinds {
		if err := checkLen(k, len(refs.of(k)), vals.len(k)); err != nil {
			return err
		}
	}
	o.clear(clearSetAll)
	return o.invoke(ctx, func(ctx context.Context) error {
		if o.bulk {
			return o.setBulk(ctx, refs, vals)
		}
		if err := set(ctx, o, binding.Integer, transcoder.S32, refs.Integer, vals.Integer); err != nil {
			return err
		}
		if err := set(ctx, o, binding.Real, transcoder.F64, refs.Real, vals.Real); err != nil {
			return err
		}
		if err := set(ctx, o, binding.Boolean, transcoder.Bool, refs.Boolean, vals.Boolean); err != nil {
			return err
		}
		return set(ctx, o, binding.String, transcoder.String, refs.String, vals.String)
	})
}

func (o *Object) setBulk(ctx context.Context, refs Refs, vals Values) error {
	h, err := o.self()
	if err != nil {
		return err
	}

	f := o.frame(ctx)
	defer f.release()

	args := []uint64{h}
	var lerr error
	add := func(ptr, n uint64, err error) {
		if lerr == nil {
			lerr = err
		}
		args = append(args, ptr, n)
	}
	add(lower(f, transcoder.U64, refs.Integer))
	add(lower(f, transcoder.S32, vals.Integer))
	add(lower(f, transcoder.U64, refs.Real))
	add(lower(f, transcoder.F64, vals.Real))
	add(lower(f, transcoder.U64, refs.Boolean))
	add(lower(f, transcoder.Bool, vals.Boolean))
	add(lower(f, transcoder.U64, refs.String))
	add(lower(f, transcoder.String, vals.String))
	if lerr != nil {
		return f.abort(lerr)
	}

	e := o.set.Method(binding.SetAll)
	if e.Sig.Spilled {
		types := make([]api.ValueType, len(args))
		for i := range types {
			types[i] = api.ValueTypeI32
		}
		ptr, err := transcoder.Spill(args, types, f.mem, f.alloc, f.allocs)
		if err != nil {
			return f.abort(err)
		}
		args = []uint64{uint64(ptr)}
	}
	_, err = o.call(ctx, e, args...)
	return err
}

func (o *Object) intern(strs []string) {
	for _, s := range strs {
		o.strs.Put(s)
	}
}

func getScalar[T any](ctx context.Context, o *Object, k binding.Kind, c transcoder.Codec[T], refs []uint64, dst []T) error {
	if err := checkLen(k, len(refs), len(dst)); err != nil {
		return err
	}
	return o.invoke(ctx, func(ctx context.Context) error {
		return get(ctx, o, k, c, refs, dst)
	})
}

func setScalar[T any](ctx context.Context, o *Object, k binding.Kind, c transcoder.Codec[T], refs []uint64, vals []T) error {
	if err := checkLen(k, len(refs), len(vals)); err != nil {
		return err
	}
	return o.invoke(ctx, func(ctx context.Context) error {
		return set(ctx, o, k, c, refs, vals)
	})
}

// get calls the kind's getter and lifts its result into dst.
func get[T any](ctx context.Context, o *Object, k binding.Kind, c transcoder.Codec[T], refs []uint64, dst []T) error {
	h, err := o.self()
	if err != nil {
		return err
	}

	f := o.frame(ctx)
	defer f.release()

	ptr, n, err := lower(f, transcoder.U64, refs)
	if err != nil {
		return f.abort(err)
	}
	e := o.set.Getter(k)
	res, err := o.call(ctx, e, h, ptr, n)
	if err != nil {
		return err
	}
	return lift(ctx, o, e, c, res, dst)
}

func set[T any](ctx context.Context, o *Object, k binding.Kind, c transcoder.Codec[T], refs []uint64, vals []T) error {
	h, err := o.self()
	if err != nil {
		return err
	}

	f := o.frame(ctx)
	defer f.release()

	rptr, rn, err := lower(f, transcoder.U64, refs)
	if err != nil {
		return f.abort(err)
	}
	vptr, vn, err := lower(f, c, vals)
	if err != nil {
		return f.abort(err)
	}
	_, err = o.call(ctx, o.set.Setter(k), h, rptr, rn, vptr, vn)
	return err
}

// lift decodes the list a call returned through its retptr into dst, then
// runs the export's post-return hook.
func lift[T any](ctx context.Context, o *Object, e *binding.Entry, c transcoder.Codec[T], res []uint64, dst []T) error {
	mem := o.ns.Memory()
	ptr, n, err := transcoder.ReadRetPtr(mem, uint32(res[0]))
	if err == nil {
		err = transcoder.LiftInto(c, mem, ptr, n, dst)
	}
	if perr := e.PostReturn(ctx, res); err == nil {
		err = perr
	}
	if err != nil {
		var be *errors.Error
		if errors.As(err, &be) && be.Method == "" {
			be.Class = e.Class
			be.Method = e.Name
		}
	}
	return err
}

func checkLen(k binding.Kind, refs, vals int) error {
	if refs != vals {
		return errors.InvalidInput(errors.PhaseEncode, "%s: %d references for %d values", k, refs, vals)
	}
	return nil
}
