package kos

import (
	"github.com/pkg/errors"

	"github.com/kos-lang/kos-sub004/internal/heap"
	"github.com/kos-lang/kos-sub004/internal/objid"
	"github.com/kos-lang/kos-sub004/internal/proptable"
)

// DynamicPropertyFunc is called instead of returning a plain value when
// a property's stored value is itself a dynamic-property descriptor,
// intercepting the access with a getter/setter callback. The bytecode
// interpreter that would normally supply this is out of scope for this
// module; an embedder wires its own evaluator in through
// Instance.SetDynamicPropertyHooks.
type DynamicPropertyFunc func(ctx *Context, this, descriptor objid.ID) (objid.ID, error)

// SetDynamicPropertyHooks installs the getter/setter invoked whenever a
// stored property value has heap.TypeDynamicProperty. Leaving either
// nil disables interception for that direction: Get/Set then behave as
// plain storage for values of that type.
func (in *Instance) SetDynamicPropertyHooks(get, set DynamicPropertyFunc) {
	in.mu.Lock()
	in.dynGet, in.dynSet = get, set
	in.mu.Unlock()
}

func (in *Instance) propTableFor(id objid.ID) (*proptable.Table, error) {
	v, ok := in.objects.Load(id)
	if !ok {
		return nil, errors.Errorf("kos: %s has no property storage", id)
	}
	return v.(*proptable.Table), nil
}

// AllocObject allocates a new heap object of t (must be one of the
// property-bearing kinds: Object, Function, Class, Module, Iterator)
// with its own empty property table.
func (in *Instance) AllocObject(ctx *Context, t heap.Type, movable heap.Movability, protoID objid.ID) (objid.ID, error) {
	id, err := in.heap.Alloc(t, 8, movable, []objid.ID{protoID}, nil, in.helperCountFor(ctx))
	if err != nil {
		return objid.Bad, errors.Wrap(err, "kos: alloc_object failed")
	}
	in.objects.Store(id, proptable.New(in.tuning.MinPropsCapacity, in.tuning.MaxPropReprobes))
	return id, nil
}

func (in *Instance) helperCountFor(ctx *Context) int {
	if ctx == nil {
		return 0
	}
	return len(in.engage.EngagedHelpers(ctx.id))
}

// prototypeOf returns the object's own prototype reference (field 0 of
// every property-bearing heap object).
func (in *Instance) prototypeOf(id objid.ID) objid.ID {
	return in.heap.FieldAt(id, 0)
}

// GetProperty looks up key on obj, walking the prototype chain until a
// table has the key or the chain ends. Dynamic-property descriptors
// are resolved through the installed getter hook, if any.
func (in *Instance) GetProperty(ctx *Context, obj, key objid.ID) (objid.ID, bool, error) {
	cur := obj
	for !cur.IsBad() && cur.IsRef() {
		t, err := in.propTableFor(cur)
		if err != nil {
			return objid.Bad, false, err
		}
		if v, ok := t.Get(key); ok {
			if in.heap.TypeOf(v) == heap.TypeDynamicProperty {
				in.mu.Lock()
				get := in.dynGet
				in.mu.Unlock()
				if get != nil {
					rv, err := get(ctx, obj, v)
					return rv, true, err
				}
			}
			return v, true, nil
		}
		cur = in.prototypeOf(cur)
	}
	return objid.Bad, false, nil
}

// SetProperty installs value for key on obj's own table (prototype
// chain is never written through). If the existing value is a
// dynamic-property descriptor, the installed setter hook is invoked
// instead of overwriting the descriptor.
func (in *Instance) SetProperty(ctx *Context, obj, key, value objid.ID) error {
	t, err := in.propTableFor(obj)
	if err != nil {
		return err
	}
	if existing, ok := t.Get(key); ok && in.heap.TypeOf(existing) == heap.TypeDynamicProperty {
		in.mu.Lock()
		set := in.dynSet
		in.mu.Unlock()
		if set != nil {
			_, err := set(ctx, obj, existing)
			return err
		}
	}
	t.Set(key, value)
	return nil
}

// HasPrototype reports whether proto appears anywhere in obj's
// prototype chain, not counting obj itself.
func (in *Instance) HasPrototype(obj, proto objid.ID) bool {
	cur := in.prototypeOf(obj)
	for !cur.IsBad() {
		if cur == proto {
			return true
		}
		if !cur.IsRef() {
			break
		}
		cur = in.prototypeOf(cur)
	}
	return false
}

// DeleteProperty removes key from obj's own table.
func (in *Instance) DeleteProperty(obj, key objid.ID) (bool, error) {
	t, err := in.propTableFor(obj)
	if err != nil {
		return false, err
	}
	return t.Delete(key), nil
}

// OwnKeys calls fn for every key in obj's own table, not walking the
// prototype chain.
func (in *Instance) OwnKeys(obj objid.ID, fn func(key, value objid.ID) bool) error {
	t, err := in.propTableFor(obj)
	if err != nil {
		return err
	}
	t.Range(fn)
	return nil
}

// DeepKeys calls fn for every key reachable by walking obj's prototype
// chain, skipping keys already seen closer to obj.
func (in *Instance) DeepKeys(obj objid.ID, fn func(key, value objid.ID) bool) error {
	seen := make(map[objid.ID]struct{})
	cur := obj
	for !cur.IsBad() && cur.IsRef() {
		t, err := in.propTableFor(cur)
		if err != nil {
			return err
		}
		stop := false
		t.Range(func(key, value objid.ID) bool {
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
			if !fn(key, value) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return nil
		}
		cur = in.prototypeOf(cur)
	}
	return nil
}
