package kos

import (
	"github.com/pkg/errors"

	"github.com/kos-lang/kos-sub004/internal/arraystore"
	"github.com/kos-lang/kos-sub004/internal/heap"
	"github.com/kos-lang/kos-sub004/internal/objid"
)

// AllocArray allocates a new array object with its own backing
// arraystore.Store.
func (in *Instance) AllocArray(ctx *Context, movable heap.Movability) (objid.ID, error) {
	id, err := in.heap.Alloc(heap.TypeArray, 8, movable, nil, nil, in.helperCountFor(ctx))
	if err != nil {
		return objid.Bad, errors.Wrap(err, "kos: alloc_array failed")
	}
	in.arrays.Store(id, arraystore.New(uint32(in.tuning.MinPropsCapacity), in.tuning.MaxArraySize))
	return id, nil
}

func (in *Instance) storeFor(arr objid.ID) (*arraystore.Store, error) {
	v, ok := in.arrays.Load(arr)
	if !ok {
		return nil, errors.Errorf("kos: %s has no array storage", arr)
	}
	return v.(*arraystore.Store), nil
}

func (in *Instance) ArrayLen(arr objid.ID) (uint64, error) {
	s, err := in.storeFor(arr)
	if err != nil {
		return 0, err
	}
	return s.Len(), nil
}

func (in *Instance) ArrayGet(arr objid.ID, idx uint64) (objid.ID, error) {
	s, err := in.storeFor(arr)
	if err != nil {
		return objid.Bad, err
	}
	return s.Get(idx)
}

func (in *Instance) ArraySet(arr objid.ID, idx uint64, value objid.ID) error {
	s, err := in.storeFor(arr)
	if err != nil {
		return err
	}
	return s.Set(idx, value)
}

func (in *Instance) ArrayCAS(arr objid.ID, idx uint64, old, new objid.ID) (bool, error) {
	s, err := in.storeFor(arr)
	if err != nil {
		return false, err
	}
	return s.CAS(idx, old, new)
}

func (in *Instance) ArrayPush(arr, value objid.ID) (uint64, error) {
	s, err := in.storeFor(arr)
	if err != nil {
		return 0, err
	}
	return s.Push(value)
}

func (in *Instance) ArrayPop(arr objid.ID) (objid.ID, bool, error) {
	s, err := in.storeFor(arr)
	if err != nil {
		return objid.Bad, false, err
	}
	return s.Pop()
}

func (in *Instance) ArraySlice(arr objid.ID, lo, hi uint64) ([]objid.ID, error) {
	s, err := in.storeFor(arr)
	if err != nil {
		return nil, err
	}
	return s.Slice(lo, hi)
}

// ArrayInsert is explicitly not lock-free: it takes arraystore.Store's
// own internal lock for the duration of the shift.
func (in *Instance) ArrayInsert(arr objid.ID, idx uint64, value objid.ID) error {
	s, err := in.storeFor(arr)
	if err != nil {
		return err
	}
	return s.Insert(idx, value)
}

// ArrayReserve pre-grows arr's backing storage to at least capacity
// elements without changing its logical length.
func (in *Instance) ArrayReserve(arr objid.ID, capacity uint64) error {
	s, err := in.storeFor(arr)
	if err != nil {
		return err
	}
	return s.Reserve(capacity)
}

// ArrayResize sets arr's logical length, filling any newly exposed
// slots with fillValue when growing.
func (in *Instance) ArrayResize(arr objid.ID, newLen uint64, fillValue objid.ID) error {
	s, err := in.storeFor(arr)
	if err != nil {
		return err
	}
	return s.Resize(newLen, fillValue)
}

// ArrayFill overwrites every element in [lo, hi) with value.
func (in *Instance) ArrayFill(arr objid.ID, lo, hi uint64, value objid.ID) error {
	s, err := in.storeFor(arr)
	if err != nil {
		return err
	}
	return s.Fill(lo, hi, value)
}

func (in *Instance) ArraySetReadOnly(arr objid.ID, ro bool) error {
	s, err := in.storeFor(arr)
	if err != nil {
		return err
	}
	s.SetReadOnly(ro)
	return nil
}
