// Package arraystore implements the lock-free array storage backing
// Kos arrays: a CAS-guarded slice of element slots supporting
// concurrent read/write/push/pop/compare-and-swap, plus a cooperative
// resize protocol shared with the proptable package's salvage design.
// Insert is the one operation that is not lock-free and is implemented
// with an explicit lock instead of pretending otherwise.
package arraystore

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

type slotState uint32

const (
	stateEmpty slotState = iota
	stateFilled
	stateTombstone
	stateClosed
)

type slot struct {
	state atomic.Uint32
	value atomic.Uint64
}

type table struct {
	slots []slot
	cap   uint32
	next  atomic.Pointer[table]
}

func newTable(cap uint32) *table {
	return &table{slots: make([]slot, cap), cap: cap}
}

// ErrImmutable is returned by any mutating call on a storage marked
// read-only.
var ErrImmutable = errors.New("arraystore: array is read-only")

// ErrOutOfRange is returned for an index at or beyond the logical
// length.
var ErrOutOfRange = errors.New("arraystore: index out of range")

// ErrTooLarge is returned when growth would exceed the configured cap.
var ErrTooLarge = errors.New("arraystore: exceeds configured max array size")

// Store is a lock-free, resizable array of object ids.
type Store struct {
	cur      atomic.Pointer[table]
	length   atomic.Uint64 // logical length, one past the highest live index
	maxSize  uint64
	readOnly atomic.Bool

	insertMu sync.Mutex // serializes the one explicitly non-lock-free op
	resizes  atomic.Uint64
}

// New constructs an empty store with the given initial capacity and a
// hard cap on capacity growth.
func New(initialCap uint32, maxSize uint64) *Store {
	if initialCap < 1 {
		initialCap = 1
	}
	s := &Store{maxSize: maxSize}
	s.cur.Store(newTable(initialCap))
	return s
}

// SetReadOnly freezes the store against every mutating entry point.
func (s *Store) SetReadOnly(ro bool) { s.readOnly.Store(ro) }

func (s *Store) IsReadOnly() bool { return s.readOnly.Load() }

// Len returns the logical length.
func (s *Store) Len() uint64 { return s.length.Load() }

// Resizes reports how many times this store has doubled capacity,
// for metrics reporting.
func (s *Store) Resizes() uint64 { return s.resizes.Load() }

func (s *Store) resolve(idx uint64) (*table, uint32) {
	t := s.cur.Load()
	for uint64(t.cap) <= idx {
		if nxt := t.next.Load(); nxt != nil {
			t = nxt
			continue
		}
		return t, 0
	}
	return t, uint32(idx)
}

// Get reads the element at idx.
func (s *Store) Get(idx uint64) (objid.ID, error) {
	if idx >= s.length.Load() {
		return objid.Bad, ErrOutOfRange
	}
	t, off := s.resolve(idx)
	if uint64(off) != idx {
		return objid.Bad, ErrOutOfRange
	}
	sl := &t.slots[off]
	if slotState(sl.state.Load()) != stateFilled {
		return objid.Bad, nil
	}
	return objid.ID(sl.value.Load()), nil
}

// Set overwrites the element at idx, which must already be within the
// logical length (use Push to extend it).
func (s *Store) Set(idx uint64, value objid.ID) error {
	if s.readOnly.Load() {
		return ErrImmutable
	}
	if idx >= s.length.Load() {
		return ErrOutOfRange
	}
	t, off := s.resolve(idx)
	if uint64(off) != idx {
		return ErrOutOfRange
	}
	if !casFill(t, off, value) {
		return ErrOutOfRange
	}
	return nil
}

// casFill writes value into the slot at off within t, starting from
// whatever state is currently observed there. A slot found Closed has
// already been salvaged by a concurrent helpMigrate into t.next at the
// same offset, so the write follows the chain and retries there instead
// of resurrecting a slot that migration has already moved on from. It
// reports false only if the chain runs out before a live table is
// found, which cannot happen for an index helpMigrate would close.
func casFill(t *table, off uint32, value objid.ID) bool {
	for {
		sl := &t.slots[off]
		st := slotState(sl.state.Load())
		if st == stateClosed {
			nxt := t.next.Load()
			if nxt == nil {
				return false
			}
			t = nxt
			continue
		}
		sl.value.Store(uint64(value))
		if sl.state.CompareAndSwap(uint32(st), uint32(stateFilled)) {
			return true
		}
	}
}

// CAS performs a compare-and-swap on the element at idx. It reports
// whether the swap took place.
func (s *Store) CAS(idx uint64, old, new objid.ID) (bool, error) {
	if s.readOnly.Load() {
		return false, ErrImmutable
	}
	if idx >= s.length.Load() {
		return false, ErrOutOfRange
	}
	t, off := s.resolve(idx)
	sl := &t.slots[off]
	swapped := sl.value.CompareAndSwap(uint64(old), uint64(new))
	if swapped {
		sl.state.Store(uint32(stateFilled))
	}
	return swapped, nil
}

// Push appends value at the end, growing the backing table if needed.
// Concurrent pushes race on the same length increment via a CAS loop.
func (s *Store) Push(value objid.ID) (uint64, error) {
	if s.readOnly.Load() {
		return 0, ErrImmutable
	}
	for {
		idx := s.length.Load()
		if s.maxSize > 0 && idx >= s.maxSize {
			return 0, ErrTooLarge
		}
		t := s.growTo(idx + 1)
		if !s.length.CompareAndSwap(idx, idx+1) {
			continue
		}
		off := uint32(idx)
		if t.cap <= off {
			t, off = s.resolve(idx)
		}
		casFill(t, off, value)
		return idx, nil
	}
}

// Pop removes and returns the last element. Concurrent pops race on
// the same length decrement via CAS; a pop that loses a race against a
// concurrent resize simply retries against the table the winning
// resize produced, so pop is not required to observe a single
// consistent snapshot of length and backing table together.
func (s *Store) Pop() (objid.ID, bool, error) {
	if s.readOnly.Load() {
		return objid.Bad, false, ErrImmutable
	}
	for {
		idx := s.length.Load()
		if idx == 0 {
			return objid.Bad, false, nil
		}
		if !s.length.CompareAndSwap(idx, idx-1) {
			continue
		}
		t, off := s.resolve(idx - 1)
		for {
			sl := &t.slots[off]
			st := sl.state.Load()
			if slotState(st) == stateClosed {
				if nxt := t.next.Load(); nxt != nil {
					t = nxt
					continue
				}
				return objid.Bad, true, nil
			}
			v := objid.ID(sl.value.Load())
			if sl.state.CompareAndSwap(st, uint32(stateTombstone)) {
				return v, true, nil
			}
		}
	}
}

// Reserve grows the backing table to hold at least capacity elements
// without changing the logical length, so a caller that knows its
// final size up front can avoid repeated doublings on the way there.
func (s *Store) Reserve(capacity uint64) error {
	if s.readOnly.Load() {
		return ErrImmutable
	}
	if s.maxSize > 0 && capacity > s.maxSize {
		return ErrTooLarge
	}
	if capacity > 0 {
		s.growTo(capacity)
	}
	return nil
}

// Resize sets the logical length to newLen. Growing fills every newly
// exposed slot with fillValue; shrinking releases the tail without
// touching backing capacity, the same tombstone-on-shrink behavior Pop
// uses one element at a time.
func (s *Store) Resize(newLen uint64, fillValue objid.ID) error {
	if s.readOnly.Load() {
		return ErrImmutable
	}
	if s.maxSize > 0 && newLen > s.maxSize {
		return ErrTooLarge
	}
	cur := s.length.Load()
	if newLen == cur {
		return nil
	}
	if newLen < cur {
		for i := newLen; i < cur; i++ {
			t, off := s.resolve(i)
			t.slots[off].state.Store(uint32(stateTombstone))
		}
		s.length.Store(newLen)
		return nil
	}
	s.growTo(newLen)
	for i := cur; i < newLen; i++ {
		if err := s.rawSet(i, fillValue); err != nil {
			return err
		}
	}
	s.length.Store(newLen)
	return nil
}

// Fill overwrites every slot in [lo, hi), which must already lie
// within the logical length, with value.
func (s *Store) Fill(lo, hi uint64, value objid.ID) error {
	if s.readOnly.Load() {
		return ErrImmutable
	}
	length := s.length.Load()
	if lo > hi || hi > length {
		return ErrOutOfRange
	}
	for i := lo; i < hi; i++ {
		if err := s.rawSet(i, value); err != nil {
			return err
		}
	}
	return nil
}

// Slice returns a copy of the elements in [lo, hi).
func (s *Store) Slice(lo, hi uint64) ([]objid.ID, error) {
	length := s.length.Load()
	if lo > hi || hi > length {
		return nil, ErrOutOfRange
	}
	out := make([]objid.ID, 0, hi-lo)
	for i := lo; i < hi; i++ {
		v, err := s.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Insert shifts every element at or after idx one slot to the right
// and installs value at idx. This is the one array operation not
// required to be lock-free; it takes its own lock so concurrent
// Insert/Insert pairs cannot interleave.
func (s *Store) Insert(idx uint64, value objid.ID) error {
	if s.readOnly.Load() {
		return ErrImmutable
	}
	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	length := s.length.Load()
	if idx > length {
		return ErrOutOfRange
	}
	if s.maxSize > 0 && length+1 > s.maxSize {
		return ErrTooLarge
	}
	s.growTo(length + 1)
	for i := length; i > idx; i-- {
		v, _ := s.Get(i - 1)
		if err := s.rawSet(i, v); err != nil {
			return err
		}
	}
	s.length.Store(length + 1)
	return s.rawSet(idx, value)
}

func (s *Store) rawSet(idx uint64, value objid.ID) error {
	t, off := s.resolve(idx)
	if uint64(off) != idx {
		t = s.growTo(idx + 1)
		t, off = s.resolve(idx)
	}
	if !casFill(t, off, value) {
		return ErrOutOfRange
	}
	return nil
}

// growTo ensures the backing table can address index need-1, salvaging
// the old table into a doubled one as many times as required.
func (s *Store) growTo(need uint64) *table {
	t := s.cur.Load()
	for uint64(t.cap) < need {
		t = s.growFrom(t)
	}
	return t
}

func (s *Store) growFrom(old *table) *table {
	if nxt := old.next.Load(); nxt != nil {
		s.helpMigrate(old, nxt)
		s.cur.CompareAndSwap(old, nxt)
		return nxt
	}
	newCap := old.cap * 2
	nxt := newTable(newCap)
	if !old.next.CompareAndSwap(nil, nxt) {
		nxt = old.next.Load()
	} else {
		s.resizes.Add(1)
	}
	s.helpMigrate(old, nxt)
	s.cur.CompareAndSwap(old, nxt)
	return nxt
}

func (s *Store) helpMigrate(old, next *table) {
	for i := range old.slots {
		sl := &old.slots[i]
		for {
			st := slotState(sl.state.Load())
			switch st {
			case stateClosed:
				goto done
			case stateEmpty:
				if sl.state.CompareAndSwap(uint32(stateEmpty), uint32(stateClosed)) {
					goto done
				}
			case stateTombstone:
				if sl.state.CompareAndSwap(uint32(stateTombstone), uint32(stateClosed)) {
					goto done
				}
			case stateFilled:
				v := sl.value.Load()
				if sl.state.CompareAndSwap(uint32(stateFilled), uint32(stateClosed)) {
					dst := &next.slots[i]
					dst.value.Store(v)
					dst.state.Store(uint32(stateFilled))
					goto done
				}
			}
		}
	done:
	}
}
