// Package proptable implements the lock-free object-property table: a
// CAS-based open-addressed hash table mapping property-key object ids
// to value object ids, safe under concurrent get/set/delete from
// mutator threads and concurrent tracing from the collector. Each
// slot's state word is claimed with a single atomic compare-and-swap,
// the same style of CAS loop the heap package's groupStack uses for
// its ring buffer, generalized here to a full open-addressed array.
package proptable

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

type slotState uint32

const (
	stateEmpty slotState = iota
	stateReserved
	stateFilled
	stateTombstone
	stateClosed // table is being salvaged into a larger one; redirect here
)

type slot struct {
	state atomic.Uint32
	key   objid.ID
	value atomic.Uint64
}

func (s *slot) loadState() slotState { return slotState(s.state.Load()) }

// table is one generation of the backing array. A Table may reference
// a chain of tables mid-resize: cur is always the newest, and older
// generations are only consulted by slots still being salvaged.
type table struct {
	slots []slot
	cap   uint32
	next  atomic.Pointer[table]
}

func newTable(cap uint32) *table {
	return &table{slots: make([]slot, cap), cap: cap}
}

// Table is a lock-free property table. The zero value is not usable;
// construct with New.
type Table struct {
	cur   atomic.Pointer[table]
	count atomic.Int64

	maxReprobes int
	minCapacity int

	resizing sync.Mutex // serializes only who may *initiate* a resize
	resizes  atomic.Uint64
}

// New constructs an empty table with minCapacity slots. maxReprobes
// bounds the linear probe sequence before a resize is triggered.
func New(minCapacity, maxReprobes int) *Table {
	if minCapacity < 1 {
		minCapacity = 1
	}
	t := &Table{maxReprobes: maxReprobes, minCapacity: minCapacity}
	t.cur.Store(newTable(uint32(minCapacity)))
	return t
}

func mix(id objid.ID) uint64 {
	x := uint64(id)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Get returns the value stored for key, and whether it was present.
func (t *Table) Get(key objid.ID) (objid.ID, bool) {
	cur := t.cur.Load()
	for {
		idx := uint32(mix(key) % uint64(cur.cap))
		for probe := uint32(0); probe < cur.cap; probe++ {
			s := &cur.slots[(idx+probe)%cur.cap]
			switch s.loadState() {
			case stateEmpty:
				return objid.Bad, false
			case stateClosed:
				if nxt := cur.next.Load(); nxt != nil {
					cur = nxt
					goto retry
				}
				return objid.Bad, false
			case stateFilled:
				if s.key == key {
					return objid.ID(s.value.Load()), true
				}
			}
		}
		return objid.Bad, false
	retry:
	}
}

// Set stores value for key, returning the previous value (if any).
// Crossing maxReprobes while probing triggers a cooperative resize;
// the caller's Set still completes against the freshly grown table.
func (t *Table) Set(key, value objid.ID) (objid.ID, bool) {
	for {
		cur := t.cur.Load()
		prev, existed, retryNeeded := t.trySet(cur, key, value, true)
		if !retryNeeded {
			return prev, existed
		}
		t.growFrom(cur)
	}
}

// trySet attempts to install key/value into tbl. triggerResize, when
// true, makes the caller initiate a resize after exceeding
// maxReprobes instead of returning a not-found probe failure.
func (t *Table) trySet(tbl *table, key, value objid.ID, triggerResize bool) (objid.ID, bool, bool) {
	idx := uint32(mix(key) % uint64(tbl.cap))
	for probe := uint32(0); probe < tbl.cap; probe++ {
		s := &tbl.slots[(idx+probe)%tbl.cap]
	reexamine:
		switch s.loadState() {
		case stateEmpty:
			if s.state.CompareAndSwap(uint32(stateEmpty), uint32(stateReserved)) {
				s.key = key
				s.value.Store(uint64(value))
				s.state.Store(uint32(stateFilled))
				t.count.Add(1)
				if triggerResize && probe >= uint32(t.maxReprobes) {
					t.growFrom(tbl)
				}
				return objid.Bad, false, false
			}
			goto reexamine
		case stateReserved:
			runtime.Gosched()
			goto reexamine
		case stateFilled:
			if s.key == key {
				old := objid.ID(s.value.Load())
				s.value.Store(uint64(value))
				// A migrator may have captured the pre-write value and
				// closed this slot out from under the store above; a
				// Closed read here means that happened, and the write
				// above never reached the generation helpMigrate salvaged
				// it into. Replay it there so it isn't silently lost.
				if s.loadState() == stateClosed {
					if nxt := tbl.next.Load(); nxt != nil {
						t.trySet(nxt, key, value, triggerResize)
					}
				}
				return old, true, false
			}
		case stateTombstone:
			// fall through to next probe; a reclaiming insert into a
			// tombstoned slot is a possible future optimization but is
			// not required for correctness.
		case stateClosed:
			if nxt := tbl.next.Load(); nxt != nil {
				return t.trySet(nxt, key, value, triggerResize)
			}
			return objid.Bad, false, true
		}
	}
	return objid.Bad, false, true
}

// Delete removes key, returning whether it was present.
func (t *Table) Delete(key objid.ID) bool {
	cur := t.cur.Load()
	for {
		idx := uint32(mix(key) % uint64(cur.cap))
		for probe := uint32(0); probe < cur.cap; probe++ {
			s := &cur.slots[(idx+probe)%cur.cap]
			switch s.loadState() {
			case stateEmpty:
				return false
			case stateClosed:
				if nxt := cur.next.Load(); nxt != nil {
					cur = nxt
					goto retry
				}
				return false
			case stateFilled:
				if s.key == key {
					if s.state.CompareAndSwap(uint32(stateFilled), uint32(stateTombstone)) {
						t.count.Add(-1)
						return true
					}
					// Lost a race with a concurrent migrator or deleter;
					// the slot's new state settles the outcome.
					return s.loadState() == stateTombstone
				}
			}
		}
		return false
	retry:
	}
}

// Range calls fn for every live key/value pair of the current table, in
// slot order (which follows the key hashes, not insertion order), until
// fn returns false. Range does not itself walk a prototype
// chain — that belongs to the object layer composing several Tables.
func (t *Table) Range(fn func(key, value objid.ID) bool) {
	cur := t.cur.Load()
	for i := range cur.slots {
		s := &cur.slots[i]
		if s.loadState() == stateFilled {
			if !fn(s.key, objid.ID(s.value.Load())) {
				return
			}
		}
	}
}

// Len returns the approximate number of live entries. Approximate
// because a concurrent Set/Delete may land between the read and the
// caller's use of it.
func (t *Table) Len() int64 { return t.count.Load() }

// Resizes reports how many times this table has doubled capacity,
// for metrics reporting.
func (t *Table) Resizes() uint64 { return t.resizes.Load() }

// growFrom doubles capacity starting from tbl, cooperatively: any
// thread that observes probe exhaustion may call this, and concurrent
// callers converge on the same new generation via tbl.next.
func (t *Table) growFrom(tbl *table) *table {
	if nxt := tbl.next.Load(); nxt != nil {
		t.helpMigrate(tbl, nxt)
		t.cur.CompareAndSwap(tbl, nxt)
		return nxt
	}

	t.resizing.Lock()
	nxt := tbl.next.Load()
	if nxt == nil {
		nxt = newTable(tbl.cap * 2)
		tbl.next.Store(nxt)
		t.resizes.Add(1)
	}
	t.resizing.Unlock()

	t.helpMigrate(tbl, nxt)
	t.cur.CompareAndSwap(tbl, nxt)
	return nxt
}

// helpMigrate salvages every slot of old into next. Each slot is
// claimed for migration via a single CAS (filled -> closed, or empty
// -> closed, or tombstone -> closed) so concurrent helpers never
// double-insert the same entry.
func (t *Table) helpMigrate(old, next *table) {
	for i := range old.slots {
		s := &old.slots[i]
		for {
			switch s.loadState() {
			case stateEmpty:
				if s.state.CompareAndSwap(uint32(stateEmpty), uint32(stateClosed)) {
					goto done
				}
			case stateTombstone:
				if s.state.CompareAndSwap(uint32(stateTombstone), uint32(stateClosed)) {
					goto done
				}
			case stateFilled:
				key, value := s.key, objid.ID(s.value.Load())
				if s.state.CompareAndSwap(uint32(stateFilled), uint32(stateClosed)) {
					if _, existed, retry := t.trySet(next, key, value, false); !existed && !retry {
						t.count.Add(-1)
					}
					goto done
				}
			case stateReserved:
				// A concurrent Set is mid-insert into this exact slot;
				// yield and recheck rather than claim a half-written
				// key.
				runtime.Gosched()
			case stateClosed:
				goto done
			}
		}
	done:
	}
}
