// Package heap implements the page-based, generational-flavored
// mark-and-evacuate collector: pools of fixed-size pages, a tri-color
// mark engine, retention-threshold evacuation, and a small off-heap
// tracker for objects too large to live on a page.
package heap

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kos-lang/kos-sub004/internal/objid"
	"github.com/kos-lang/kos-sub004/internal/tuning"
)

// Phase is the heap-wide collector state machine: Inactive, Init, Mark,
// Evacuate, Update.
type Phase int

const (
	PhaseInactive Phase = iota
	PhaseInit
	PhaseMark
	PhaseEvacuate
	PhaseUpdate
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseInit:
		return "init"
	case PhaseMark:
		return "mark"
	case PhaseEvacuate:
		return "evacuate"
	case PhaseUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// ErrOutOfMemory is returned when an allocation cannot be satisfied even
// after a collection, and the heap is already at its configured cap.
var ErrOutOfMemory = errors.New("heap: out of memory")

// Stats is a point-in-time snapshot of heap occupancy, exposed to
// embedders that want GC telemetry without depending on the metrics
// package directly.
type Stats struct {
	Pools          int
	Pages          int
	UsedPages      int
	FreePages      int
	FullPages      int
	AllocatedSlots uint64
	Collections    uint64
	HugeObjects    int
	HugeBytes      uint64
	// PartiallyEvacuatedPages counts pages carrying FlagPartiallyEvacuated:
	// a prior cycle ran out of memory partway through evacuating them and
	// left the unprocessed remainder retained in place.
	PartiallyEvacuatedPages int
}

// Heap owns every pool, page and huge allocation for one instance. All
// mutation of the free/used/full lists and of curPage happens under mu;
// the bump-allocation fast path on an already-claimed page does not
// need it, keeping the common case lock-free while the slow path stays
// simple and correct under a mutex.
type Heap struct {
	mu sync.Mutex

	tuning tuning.Tuning
	log    *zap.Logger
	roots  RootSource

	pools []*Pool

	freeList PageList // pages with no live content, unassigned
	usedList PageList // pages partially allocated, non-full at the head
	fullList PageList // pages with no bump-allocation room left

	curPage *Page // page the fast path bump-allocates into

	objectsToMark groupStack
	freeGroups    groupStack

	huge     []*hugeObject
	hugeFree []uint32 // recycled indices into huge

	phase       Phase
	collections uint64
}

// New constructs an empty Heap. roots is consulted at the start of
// every collection; it is typically the owning instance.
func New(t tuning.Tuning, log *zap.Logger, roots RootSource) *Heap {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heap{tuning: t, log: log, roots: roots}
}

func (h *Heap) slotSize() uint32 { return h.tuning.SlotSize() }

// growPool appends one freshly carved pool and pushes all of its pages
// onto the free list. Called under mu.
func (h *Heap) growPool() {
	id := uint32(len(h.pools))
	pagesPerPool := h.tuning.PagesPerPool()
	slotsPerPage := h.tuning.PageSize() / h.slotSize()
	pool := newPool(id, pagesPerPool, slotsPerPage, h.slotSize())
	h.pools = append(h.pools, pool)
	for _, p := range pool.pages {
		h.freeList.insert(p)
	}
	h.log.Debug("heap: grew pool", zap.Uint32("pool", id), zap.Uint32("pages", pagesPerPool))
}

func (h *Heap) totalSlots() uint64 {
	return uint64(len(h.pools)) * uint64(h.tuning.PagesPerPool()) * uint64(h.tuning.PageSize()/h.slotSize())
}

func (h *Heap) allocatedSlots() uint64 {
	var n uint64
	for _, pool := range h.pools {
		for _, p := range pool.pages {
			n += uint64(p.numAllocated)
		}
	}
	return n
}

// overThreshold reports whether the heap's occupancy has crossed the
// configured auto-collection trigger percentage.
func (h *Heap) overThreshold() bool {
	total := h.totalSlots()
	if total == 0 {
		return false
	}
	pct := int(h.allocatedSlots() * 100 / total)
	return pct >= h.tuning.GCThresholdPct
}

// Alloc places a new object of the given type and byte size on the
// heap via the fast/slow allocation path. helperCount is the number of
// engaged helper threads available to a triggered collection.
func (h *Heap) Alloc(t Type, size uint32, movable Movability, fields []objid.ID, raw []byte, helperCount int) (objid.ID, error) {
	if size > h.tuning.MaxHeapObjSize {
		return h.allocHuge(t, size, fields, raw)
	}

	immovable := movable == Immovable
	need := slotsNeeded(size, h.slotSize())

	if !h.tuning.MadGC && h.curPage != nil && h.curPage.freeSlots() >= need {
		id := h.curPage.bumpAlloc(t, size, need, immovable)
		h.installPayload(id, fields, raw)
		if h.curPage.isFull() {
			h.mu.Lock()
			h.usedList.moveToBack(h.curPage)
			h.mu.Unlock()
		}
		return id, nil
	}

	return h.allocSlow(t, size, need, immovable, fields, raw, helperCount)
}

func (h *Heap) allocSlow(t Type, size, need uint32, immovable bool, fields []objid.ID, raw []byte, helperCount int) (objid.ID, error) {
	h.mu.Lock()

	if h.curPage != nil && h.curPage.isFull() {
		h.usedList.moveToBack(h.curPage)
	}

	if h.tuning.MadGC && h.curPage != nil {
		if l := h.curPage.list; l != nil {
			l.remove(h.curPage)
		}
		h.fullList.insertBack(h.curPage)
		h.curPage = nil
	}

	seek := 0
	for p := h.usedList.first; p != nil && seek < h.tuning.MaxPageSeek; p, seek = p.next, seek+1 {
		if p.freeSlots() >= need {
			h.curPage = p
			id := p.bumpAlloc(t, size, need, immovable)
			h.installPayload(id, fields, raw)
			if p.isFull() {
				h.usedList.moveToBack(p)
			}
			h.mu.Unlock()
			return id, nil
		}
	}

	if h.curPage != nil {
		if l := h.curPage.list; l != nil {
			l.remove(h.curPage)
		}
		h.fullList.insertBack(h.curPage)
		h.curPage = nil
	}

	triggered := h.overThreshold() || h.tuning.MadGC
	h.mu.Unlock()

	if triggered {
		if err := h.Collect(helperCount, nil); err != nil {
			return objid.Bad, err
		}
		h.mu.Lock()
		for p := h.usedList.first; p != nil; p = p.next {
			if p.freeSlots() >= need {
				h.curPage = p
				id := p.bumpAlloc(t, size, need, immovable)
				h.installPayload(id, fields, raw)
				h.mu.Unlock()
				return id, nil
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	if h.freeList.isEmpty() {
		if h.tuning.MaxHeapSize > 0 && h.totalSlots()*uint64(h.slotSize()) >= h.tuning.MaxHeapSize {
			h.mu.Unlock()
			return objid.Bad, ErrOutOfMemory
		}
		h.growPool()
	}
	p := h.freeList.first
	h.freeList.remove(p)
	h.usedList.insert(p)
	h.curPage = p
	id := p.bumpAlloc(t, size, need, immovable)
	h.installPayload(id, fields, raw)
	h.mu.Unlock()
	return id, nil
}

func (h *Heap) installPayload(id objid.ID, fields []objid.ID, raw []byte) {
	p, off := h.pageFor(id)
	s := p.slotAt(off)
	s.fields = fields
	s.raw = raw
}

// pageFor resolves a heap-reference id to its page and slot offset. It
// never resolves huge ids; callers must branch on id.IsHuge() first.
func (h *Heap) pageFor(id objid.ID) (*Page, uint32) {
	if !id.IsRef() || id.IsHuge() {
		return nil, 0
	}
	r := id.AsRef()
	if int(r.Pool) >= len(h.pools) {
		return nil, 0
	}
	pool := h.pools[r.Pool]
	if int(r.Page) >= len(pool.pages) {
		return nil, 0
	}
	return pool.pages[r.Page], r.Offset
}

// Stats returns a snapshot of current heap occupancy for the metrics
// package and diagnostic logging.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var s Stats
	s.Pools = len(h.pools)
	for _, pool := range h.pools {
		s.Pages += len(pool.pages)
	}
	for p := h.usedList.first; p != nil; p = p.next {
		s.UsedPages++
		if p.flags&FlagPartiallyEvacuated != 0 {
			s.PartiallyEvacuatedPages++
		}
	}
	for p := h.freeList.first; p != nil; p = p.next {
		s.FreePages++
	}
	for p := h.fullList.first; p != nil; p = p.next {
		s.FullPages++
		if p.flags&FlagPartiallyEvacuated != 0 {
			s.PartiallyEvacuatedPages++
		}
	}
	s.AllocatedSlots = h.allocatedSlots()
	s.Collections = h.collections
	for _, hu := range h.huge {
		if hu != nil && !hu.free {
			s.HugeObjects++
			s.HugeBytes += uint64(hu.size)
		}
	}
	return s
}

// GCStats is the optional output of Collect: a summary of what one
// cycle did, for a caller that wants more than the pass/fail error.
type GCStats struct {
	BeforeSize       uint64
	AfterSize        uint64
	PagesFreed       int
	ObjectsEvacuated int
	Duration         time.Duration
}

// Collect runs one full mark/evacuate/update cycle. helperCount is the
// number of engaged threads joining the initiator for this cycle; 0 is
// valid and means the initiator does all the work alone. stats may be
// nil; when non-nil it is filled in with a summary of the cycle just
// run.
func (h *Heap) Collect(helperCount int, stats *GCStats) error {
	start := time.Now()
	h.mu.Lock()
	before := h.allocatedSlots() * uint64(h.slotSize())
	freePagesBefore := 0
	for p := h.freeList.first; p != nil; p = p.next {
		freePagesBefore++
	}
	h.phase = PhaseMark
	h.mu.Unlock()

	if err := h.markPhase(helperCount); err != nil {
		h.mu.Lock()
		h.phase = PhaseInactive
		h.mu.Unlock()
		return errors.Wrap(err, "heap: mark phase failed")
	}

	h.mu.Lock()
	h.phase = PhaseEvacuate
	h.mu.Unlock()

	plan := h.planEvacuation()
	// evacuate returning an out-of-memory error mid-cycle still leaves a
	// plan worth fixing up: everything forwarded before the failure, plus
	// every page that fell back to retained-in-place, needs its pointers
	// and forwarding headers resolved before the cycle ends, or objects
	// left in a retained page would keep pointing at pre-evacuation ids.
	evacErr := h.evacuate(&plan)

	h.mu.Lock()
	h.phase = PhaseUpdate
	h.mu.Unlock()

	h.fixupPointers(plan)
	h.releaseEvacuatedPages(&plan)
	h.sweepHuge()

	h.mu.Lock()
	h.phase = PhaseInactive
	h.collections++
	h.mu.Unlock()

	if evacErr != nil {
		return errors.Wrap(evacErr, "heap: evacuation failed")
	}

	h.log.Info("heap: collection complete",
		zap.Uint64("cycle", h.collections),
		zap.Int("evacuated_pages", len(plan.evacuated)))

	if stats != nil {
		s := h.Stats()
		stats.BeforeSize = before
		stats.AfterSize = h.allocatedSlots() * uint64(h.slotSize())
		stats.PagesFreed = s.FreePages - freePagesBefore
		stats.ObjectsEvacuated = plan.objectsEvacuated
		stats.Duration = time.Since(start)
	}
	return nil
}
