package heap

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

// RootSource enumerates every GC root: instance-wide prototype/module
// fields, each thread's pending exception and stack, and each thread's
// two local-handle lists. The instance/context layer implements this;
// the heap package only consumes it.
type RootSource interface {
	EnumerateRoots(yield func(objid.ID))

	// FixupRoots is called once per collection, after evacuation, with a
	// translate function that maps a possibly-forwarded id to its final
	// post-evacuation id. Implementations must rewrite every stored root
	// reference (prototype/module fields, per-thread pending exception
	// and stack, per-thread local-handle lists) in place.
	FixupRoots(translate func(objid.ID) objid.ID)
}

// markWork is a small local buffer in front of the shared groupStack,
// amortizing the cost of the shared stack's CAS traffic over a batch
// of objects rather than one push/pop per object.
type markWork struct {
	h     *Heap
	local *group
}

func (w *markWork) put(id objid.ID) {
	if w.local == nil {
		w.local = w.h.getEmptyGroup()
	}
	if w.local.full() {
		w.h.objectsToMark.push(w.local)
		w.local = w.h.getEmptyGroup()
	}
	w.local.push(id)
}

func (w *markWork) tryGet() (objid.ID, bool) {
	if w.local == nil || w.local.empty() {
		if w.local != nil {
			w.h.putEmptyGroup(w.local)
			w.local = nil
		}
		w.local = w.h.objectsToMark.pop()
		if w.local == nil {
			return objid.Bad, false
		}
	}
	return w.local.pop(), true
}

func (w *markWork) dispose() {
	if w.local == nil {
		return
	}
	if w.local.empty() {
		w.h.putEmptyGroup(w.local)
	} else {
		w.h.objectsToMark.push(w.local)
	}
	w.local = nil
}

func (h *Heap) getEmptyGroup() *group {
	if g := h.freeGroups.pop(); g != nil {
		g.n = 0
		return g
	}
	return &group{}
}

func (h *Heap) putEmptyGroup(g *group) {
	g.n = 0
	h.freeGroups.push(g)
}

// colorOf/setColor resolve an object id to its page + slot and consult
// the per-page mark bitmap. Small ints and Bad are always treated as
// Black (nothing to trace, never collected). A huge id carries the color
// of its on-page tracker object, which is what sweepHuge consults.
func (h *Heap) colorOf(id objid.ID) Color {
	if id.IsHuge() {
		if hu := h.hugeByID(id); hu != nil && !hu.free {
			return h.colorOf(hu.trackerID)
		}
		return Black
	}
	if !id.IsRef() {
		return Black
	}
	p, off := h.pageFor(id)
	if p == nil {
		return Black
	}
	return p.colorAt(off)
}

func (h *Heap) setColor(id objid.ID, c Color) {
	if id.IsHuge() {
		if hu := h.hugeByID(id); hu != nil && !hu.free {
			h.setColor(hu.trackerID, c)
		}
		return
	}
	if !id.IsRef() {
		return
	}
	p, off := h.pageFor(id)
	if p == nil {
		return
	}
	p.setColor(off, c)
}

// markObjectBlack grays an object's children before the object itself
// is recorded black, and never re-queues an object that is already
// non-white.
func (h *Heap) markObjectBlack(id objid.ID, w *markWork) {
	if id.IsHuge() {
		if h.colorOf(id) == Black {
			return
		}
		h.setColor(id, Black)
		if hu := h.hugeByID(id); hu != nil {
			h.grayChild(hu.pointee, w)
		}
		return
	}
	p, off := h.pageFor(id)
	if p == nil {
		return
	}
	if p.colorAt(off) == Black {
		return
	}
	p.setColor(off, Black)
	s := p.slotAt(off)
	for _, f := range s.fields {
		h.grayChild(f, w)
	}
}

func (h *Heap) grayChild(child objid.ID, w *markWork) {
	if !child.IsRef() {
		return
	}
	if h.colorOf(child) != White {
		return
	}
	h.setColor(child, Gray)
	w.put(child)
}

// markPhase runs the mark engine: the initiator and every engaged
// helper drain the shared mark-group stacks concurrently, each holding
// its own local markWork. golang.org/x/sync/errgroup runs the workers
// and Wait returns the first error any of them reports; the workers
// share no cancellation context, so the others run to completion.
func (h *Heap) markPhase(helperCount int) error {
	h.zeroAllMarks()

	root := &markWork{h: h}
	h.roots.EnumerateRoots(func(id objid.ID) {
		h.markObjectBlack(id, root)
	})
	root.dispose()

	active := int32(helperCount + 1)
	var idle atomic.Int32

	drain := func() error {
		w := &markWork{h: h}
		defer w.dispose()
		for {
			id, ok := w.tryGet()
			if ok {
				h.markObjectBlack(id, w)
				continue
			}
			w.dispose()
			n := idle.Add(1)
			if n == active {
				return nil
			}
			// Someone else may still publish work; spin briefly then
			// recheck rather than blocking indefinitely.
			for spins := 0; spins < 64; spins++ {
				if g := h.objectsToMark.pop(); g != nil {
					idle.Add(-1)
					w.local = g
					goto resume
				}
				if idle.Load() == active {
					return nil
				}
			}
			if idle.Load() == active {
				return nil
			}
			idle.Add(-1)
		resume:
		}
	}

	var eg errgroup.Group
	for i := 0; i < helperCount+1; i++ {
		eg.Go(drain)
	}
	return eg.Wait()
}

// zeroAllMarks clears every page's bitmap at the start of a cycle.
func (h *Heap) zeroAllMarks() {
	for _, pool := range h.pools {
		for _, p := range pool.pages {
			for i := range p.marks {
				p.marks[i] = White
			}
		}
	}
}
