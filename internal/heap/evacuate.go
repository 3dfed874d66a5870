package heap

import "github.com/kos-lang/kos-sub004/internal/objid"

// evacuationPlan records which pages were chosen for evacuation during
// one cycle, so the fixup pass knows which forwarding headers are
// fresh and which free-list pages were just vacated.
type evacuationPlan struct {
	pending          []*Page // pages planEvacuation chose to evacuate, not yet attempted
	evacuated        []*Page // pages that forwarded at least one object; fixup must run before reset
	objectsEvacuated int
}

// planEvacuation walks every used/full page and decides whether to
// retain it in place (live-slot ratio at or above MigrationThresh, or
// it pins an immovable object) or evacuate it.
func (h *Heap) planEvacuation() evacuationPlan {
	h.mu.Lock()
	defer h.mu.Unlock()

	var plan evacuationPlan
	consider := func(p *Page) {
		if p == h.curPage {
			return
		}
		if p.hasImmovableLive() {
			p.flags |= FlagRetained
			whitenDeadSlots(p)
			return
		}
		if p.bump == 0 {
			return
		}
		livePct := int(p.liveSlotCount()) * 100 / int(p.bump)
		if livePct >= h.tuning.MigrationThresh {
			p.flags |= FlagRetained
			whitenDeadSlots(p)
			return
		}
		plan.pending = append(plan.pending, p)
	}
	h.usedList.each(consider)
	h.fullList.each(consider)
	return plan
}

// whitenDeadSlots rewrites every dead (white) object's header on a
// retained page to an opaque type of the same size, so fixupPointers
// never walks a field array left behind by an object nothing still
// references.
func whitenDeadSlots(p *Page) {
	for i := uint32(0); i < p.bump; {
		s := &p.slots[i]
		if s.header == 0 || s.header.IsForwarded() {
			i++
			continue
		}
		need := slotsNeeded(s.header.Size(), p.slotSize)
		if p.marks[i] == White && s.header.Type() != TypeOpaque {
			s.header = NewHeader(TypeOpaque, s.header.Size())
			s.fields = nil
			s.raw = nil
		}
		i += need
	}
}

// hasImmovableLive reports whether any live object on the page is
// pinned: such a page can never be evacuated even if its occupancy
// would otherwise qualify it.
func (p *Page) hasImmovableLive() bool {
	for i := uint32(0); i < p.bump; {
		s := &p.slots[i]
		if s.header == 0 {
			i++
			continue
		}
		need := slotsNeeded(s.header.Size(), p.slotSize)
		if s.immovable && p.marks[i] != White {
			return true
		}
		i += need
	}
	return false
}

// evacuate copies every live, non-pinned object off each planned page
// into fresh allocations, immediately overwriting the vacated slot's
// header with a forwarding id: once forwarded, the header's low bit is
// set and stays set. The source page keeps its forwarding headers
// intact until releaseEvacuatedPages runs, after the fixup pass has had
// a chance to resolve every stale reference through them; only then is
// it reset and returned to the free list.
//
// A page that runs out of destinations partway through is not abandoned
// half-forwarded: it is marked partially evacuated and retained in
// place, with its still-live, not-yet-moved objects left untouched and
// its genuinely dead ones whitened, same as a normal retained page. Once
// that happens, every page still waiting in the plan falls back to the
// same treatment rather than attempting (and likely also failing) a
// real evacuation, so one out-of-memory mid-cycle leaves the whole heap
// in a single consistent state instead of an arbitrary half-applied one.
func (h *Heap) evacuate(plan *evacuationPlan) error {
	for i, src := range plan.pending {
		moved, err := h.evacuatePage(src)
		plan.objectsEvacuated += moved
		switch {
		case err != nil:
			// src already marked itself partially evacuated and retained;
			// it keeps both its forwarded prefix and its live remainder in
			// place, so it must not be queued for release like a fully
			// evacuated page.
		case moved > 0:
			plan.evacuated = append(plan.evacuated, src)
		default:
			// Nothing was live on this page: no forwarding header was
			// ever written to it, so there is nothing fixup needs to see
			// here and it can rejoin the free-page reservoir immediately,
			// growing what later pages in this same pass can allocate
			// into instead of waiting for the next cycle.
			h.reclaimEmptyPage(src)
		}
		if err != nil {
			for _, rest := range plan.pending[i+1:] {
				h.mu.Lock()
				rest.flags |= FlagRetained
				h.mu.Unlock()
				whitenDeadSlots(rest)
			}
			return err
		}
	}
	return nil
}

func (h *Heap) evacuatePage(src *Page) (int, error) {
	moved := 0
	var failed error
	for i := uint32(0); i < src.bump; {
		s := &src.slots[i]
		if s.header == 0 || s.header.IsForwarded() {
			i++
			continue
		}
		need := slotsNeeded(s.header.Size(), src.slotSize)
		if src.marks[i] == White {
			i += need
			continue
		}

		newID, err := h.relocate(s.header.Type(), s.header.Size(), need, s.fields, s.raw)
		if err != nil {
			failed = err
			break
		}
		src.slots[i].header = ForwardingHeader(newID)
		src.slots[i].fields = nil
		src.slots[i].raw = nil
		moved++
		i += need
	}

	if failed != nil {
		// Everything before i was already forwarded and keeps its
		// per-object forwarding header; everything from i on stays live
		// and in place. Retaining the page (instead of freeing it) lets
		// the ordinary retained-page fixup walk cover both halves: it
		// skips forwarded headers one slot at a time and fixes up the
		// still-live objects' fields normally.
		h.mu.Lock()
		src.flags |= FlagPartiallyEvacuated | FlagRetained
		h.mu.Unlock()
		whitenDeadSlots(src)
		return moved, failed
	}

	h.mu.Lock()
	src.list.remove(src)
	src.flags |= FlagEvacuated
	h.mu.Unlock()
	return moved, nil
}

// reclaimEmptyPage returns a page that evacuation found entirely dead
// (nothing moved off it, so it carries no forwarding headers fixup
// would need) straight to the free list without waiting for fixup.
// evacuatePage has already unlinked it from its used/full list.
func (h *Heap) reclaimEmptyPage(p *Page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p.reset()
	h.freeList.insert(p)
}

// releaseEvacuatedPages resets and frees every page evacuate() drained,
// once the fixup pass has resolved every stale reference through their
// forwarding headers. Resetting any earlier would zero those headers
// and make resolve() treat a stale reference as already current.
func (h *Heap) releaseEvacuatedPages(plan *evacuationPlan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, src := range plan.evacuated {
		src.reset()
		h.freeList.insert(src)
	}
}

// relocate copies one object's payload into a fresh slot range,
// bypassing the public Alloc path (no threshold checks, no recursive
// collection trigger: relocation happens while a collection is already
// in progress).
func (h *Heap) relocate(t Type, size, need uint32, fields []objid.ID, raw []byte) (objid.ID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for p := h.usedList.first; p != nil; p = p.next {
		if p.flags&FlagEvacuated != 0 {
			continue
		}
		if p.freeSlots() >= need {
			id := p.bumpAlloc(t, size, need, false)
			p.setColor(id.AsRef().Offset, Black)
			dst := p.slotAt(id.AsRef().Offset)
			dst.fields = fields
			dst.raw = raw
			if p.isFull() {
				h.usedList.moveToBack(p)
			}
			return id, nil
		}
	}

	if h.freeList.isEmpty() {
		if h.tuning.MaxHeapSize > 0 && h.totalSlots()*uint64(h.slotSize()) >= h.tuning.MaxHeapSize {
			return objid.Bad, ErrOutOfMemory
		}
		h.growPool()
	}
	p := h.freeList.first
	h.freeList.remove(p)
	h.usedList.insert(p)
	id := p.bumpAlloc(t, size, need, false)
	p.setColor(id.AsRef().Offset, Black)
	dst := p.slotAt(id.AsRef().Offset)
	dst.fields = fields
	dst.raw = raw
	return id, nil
}
