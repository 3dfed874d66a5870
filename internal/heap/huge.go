package heap

import "github.com/kos-lang/kos-sub004/internal/objid"

// hugeObject is the off-heap tracker entry for an allocation too large
// for a page. The data itself lives in payload, outside any pool; only
// a small on-heap descriptor (the TypeHugeTracker companion below) is
// visited by the collector.
type hugeObject struct {
	trackerID objid.ID // the small on-heap TypeHugeTracker object's id
	pointee   objid.ID // the referenced object's id, if any (for graph walks)
	size      uint32
	payload   []byte
	free      bool
}

// allocHuge carves a new off-heap slot and a small fixed-size
// TypeHugeTracker object to anchor it. The tracker is a page object
// that is bump-allocated and marked like anything else, but it is
// always allocated immovable, so evacuation never moves it; only the
// entry's pointee is rewritten by the fixup pass.
func (h *Heap) allocHuge(t Type, size uint32, fields []objid.ID, raw []byte) (objid.ID, error) {
	h.mu.Lock()

	const trackerSize = 8 // one back-reference word
	need := slotsNeeded(trackerSize, h.slotSize())

	if h.freeList.isEmpty() && (h.curPage == nil || h.curPage.freeSlots() < need) {
		full := true
		for p := h.usedList.first; p != nil; p = p.next {
			if p.freeSlots() >= need {
				full = false
				break
			}
		}
		if full {
			if h.tuning.MaxHeapSize > 0 && h.totalSlots()*uint64(h.slotSize()) >= h.tuning.MaxHeapSize {
				h.mu.Unlock()
				return objid.Bad, ErrOutOfMemory
			}
			h.growPool()
		}
	}

	var trackerPage *Page
	if h.curPage != nil && h.curPage.freeSlots() >= need {
		trackerPage = h.curPage
	} else {
		for p := h.usedList.first; p != nil; p = p.next {
			if p.freeSlots() >= need {
				trackerPage = p
				break
			}
		}
	}
	if trackerPage == nil {
		p := h.freeList.first
		h.freeList.remove(p)
		h.usedList.insert(p)
		trackerPage = p
	}
	h.curPage = trackerPage
	trackerID := trackerPage.bumpAlloc(TypeHugeTracker, trackerSize, need, true)

	var idx uint32
	if n := len(h.hugeFree); n > 0 {
		idx = h.hugeFree[n-1]
		h.hugeFree = h.hugeFree[:n-1]
	} else {
		idx = uint32(len(h.huge))
		h.huge = append(h.huge, nil)
	}

	obj := &hugeObject{trackerID: trackerID, size: size, payload: raw}
	h.huge[idx] = obj
	h.mu.Unlock()

	externalID := objid.NewHugeRef(objid.HugeRef{Index: idx})

	h.installPayload(trackerID, []objid.ID{externalID}, nil)
	if len(fields) == 1 {
		obj.pointee = fields[0]
	}

	return externalID, nil
}

// hugeByID resolves a huge-reference id to its tracker entry.
func (h *Heap) hugeByID(id objid.ID) *hugeObject {
	ref := id.AsHugeRef()
	if int(ref.Index) >= len(h.huge) {
		return nil
	}
	return h.huge[ref.Index]
}

// HugePayload returns the off-heap bytes for a huge object, for the
// buffer API layered on top of this package.
func (h *Heap) HugePayload(id objid.ID) []byte {
	if hu := h.hugeByID(id); hu != nil && !hu.free {
		return hu.payload
	}
	return nil
}

// sweepHuge releases any huge entry whose tracker object did not
// survive the just-completed mark phase, freeing the off-heap region
// once its anchor object was not marked.
func (h *Heap) sweepHuge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, hu := range h.huge {
		if hu == nil || hu.free {
			continue
		}
		if h.colorOf(hu.trackerID) == White {
			hu.payload = nil
			hu.free = true
			h.hugeFree = append(h.hugeFree, uint32(i))
		}
	}
}
