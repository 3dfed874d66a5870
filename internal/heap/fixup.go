package heap

import "github.com/kos-lang/kos-sub004/internal/objid"

// resolve maps a possibly-forwarded id to its final location: a
// heap-reference whose old slot header now carries a forwarding id
// resolves to that id; everything else (small ints, huge refs, ids
// already pointing at a live slot) resolves to itself.
func (h *Heap) resolve(id objid.ID) objid.ID {
	if !id.IsRef() || id.IsHuge() {
		return id
	}
	p, off := h.pageFor(id)
	if p == nil {
		return id
	}
	header := p.slotAt(off).header
	if header.IsForwarded() {
		return header.Forwarded()
	}
	return id
}

// fixupPointers rewrites every surviving object's reference-bearing
// fields, every root, and the huge tracker's internal pointee fields
// to point at final post-evacuation locations.
func (h *Heap) fixupPointers(plan evacuationPlan) {
	for _, pool := range h.pools {
		for _, p := range pool.pages {
			if p.flags&FlagEvacuated != 0 {
				continue
			}
			for i := uint32(0); i < p.bump; {
				s := &p.slots[i]
				if s.header == 0 || s.header.IsForwarded() {
					i++
					continue
				}
				for j, f := range s.fields {
					s.fields[j] = h.resolve(f)
				}
				i += slotsNeeded(s.header.Size(), p.slotSize)
			}
		}
	}

	if h.roots != nil {
		h.roots.FixupRoots(h.resolve)
	}

	h.mu.Lock()
	for _, hu := range h.huge {
		if hu == nil || hu.free {
			continue
		}
		if hu.pointee != objid.Bad && !hu.pointee.IsBad() {
			hu.pointee = h.resolve(hu.pointee)
		}
	}
	h.mu.Unlock()
}
