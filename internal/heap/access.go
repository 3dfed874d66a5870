package heap

import "github.com/kos-lang/kos-sub004/internal/objid"

// TypeOf returns the live type tag of id, or a sentinel zero value
// (TypeSmallInt) for small ints, bad ids, or forwarded/unresolvable
// references — callers comparing against a specific non-zero Type are
// unaffected by that overlap.
func (h *Heap) TypeOf(id objid.ID) Type {
	if id.IsSmallInt() || id.IsBad() {
		return TypeSmallInt
	}
	if id.IsHuge() {
		return TypeHugeTracker
	}
	p, off := h.pageFor(id)
	if p == nil {
		return TypeSmallInt
	}
	s := p.slotAt(off)
	if s.header == 0 || s.header.IsForwarded() {
		return TypeSmallInt
	}
	return s.header.Type()
}

// FieldAt returns the field at index in id's payload, or objid.Bad if
// id is not a heap reference or index is out of range.
func (h *Heap) FieldAt(id objid.ID, index int) objid.ID {
	p, off := h.pageFor(id)
	if p == nil {
		return objid.Bad
	}
	s := p.slotAt(off)
	if index < 0 || index >= len(s.fields) {
		return objid.Bad
	}
	return s.fields[index]
}

// SetFieldAt overwrites the field at index in id's payload.
func (h *Heap) SetFieldAt(id objid.ID, index int, value objid.ID) {
	p, off := h.pageFor(id)
	if p == nil {
		return
	}
	s := p.slotAt(off)
	if index < 0 || index >= len(s.fields) {
		return
	}
	s.fields[index] = value
}

// RawBytes returns the opaque, non-reference payload of id (string
// bytes, buffer contents, bytecode constants, ...).
func (h *Heap) RawBytes(id objid.ID) []byte {
	p, off := h.pageFor(id)
	if p == nil {
		return nil
	}
	return p.slotAt(off).raw
}
