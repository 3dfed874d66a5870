package heap

import "github.com/kos-lang/kos-sub004/internal/objid"

// Header is the size-and-type word stored at the first slot of every
// heap object, packed as:
//
//	bit 0           : 0 while the object is live, 1 once forwarded
//	bits [1:8)      : type tag (Type), always even so bit 0 stays 0
//	bits [8:64)     : allocated size in bytes
//
// Once evacuation forwards an object, the entire word is overwritten
// with the new objid.ID (whose low bit is 1 by construction), so "is
// this header a forwarding word" is exactly "is the low bit set".
type Header uint64

const headerTypeShift = 1
const headerSizeShift = 8
const headerTypeMask = 0x7F

// NewHeader packs a type tag and byte size into a live header word.
func NewHeader(t Type, size uint32) Header {
	return Header(uint64(size)<<headerSizeShift | uint64(t)<<headerTypeShift)
}

// IsForwarded reports whether this header has been overwritten with a
// forwarding id (evacuation already moved the object).
func (h Header) IsForwarded() bool {
	return h&1 == 1
}

// Type returns the object's type tag. The caller must have checked
// !IsForwarded first.
func (h Header) Type() Type {
	return Type((h >> headerTypeShift) & headerTypeMask)
}

// Size returns the object's allocated size in bytes. The caller must
// have checked !IsForwarded first.
func (h Header) Size() uint32 {
	return uint32(h >> headerSizeShift)
}

// Forwarded returns the new object id encoded in a forwarded header.
// The caller must have checked IsForwarded first.
func (h Header) Forwarded() objid.ID {
	return objid.ID(h)
}

// ForwardingHeader packs a forwarding header from the new object id.
func ForwardingHeader(newID objid.ID) Header {
	return Header(newID)
}
