// Package objid implements the tagged object identifier used throughout
// the Kos managed-object heap: a word-sized handle that is either a small
// integer, a reference into a heap page, or a reference into an off-heap
// huge region. No unsafe pointer ever crosses this boundary — a ref packs
// a pool index and a slot index, not a raw address, so the value is safe
// to hold, compare and hash like any other Go integer.
package objid

import "fmt"

// ID is the word-sized tagged handle every managed value is addressed
// by.
//
//	bit 0 == 0: small integer, value in bits [1:64), sign-extended.
//	bit 0 == 1: heap or huge reference; bit 1 distinguishes the two.
type ID uint64

const (
	tagRef      = 1 << 0 // low bit: 0 = small int, 1 = ref
	tagHuge     = 1 << 1 // second bit, only meaningful when tagRef is set
	refShift    = 2
	smallIntMax = int64(1) << 62
)

// Bad is the sentinel for "no value present".
const Bad ID = 0xFFFFFFFFFFFFFFFF

// IsSmallInt reports whether id is a tagged small integer.
func (id ID) IsSmallInt() bool { return id&tagRef == 0 }

// IsRef reports whether id is a heap or huge reference.
func (id ID) IsRef() bool { return id != Bad && id&tagRef == tagRef }

// IsHuge reports whether id references an off-heap huge region.
func (id ID) IsHuge() bool { return id.IsRef() && id&tagHuge == tagHuge }

// IsBad reports whether id is the "no value" sentinel.
func (id ID) IsBad() bool { return id == Bad }

// NewSmallInt tags a signed integer as a small-integer object id.
// It only performs the bit packing and does not check the range;
// FitsSmallInt reports whether a value round-trips.
func NewSmallInt(v int64) ID {
	return ID(uint64(v) << 1)
}

// SmallInt unpacks a small-integer object id back to a signed integer.
// The caller must have checked IsSmallInt first.
func (id ID) SmallInt() int64 {
	return int64(id) >> 1
}

// FitsSmallInt reports whether v can round-trip through NewSmallInt.
func FitsSmallInt(v int64) bool {
	return v >= -smallIntMax && v < smallIntMax
}

// Ref identifies a slot inside a heap page: a pool index, a page index
// within that pool, and the index of the slot within the page. This
// triple is what a "pointer" means in this module: indices replace
// addresses so pool growth never invalidates an id, and the collector
// can rewrite forwarding information by overwriting a header word
// rather than chasing raw pointers.
type Ref struct {
	Pool   uint32
	Page   uint32
	Offset uint32
}

// NewRef packs a Ref into a heap-reference object id.
func NewRef(r Ref) ID {
	packed := uint64(r.Pool)<<40 | uint64(r.Page)<<20 | uint64(r.Offset&0xFFFFF)
	return ID(packed<<refShift | tagRef)
}

// AsRef unpacks a heap-reference object id. The caller must have
// checked IsRef and !IsHuge first.
func (id ID) AsRef() Ref {
	packed := uint64(id) >> refShift
	return Ref{
		Pool:   uint32(packed >> 40),
		Page:   uint32((packed >> 20) & 0xFFFFF),
		Offset: uint32(packed & 0xFFFFF),
	}
}

// HugeRef identifies a huge-tracker object by its tracker slot, not by
// the off-heap address (which the caller looks up through the huge
// table keyed by this same id).
type HugeRef struct {
	Index uint32
}

// NewHugeRef packs a HugeRef into a huge-reference object id.
func NewHugeRef(h HugeRef) ID {
	return ID(uint64(h.Index)<<refShift | tagRef | tagHuge)
}

// AsHugeRef unpacks a huge-reference object id. The caller must have
// checked IsHuge first.
func (id ID) AsHugeRef() HugeRef {
	return HugeRef{Index: uint32(uint64(id) >> refShift)}
}

func (id ID) String() string {
	switch {
	case id.IsBad():
		return "<bad>"
	case id.IsSmallInt():
		return fmt.Sprintf("int(%d)", id.SmallInt())
	case id.IsHuge():
		return fmt.Sprintf("huge(%d)", id.AsHugeRef().Index)
	default:
		r := id.AsRef()
		return fmt.Sprintf("ref(pool=%d,page=%d,off=%d)", r.Pool, r.Page, r.Offset)
	}
}
