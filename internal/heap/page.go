package heap

import "github.com/kos-lang/kos-sub004/internal/objid"

// PageFlags records per-page state bits, e.g. already evacuated.
type PageFlags uint8

const (
	FlagEvacuated PageFlags = 1 << iota
	FlagRetained
	FlagPartiallyEvacuated
)

// slot is the per-slot bookkeeping a page carries for the first slot of
// every object. Continuation slots (the 2nd..nth slot of a multi-slot
// object) carry a zero header and nil fields: only the first slot of a
// multi-slot object carries marking bits.
type slot struct {
	header Header
	fields []objid.ID // reference-bearing words of the object payload
	// raw carries the non-reference payload for object kinds the
	// collector never chases through (strings, buffers, opaque data).
	// The bytecode/compiler layer that would interpret it is out of
	// scope here; the heap only needs to move it verbatim.
	raw []byte
	// immovable pins the object in place: evacuation skips it even when
	// its page is otherwise selected for evacuation.
	immovable bool
}

// Page is a fixed-size region of a Pool, carved into equal slots.
// Slots are addressed by index rather than byte offset, so growing the
// pool table never invalidates an existing reference.
type Page struct {
	id       uint32
	pool     *Pool
	slots    []slot
	marks    []Color // one Color per slot; only index 0 of an object is meaningful
	numSlots uint32
	slotSize uint32

	numAllocated uint32 // slots in use
	bump         uint32 // next free slot index (bump-allocation cursor)
	flags        PageFlags

	next, prev *Page
	list       *PageList
}

func newPage(id uint32, pool *Pool, numSlots, slotSize uint32) *Page {
	return &Page{
		id:       id,
		pool:     pool,
		slots:    make([]slot, numSlots),
		marks:    make([]Color, numSlots),
		numSlots: numSlots,
		slotSize: slotSize,
	}
}

// slotsNeeded rounds a byte size up to a whole number of slots.
func slotsNeeded(size, slotSize uint32) uint32 {
	return (size + slotSize - 1) / slotSize
}

// freeSlots returns how many slots remain unallocated at the bump
// cursor.
func (p *Page) freeSlots() uint32 {
	return p.numSlots - p.bump
}

// isFull reports whether the page has no room left for the bump
// allocator (it may still free up room once it's swept by evacuation).
func (p *Page) isFull() bool {
	return p.freeSlots() == 0
}

// bumpAlloc carves `need` slots off the bump cursor and installs a live
// header for the new object. Caller guarantees need <= freeSlots().
func (p *Page) bumpAlloc(t Type, size uint32, need uint32, immovable bool) objid.ID {
	idx := p.bump
	p.bump += need
	p.numAllocated++
	p.slots[idx] = slot{header: NewHeader(t, size), immovable: immovable}
	p.marks[idx] = White
	return objid.NewRef(objid.Ref{Pool: p.pool.id, Page: p.id, Offset: idx})
}

func (p *Page) slotAt(offset uint32) *slot {
	return &p.slots[offset]
}

func (p *Page) colorAt(offset uint32) Color { return p.marks[offset] }
func (p *Page) setColor(offset uint32, c Color) { p.marks[offset] = c }

// liveSlotCount counts slots whose header is present and not forwarded
// and whose mark color is not White — used by the evacuator's
// retention decision.
func (p *Page) liveSlotCount() uint32 {
	var n uint32
	for i := uint32(0); i < p.bump; {
		s := &p.slots[i]
		if s.header == 0 || s.header.IsForwarded() {
			i++
			continue
		}
		need := slotsNeeded(s.header.Size(), p.slotSize)
		if p.marks[i] != White {
			n += need
		}
		i += need
	}
	return n
}

// reset clears a page for reuse after it has been fully evacuated and
// its contents released back to the free list.
func (p *Page) reset() {
	for i := range p.slots {
		p.slots[i] = slot{}
		p.marks[i] = White
	}
	p.numAllocated = 0
	p.bump = 0
	p.flags = 0
}
