package heap

import (
	"sync"
	"sync/atomic"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

// groupCapacity is the fixed size of a mark group: a small
// fixed-capacity array of object ids.
const groupCapacity = 128

// ringSlots is the size of the lock-free ring each groupStack tries
// first before falling back to its mutex-guarded overflow list: an
// N-slot ring buffer indexed modulo N, protected only by atomics, with
// a mutex-guarded overflow list behind it for the rare case where the
// ring itself is saturated.
const ringSlots = 256

// group is a batch of object ids awaiting marking.
type group struct {
	objs [groupCapacity]objid.ID
	n    int
}

func (g *group) empty() bool { return g.n == 0 }
func (g *group) full() bool  { return g.n == groupCapacity }
func (g *group) push(id objid.ID) {
	g.objs[g.n] = id
	g.n++
}
func (g *group) pop() objid.ID {
	g.n--
	return g.objs[g.n]
}

// groupStack is one of the two shared stacks the mark engine uses:
// objects awaiting marking, or recyclable empty group buffers.
type groupStack struct {
	ring [ringSlots]atomic.Pointer[group]
	head atomic.Uint64
	tail atomic.Uint64

	mu       sync.Mutex
	overflow []*group
}

// push publishes g, trying the ring first and falling back to the
// mutex-guarded overflow list.
func (s *groupStack) push(g *group) {
	tail := s.tail.Add(1) - 1
	slot := &s.ring[tail%ringSlots]
	if slot.CompareAndSwap(nil, g) {
		return
	}
	s.mu.Lock()
	s.overflow = append(s.overflow, g)
	s.mu.Unlock()
}

// pop removes and returns a group, or nil if the stack is empty right
// now; it checks the ring first, then the overflow list.
func (s *groupStack) pop() *group {
	for {
		head := s.head.Load()
		tail := s.tail.Load()
		if head >= tail {
			break
		}
		slot := &s.ring[head%ringSlots]
		g := slot.Load()
		if g == nil {
			// A push claimed this slot index via tail but hasn't
			// stored yet (or took the overflow path); don't spin
			// forever on this empty window.
			if !s.head.CompareAndSwap(head, head+1) {
				continue
			}
			continue
		}
		if !s.head.CompareAndSwap(head, head+1) {
			continue
		}
		slot.Store(nil)
		return g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.overflow)
	if n == 0 {
		return nil
	}
	g := s.overflow[n-1]
	s.overflow = s.overflow[:n-1]
	return g
}
