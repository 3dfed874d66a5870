package kos

import (
	"sync"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

// JoinState is a thread's lifecycle state after it stops running
// bytecode, distinct from heap.ThreadState (which tracks engagement
// with the collector while the thread is still alive and running).
type JoinState int

const (
	JoinRunning JoinState = iota
	JoinFinished
	JoinJoining
	JoinJoined
)

// Context is the thread-local state of one Kos thread: its pending
// exception, its value stack, and its two LIFO local-handle lists (one
// for values the bytecode interpreter is actively using, one for
// values a host callback wants protected from collection across a
// call it doesn't control). All three are GC roots.
type Context struct {
	id       uint64
	instance *Instance

	mu                sync.Mutex
	pendingException  objid.ID
	stack             []objid.ID
	locals            [2][]objid.ID
	joinState         JoinState
	joinCond          *sync.Cond
}

func newContext(id uint64, in *Instance) *Context {
	c := &Context{id: id, instance: in, pendingException: objid.Bad}
	c.joinCond = sync.NewCond(&c.mu)
	return c
}

// ID returns the thread-registry id this context was allocated under.
func (c *Context) ID() uint64 { return c.id }

// PushStack appends a frame to the value stack (a GC root while any
// frame above it is live).
func (c *Context) PushStack(id objid.ID) {
	c.mu.Lock()
	c.stack = append(c.stack, id)
	c.mu.Unlock()
}

// PopStack removes and returns the topmost stack frame.
func (c *Context) PopStack() (objid.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.stack)
	if n == 0 {
		return objid.Bad, false
	}
	v := c.stack[n-1]
	c.stack = c.stack[:n-1]
	return v, true
}

// LocalsInterpreter and LocalsHostProtect select one of the two local-handle
// lists (0: interpreter locals, 1: host-protected temporaries).
const (
	LocalsInterpreter = 0
	LocalsHostProtect = 1
)

// PushLocal protects id from collection until a matching PopLocal.
func (c *Context) PushLocal(list int, id objid.ID) {
	c.mu.Lock()
	c.locals[list] = append(c.locals[list], id)
	c.mu.Unlock()
}

// PopLocal releases the most recently pushed protected handle in list.
func (c *Context) PopLocal(list int) (objid.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.locals[list])
	if n == 0 {
		return objid.Bad, false
	}
	v := c.locals[list][n-1]
	c.locals[list] = c.locals[list][:n-1]
	return v, true
}

func (c *Context) enumerateRoots(yield func(objid.ID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pendingException.IsBad() {
		yield(c.pendingException)
	}
	for _, id := range c.stack {
		yield(id)
	}
	for _, list := range c.locals {
		for _, id := range list {
			yield(id)
		}
	}
}

func (c *Context) fixupRoots(translate func(objid.ID) objid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pendingException.IsBad() {
		c.pendingException = translate(c.pendingException)
	}
	for i, id := range c.stack {
		c.stack[i] = translate(id)
	}
	for l := range c.locals {
		for i, id := range c.locals[l] {
			c.locals[l][i] = translate(id)
		}
	}
}

// Finish marks this thread FINISHED: a thread that has finished
// running bytecode is still joinable, and its roots stay live until
// Join completes.
func (c *Context) Finish() {
	c.mu.Lock()
	if c.joinState == JoinRunning {
		c.joinState = JoinFinished
		c.joinCond.Broadcast()
	}
	c.mu.Unlock()
}

// Join blocks until another thread (or the instance, at teardown)
// calls Finish and then drives this context through JOINING to
// JOINED, releasing it from the thread registry.
func (c *Context) Join() {
	c.mu.Lock()
	for c.joinState == JoinRunning {
		c.joinCond.Wait()
	}
	c.joinState = JoinJoining
	c.mu.Unlock()

	c.instance.disownThread(c.id)

	c.mu.Lock()
	c.joinState = JoinJoined
	c.joinCond.Broadcast()
	c.mu.Unlock()
}
