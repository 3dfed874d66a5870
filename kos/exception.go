package kos

import "github.com/kos-lang/kos-sub004/internal/objid"

// Exception wraps a raised-object id so it satisfies Go's error
// interface without being confused for an implementation error: an
// Exception is a value inside the managed heap and is itself subject
// to marking and evacuation, unlike a plain Go error.
type Exception struct {
	value objid.ID
}

func (e *Exception) Error() string {
	return "kos: unhandled exception (value " + e.value.String() + ")"
}

// Value returns the heap object id the exception carries.
func (e *Exception) Value() objid.ID { return e.value }

// Raise records pending as the context's pending exception. Per the
// suspension/resumption model, a pending exception blocks further
// bytecode execution until cleared or propagated.
func (c *Context) Raise(value objid.ID) {
	c.mu.Lock()
	c.pendingException = value
	c.mu.Unlock()
}

// IsExceptionPending reports whether Raise was called without an
// intervening Clear.
func (c *Context) IsExceptionPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pendingException.IsBad()
}

// PendingException returns the current pending exception value, or
// objid.Bad if none is pending.
func (c *Context) PendingException() objid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingException
}

// ClearException drops any pending exception.
func (c *Context) ClearException() {
	c.mu.Lock()
	c.pendingException = objid.Bad
	c.mu.Unlock()
}
