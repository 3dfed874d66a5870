package kos

import (
	"github.com/pkg/errors"

	"github.com/kos-lang/kos-sub004/internal/heap"
	"github.com/kos-lang/kos-sub004/internal/objid"
)

// NewSmallInt tags v as a small-integer object id; no allocation.
func NewSmallInt(v int64) objid.ID { return objid.NewSmallInt(v) }

// AllocString copies data into a new heap string object. Strings are
// immutable and carry no reference-bearing fields, so the collector
// moves them without chasing anything inside.
func (in *Instance) AllocString(ctx *Context, data []byte) (objid.ID, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	id, err := in.heap.Alloc(heap.TypeString, uint32(len(buf)), heap.Movable, nil, buf, in.helperCountFor(ctx))
	return id, errors.Wrap(err, "kos: alloc_string failed")
}

// AllocBuffer allocates a mutable byte buffer of the given size.
// Buffers over the configured huge threshold are transparently routed
// through the off-heap huge tracker by internal/heap.
func (in *Instance) AllocBuffer(ctx *Context, size uint32, movable heap.Movability) (objid.ID, error) {
	id, err := in.heap.Alloc(heap.TypeBuffer, size, movable, nil, make([]byte, size), in.helperCountFor(ctx))
	return id, errors.Wrap(err, "kos: alloc_buffer failed")
}

// BufferBytes returns the byte slice backing a buffer or string, or
// the bytes tracked by a huge-allocated one.
func (in *Instance) BufferBytes(id objid.ID) []byte {
	if id.IsHuge() {
		return in.heap.HugePayload(id)
	}
	return in.heap.RawBytes(id)
}

// Suspend marks ctx as not participating in the next collection until
// Resume is called, for use around blocking host calls.
func (in *Instance) Suspend(ctx *Context) { in.engage.Suspend(ctx.id) }

// Resume re-synchronizes ctx with any collection that ran while it was
// suspended before returning control to it.
func (in *Instance) Resume(ctx *Context) { in.engage.Resume(ctx.id) }

// HelpGC blocks ctx until the collection currently in progress (if
// any) finishes. A thread with no mutation work of its own calls this
// instead of continuing to race the collector or spinning.
func (in *Instance) HelpGC(ctx *Context) { in.engage.HelpGC(ctx.id) }

// MadGC reports whether the instance is configured to retire the
// current page on every single allocation, forcing the slow path (and
// therefore far more frequent collections) to shake out concurrency
// bugs during testing.
func (in *Instance) MadGC() bool { return in.tuning.MadGC }
