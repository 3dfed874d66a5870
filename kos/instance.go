// Package kos is the instance-wide and thread-local state layered on
// top of internal/heap, internal/proptable and internal/arraystore: it
// is the "External Interfaces" surface of this module; an embedder
// never touches the internal packages directly.
package kos

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kos-lang/kos-sub004/internal/arraystore"
	"github.com/kos-lang/kos-sub004/internal/heap"
	"github.com/kos-lang/kos-sub004/internal/metrics"
	"github.com/kos-lang/kos-sub004/internal/objid"
	"github.com/kos-lang/kos-sub004/internal/proptable"
	"github.com/kos-lang/kos-sub004/internal/tuning"
)

// Instance owns one heap, its prototypes and loaded modules, and the
// registry of threads currently using it.
type Instance struct {
	tuning tuning.Tuning
	log    *zap.Logger
	heap   *heap.Heap
	engage *heap.Engagement
	stats  *metrics.Collector

	mu           sync.Mutex
	prototypes   map[string]objid.ID
	modules      map[string]objid.ID
	threads      map[uint64]*Context
	nextThreadID uint64

	objects sync.Map // objid.ID -> *proptable.Table
	arrays  sync.Map // objid.ID -> *arraystore.Store

	dynGet DynamicPropertyFunc
	dynSet DynamicPropertyFunc
}

// Option configures an Instance at construction time.
type Option func(*Instance)

// WithLogger overrides the default no-op zap.Logger.
func WithLogger(log *zap.Logger) Option {
	return func(in *Instance) { in.log = log }
}

// WithTuning overrides the default Tuning constants.
func WithTuning(t tuning.Tuning) Option {
	return func(in *Instance) { in.tuning = t }
}

// WithMetrics attaches a prometheus Collector; Stats() results are
// pushed into it after every collection.
func WithMetrics(c *metrics.Collector) Option {
	return func(in *Instance) { in.stats = c }
}

// New constructs an Instance with its own heap.
func New(opts ...Option) *Instance {
	in := &Instance{
		tuning:     tuning.Defaults(),
		log:        zap.NewNop(),
		prototypes: make(map[string]objid.ID),
		modules:    make(map[string]objid.ID),
		threads:    make(map[uint64]*Context),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.heap = heap.New(in.tuning, in.log, in)
	in.engage = heap.NewEngagement(in.heap)
	return in
}

// EnumerateRoots implements heap.RootSource.
func (in *Instance) EnumerateRoots(yield func(objid.ID)) {
	in.mu.Lock()
	protos := make([]objid.ID, 0, len(in.prototypes))
	for _, id := range in.prototypes {
		protos = append(protos, id)
	}
	mods := make([]objid.ID, 0, len(in.modules))
	for _, id := range in.modules {
		mods = append(mods, id)
	}
	threads := make([]*Context, 0, len(in.threads))
	for _, c := range in.threads {
		threads = append(threads, c)
	}
	in.mu.Unlock()

	for _, id := range protos {
		yield(id)
	}
	for _, id := range mods {
		yield(id)
	}
	for _, c := range threads {
		c.enumerateRoots(yield)
	}
}

// FixupRoots implements heap.RootSource.
func (in *Instance) FixupRoots(translate func(objid.ID) objid.ID) {
	in.mu.Lock()
	for k, id := range in.prototypes {
		in.prototypes[k] = translate(id)
	}
	for k, id := range in.modules {
		in.modules[k] = translate(id)
	}
	threads := make([]*Context, 0, len(in.threads))
	for _, c := range in.threads {
		threads = append(threads, c)
	}
	in.mu.Unlock()

	for _, c := range threads {
		c.fixupRoots(translate)
	}

	in.remapObjectStorage(translate)
}

// remapObjectStorage rekeys the object/array side tables so a moved
// object's property table and array storage follow it, since those
// tables are held in a Go map keyed by objid.ID rather than inline in
// the heap slot (the heap slot only carries reference-bearing
// objid.ID fields and opaque bytes, per internal/heap's data model).
func (in *Instance) remapObjectStorage(translate func(objid.ID) objid.ID) {
	type move struct {
		old, new objid.ID
	}
	var objMoves, arrMoves []move

	in.objects.Range(func(k, v any) bool {
		old := k.(objid.ID)
		if new := translate(old); new != old {
			objMoves = append(objMoves, move{old, new})
		}
		return true
	})
	in.arrays.Range(func(k, v any) bool {
		old := k.(objid.ID)
		if new := translate(old); new != old {
			arrMoves = append(arrMoves, move{old, new})
		}
		return true
	})

	for _, m := range objMoves {
		if v, ok := in.objects.LoadAndDelete(m.old); ok {
			in.objects.Store(m.new, v)
		}
	}
	for _, m := range arrMoves {
		if v, ok := in.arrays.LoadAndDelete(m.old); ok {
			in.arrays.Store(m.new, v)
		}
	}
}

// NewThread registers a new Context and returns it. helperCount for a
// collection triggered by this thread is derived automatically from
// the engagement registry.
func (in *Instance) NewThread() *Context {
	in.mu.Lock()
	id := in.nextThreadID
	in.nextThreadID++
	ctx := newContext(id, in)
	in.threads[id] = ctx
	in.mu.Unlock()

	in.engage.Engage(id)
	return ctx
}

// disownThread removes a joined thread from the registry so its roots
// stop being scanned (the supplemented "disowned-thread cleanup"
// feature: without this, a finished-and-joined thread would otherwise
// keep its last stack frame alive forever).
func (in *Instance) disownThread(id uint64) {
	in.engage.Disengage(id)
	in.mu.Lock()
	delete(in.threads, id)
	in.mu.Unlock()
}

// Collect runs one mark/evacuate/update cycle, helped by every other
// currently engaged thread, then publishes metrics if configured.
// stats may be nil; when non-nil it receives a before/after size,
// pages-freed, objects-evacuated and duration summary of the cycle.
func (in *Instance) Collect(initiator *Context, stats *heap.GCStats) error {
	helpers := in.engage.EngagedHelpers(initiator.id)
	err := in.heap.Collect(len(helpers), stats)
	in.engage.NotifyPhaseChange()
	if in.stats != nil {
		s := in.heap.Stats()
		in.stats.Observe(metrics.Snapshot{
			Pools: s.Pools, Pages: s.Pages, UsedPages: s.UsedPages,
			FreePages: s.FreePages, FullPages: s.FullPages,
			AllocatedSlots: s.AllocatedSlots, Collections: s.Collections,
			HugeObjects: s.HugeObjects, HugeBytes: s.HugeBytes,
			ProptableResizes: in.totalProptableResizes(),
			ArrayResizes:     in.totalArrayResizes(),
		})
	}
	return errors.Wrap(err, "kos: collection failed")
}

// Stats returns a heap occupancy snapshot.
func (in *Instance) Stats() heap.Stats { return in.heap.Stats() }

// totalProptableResizes sums the capacity-doubling count across every
// live object's property table, for the proptable resize counter.
func (in *Instance) totalProptableResizes() uint64 {
	var total uint64
	in.objects.Range(func(_, v any) bool {
		total += v.(*proptable.Table).Resizes()
		return true
	})
	return total
}

// totalArrayResizes sums the capacity-doubling count across every live
// array's storage, for the array resize counter.
func (in *Instance) totalArrayResizes() uint64 {
	var total uint64
	in.arrays.Range(func(_, v any) bool {
		total += v.(*arraystore.Store).Resizes()
		return true
	})
	return total
}

// DefineModule records a module's top-level object under path, making
// it a permanent GC root for the lifetime of the instance.
func (in *Instance) DefineModule(path string, id objid.ID) {
	in.mu.Lock()
	in.modules[path] = id
	in.mu.Unlock()
}

// Module looks up a previously defined module.
func (in *Instance) Module(path string) (objid.ID, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id, ok := in.modules[path]
	return id, ok
}

// DefinePrototype records a builtin prototype object under name.
func (in *Instance) DefinePrototype(name string, id objid.ID) {
	in.mu.Lock()
	in.prototypes[name] = id
	in.mu.Unlock()
}

// Prototype looks up a previously defined prototype.
func (in *Instance) Prototype(name string) (objid.ID, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id, ok := in.prototypes[name]
	return id, ok
}

// Destroy joins every thread still registered with the instance,
// including ones a caller forgot to Join explicitly, before releasing
// heap memory. A thread that never called Finish is finished on its
// behalf so Join can't block forever on instance teardown.
func (in *Instance) Destroy() {
	for {
		in.mu.Lock()
		var ctx *Context
		for _, c := range in.threads {
			ctx = c
			break
		}
		in.mu.Unlock()
		if ctx == nil {
			break
		}
		ctx.Finish()
		ctx.Join()
	}
}
