package kos

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kos-lang/kos-sub004/internal/heap"
	"github.com/kos-lang/kos-sub004/internal/metrics"
	"github.com/kos-lang/kos-sub004/internal/objid"
	"github.com/kos-lang/kos-sub004/internal/tuning"
)

func smallInstance() *Instance {
	tn := tuning.Defaults()
	tn.PoolBits = 12
	tn.PageBits = 8
	tn.ObjAlignBits = 5
	tn.MaxHeapSize = 0
	return New(WithLogger(NewDiscardLogger()), WithTuning(tn))
}

func TestNewThreadIsEngaged(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()
	require.NotNil(t, ctx)
	assert.GreaterOrEqual(t, ctx.ID(), uint64(0))
}

func TestModuleAndPrototypeRegistry(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	proto, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	in.DefinePrototype("Object", proto)

	got, ok := in.Prototype("Object")
	require.True(t, ok)
	assert.Equal(t, proto, got)

	_, ok = in.Prototype("Missing")
	assert.False(t, ok)

	mod, err := in.AllocObject(ctx, heap.TypeModule, heap.Movable, objid.Bad)
	require.NoError(t, err)
	in.DefineModule("main", mod)
	got, ok = in.Module("main")
	require.True(t, ok)
	assert.Equal(t, mod, got)
}

func TestCollectKeepsModuleAndPrototypeRootsAlive(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	proto, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	in.DefinePrototype("Object", proto)

	require.NoError(t, in.Collect(ctx, nil))

	got, ok := in.Prototype("Object")
	require.True(t, ok)
	assert.Equal(t, heap.TypeObject, in.heap.TypeOf(got))
}

func TestJoinRemovesThreadFromRootSet(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	ctx.Finish()
	ctx.Join()

	in.mu.Lock()
	_, stillPresent := in.threads[ctx.ID()]
	in.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestDestroyJoinsUnfinishedThreads(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	done := make(chan struct{})
	go func() {
		ctx.Join()
		close(done)
	}()

	in.Destroy()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join never returned after Destroy")
	}

	in.mu.Lock()
	_, stillPresent := in.threads[ctx.ID()]
	in.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestCollectPublishesArrayResizeMetric(t *testing.T) {
	coll := metrics.New(prometheus.NewRegistry())
	tn := tuning.Defaults()
	tn.PoolBits = 12
	tn.PageBits = 8
	tn.ObjAlignBits = 5
	in := New(WithLogger(NewDiscardLogger()), WithTuning(tn), WithMetrics(coll))
	ctx := in.NewThread()

	arr, err := in.AllocArray(ctx, heap.Movable)
	require.NoError(t, err)
	for i := int64(0); i < 100; i++ {
		_, err := in.ArrayPush(arr, NewSmallInt(i))
		require.NoError(t, err)
	}

	require.NoError(t, in.Collect(ctx, nil))

	var m dto.Metric
	require.NoError(t, coll.ArrayResizes.Write(&m))
	assert.Greater(t, m.GetCounter().GetValue(), 0.0)
}

func TestCollectStatsReportsSummary(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()
	_, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)

	var stats heap.GCStats
	require.NoError(t, in.Collect(ctx, &stats))
	assert.GreaterOrEqual(t, stats.Duration.Nanoseconds(), int64(0))
}

func TestStatsReportsAtLeastOnePool(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()
	_, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)

	s := in.Stats()
	assert.GreaterOrEqual(t, s.Pools, 1)
}
