package kos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

func TestStackPushPopOrder(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	ctx.PushStack(objid.NewSmallInt(1))
	ctx.PushStack(objid.NewSmallInt(2))

	v, ok := ctx.PopStack()
	require.True(t, ok)
	assert.Equal(t, objid.NewSmallInt(2), v)

	v, ok = ctx.PopStack()
	require.True(t, ok)
	assert.Equal(t, objid.NewSmallInt(1), v)

	_, ok = ctx.PopStack()
	assert.False(t, ok)
}

func TestLocalListsAreIndependent(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	ctx.PushLocal(LocalsInterpreter, objid.NewSmallInt(1))
	ctx.PushLocal(LocalsHostProtect, objid.NewSmallInt(2))

	v, ok := ctx.PopLocal(LocalsHostProtect)
	require.True(t, ok)
	assert.Equal(t, objid.NewSmallInt(2), v)

	v, ok = ctx.PopLocal(LocalsInterpreter)
	require.True(t, ok)
	assert.Equal(t, objid.NewSmallInt(1), v)
}

func TestFinishThenJoinTransitionsState(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	done := make(chan struct{})
	go func() {
		ctx.Join()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Join returned before Finish was called")
	case <-time.After(20 * time.Millisecond):
	}

	ctx.Finish()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join never returned after Finish")
	}
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	in.Suspend(ctx)
	in.Resume(ctx)
	assert.Contains(t, in.engage.EngagedHelpers(^ctx.ID()), ctx.ID())
}

func TestHelpGCReturnsWithNoCollectionInProgress(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	done := make(chan struct{})
	go func() {
		in.HelpGC(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("HelpGC blocked with no collection in progress")
	}
}
