package kos

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

func TestRaiseAndClearException(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	assert.False(t, ctx.IsExceptionPending())

	val := objid.NewSmallInt(7)
	ctx.Raise(val)
	assert.True(t, ctx.IsExceptionPending())
	assert.Equal(t, val, ctx.PendingException())

	ctx.ClearException()
	assert.False(t, ctx.IsExceptionPending())
	assert.Equal(t, objid.Bad, ctx.PendingException())
}

func TestExceptionErrorMessageMentionsValue(t *testing.T) {
	e := &Exception{value: objid.NewSmallInt(3)}
	assert.Contains(t, e.Error(), "unhandled exception")
	assert.Equal(t, objid.NewSmallInt(3), e.Value())
}
