package kos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-lang/kos-sub004/internal/heap"
	"github.com/kos-lang/kos-sub004/internal/objid"
)

func TestSetGetDeleteProperty(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()
	obj, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)

	key := NewSmallInt(1)
	val := NewSmallInt(42)

	require.NoError(t, in.SetProperty(ctx, obj, key, val))

	got, ok, err := in.GetProperty(ctx, obj, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, val, got)

	deleted, err := in.DeleteProperty(obj, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = in.GetProperty(ctx, obj, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetPropertyWalksPrototypeChain(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	base, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	key := NewSmallInt(7)
	val := NewSmallInt(99)
	require.NoError(t, in.SetProperty(ctx, base, key, val))

	derived, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, base)
	require.NoError(t, err)

	got, ok, err := in.GetProperty(ctx, derived, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, val, got)
}

func TestHasPrototypeWalksChain(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	grandparent, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	parent, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, grandparent)
	require.NoError(t, err)
	child, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, parent)
	require.NoError(t, err)

	assert.True(t, in.HasPrototype(child, parent))
	assert.True(t, in.HasPrototype(child, grandparent))
	assert.False(t, in.HasPrototype(child, child))

	unrelated, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	assert.False(t, in.HasPrototype(child, unrelated))
}

func TestSetPropertyNeverWritesThroughPrototype(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	base, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	key := NewSmallInt(1)
	require.NoError(t, in.SetProperty(ctx, base, key, NewSmallInt(1)))

	derived, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, base)
	require.NoError(t, err)
	require.NoError(t, in.SetProperty(ctx, derived, key, NewSmallInt(2)))

	baseVal, _, err := in.GetProperty(ctx, base, key)
	require.NoError(t, err)
	assert.Equal(t, NewSmallInt(1), baseVal)

	derivedVal, _, err := in.GetProperty(ctx, derived, key)
	require.NoError(t, err)
	assert.Equal(t, NewSmallInt(2), derivedVal)
}

func TestDynamicPropertyInterception(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	obj, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	descriptor, err := in.AllocObject(ctx, heap.TypeDynamicProperty, heap.Movable, objid.Bad)
	require.NoError(t, err)

	key := NewSmallInt(5)
	require.NoError(t, in.SetProperty(ctx, obj, key, descriptor))

	var gotThis, gotDescriptor objid.ID
	in.SetDynamicPropertyHooks(
		func(c *Context, this, d objid.ID) (objid.ID, error) {
			gotThis, gotDescriptor = this, d
			return NewSmallInt(123), nil
		},
		nil,
	)

	got, ok, err := in.GetProperty(ctx, obj, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NewSmallInt(123), got)
	assert.Equal(t, obj, gotThis)
	assert.Equal(t, descriptor, gotDescriptor)
}

func TestOwnKeysDoesNotWalkPrototype(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	base, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	require.NoError(t, in.SetProperty(ctx, base, NewSmallInt(1), NewSmallInt(1)))

	derived, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, base)
	require.NoError(t, err)
	require.NoError(t, in.SetProperty(ctx, derived, NewSmallInt(2), NewSmallInt(2)))

	var keys []objid.ID
	require.NoError(t, in.OwnKeys(derived, func(k, v objid.ID) bool {
		keys = append(keys, k)
		return true
	}))
	assert.Equal(t, []objid.ID{NewSmallInt(2)}, keys)
}

func TestDeepKeysSkipsShadowedKeys(t *testing.T) {
	in := smallInstance()
	ctx := in.NewThread()

	base, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, objid.Bad)
	require.NoError(t, err)
	require.NoError(t, in.SetProperty(ctx, base, NewSmallInt(1), NewSmallInt(100)))

	derived, err := in.AllocObject(ctx, heap.TypeObject, heap.Movable, base)
	require.NoError(t, err)
	require.NoError(t, in.SetProperty(ctx, derived, NewSmallInt(1), NewSmallInt(200)))
	require.NoError(t, in.SetProperty(ctx, derived, NewSmallInt(2), NewSmallInt(300)))

	seen := map[objid.ID]objid.ID{}
	require.NoError(t, in.DeepKeys(derived, func(k, v objid.ID) bool {
		seen[k] = v
		return true
	}))

	assert.Equal(t, NewSmallInt(200), seen[NewSmallInt(1)], "derived's own value must shadow base's")
	assert.Equal(t, NewSmallInt(300), seen[NewSmallInt(2)])
	assert.Len(t, seen, 2)
}
