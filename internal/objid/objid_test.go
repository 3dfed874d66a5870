package objid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmallIntRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 12345, -12345, smallIntMax - 1, -smallIntMax} {
		id := NewSmallInt(v)
		require.True(t, id.IsSmallInt())
		assert.False(t, id.IsRef())
		assert.False(t, id.IsHuge())
		assert.Equal(t, v, id.SmallInt())
	}
}

func TestFitsSmallInt(t *testing.T) {
	assert.True(t, FitsSmallInt(0))
	assert.True(t, FitsSmallInt(smallIntMax-1))
	assert.False(t, FitsSmallInt(smallIntMax))
	assert.True(t, FitsSmallInt(-smallIntMax))
	assert.False(t, FitsSmallInt(-smallIntMax-1))
}

func TestRefRoundTrip(t *testing.T) {
	cases := []Ref{
		{Pool: 0, Page: 0, Offset: 0},
		{Pool: 1, Page: 2, Offset: 3},
		{Pool: 0x3FFFFF, Page: 0xFFFFF, Offset: 0xFFFFF},
	}
	for _, r := range cases {
		id := NewRef(r)
		require.True(t, id.IsRef())
		require.False(t, id.IsHuge())
		assert.Equal(t, r, id.AsRef())
	}
}

func TestHugeRefRoundTrip(t *testing.T) {
	for _, idx := range []uint32{0, 1, 42, 0xFFFFFFF} {
		id := NewHugeRef(HugeRef{Index: idx})
		require.True(t, id.IsRef())
		require.True(t, id.IsHuge())
		assert.Equal(t, idx, id.AsHugeRef().Index)
	}
}

func TestBadSentinel(t *testing.T) {
	assert.True(t, Bad.IsBad())
	assert.False(t, Bad.IsRef())
	assert.False(t, Bad.IsSmallInt())
}

func TestStringFormsDontPanic(t *testing.T) {
	ids := []ID{
		Bad,
		NewSmallInt(7),
		NewRef(Ref{Pool: 1, Page: 2, Offset: 3}),
		NewHugeRef(HugeRef{Index: 9}),
	}
	for _, id := range ids {
		assert.NotEmpty(t, id.String())
	}
}
