package heap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kos-lang/kos-sub004/internal/objid"
)

func TestGroupPushPopOrder(t *testing.T) {
	var g group
	assert.True(t, g.empty())
	g.push(objid.NewSmallInt(1))
	g.push(objid.NewSmallInt(2))
	assert.False(t, g.empty())
	assert.Equal(t, objid.NewSmallInt(2), g.pop())
	assert.Equal(t, objid.NewSmallInt(1), g.pop())
	assert.True(t, g.empty())
}

func TestGroupFullAtCapacity(t *testing.T) {
	var g group
	for i := 0; i < groupCapacity; i++ {
		assert.False(t, g.full())
		g.push(objid.NewSmallInt(int64(i)))
	}
	assert.True(t, g.full())
}

func TestGroupStackPushPopSingleThreaded(t *testing.T) {
	var s groupStack
	g1 := &group{}
	g1.push(objid.NewSmallInt(1))
	g2 := &group{}
	g2.push(objid.NewSmallInt(2))

	s.push(g1)
	s.push(g2)

	got1 := s.pop()
	got2 := s.pop()
	assert.NotNil(t, got1)
	assert.NotNil(t, got2)
	assert.Nil(t, s.pop())
}

func TestGroupStackOverflowsRingIntoMutexList(t *testing.T) {
	var s groupStack
	// Push more groups than the lock-free ring holds; the excess must
	// fall back to the mutex-guarded overflow list without being lost.
	n := ringSlots + 16
	for i := 0; i < n; i++ {
		g := &group{}
		g.push(objid.NewSmallInt(int64(i)))
		s.push(g)
	}
	count := 0
	for s.pop() != nil {
		count++
	}
	assert.Equal(t, n, count)
}

func TestGroupStackConcurrentPushPop(t *testing.T) {
	var s groupStack
	const n = 2000

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := &group{}
			g.push(objid.NewSmallInt(int64(i)))
			s.push(g)
		}(i)
	}
	wg.Wait()

	seen := 0
	for s.pop() != nil {
		seen++
	}
	assert.Equal(t, n, seen)
}
