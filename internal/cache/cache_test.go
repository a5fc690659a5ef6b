package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheIfAbsentFirstCallerWins(t *testing.T) {
	c := New[string](4)

	_, inserted := c.CacheIfAbsent("a")
	assert.True(t, inserted)

	prior, inserted := c.CacheIfAbsent("a")
	assert.False(t, inserted)
	assert.Equal(t, "a", prior)

	assert.Equal(t, 1, c.Size())
}

func TestRemoveThenReinsert(t *testing.T) {
	c := New[string](4)
	_, inserted := c.CacheIfAbsent("a")
	require.True(t, inserted)

	c.Remove("a")
	assert.Equal(t, 0, c.Size())

	_, inserted = c.CacheIfAbsent("a")
	assert.True(t, inserted, "removed key must be treated as new again")
}

func TestRemoveUnknownKeyIsNoop(t *testing.T) {
	c := New[string](4)
	c.Remove("never-inserted")
	assert.Equal(t, 0, c.Size())
}

func TestCapacityReported(t *testing.T) {
	c := New[string](7)
	assert.Equal(t, 7, c.Capacity())
}

func TestConcurrentCacheIfAbsentExactlyOneWinner(t *testing.T) {
	c := New[string](16)
	const n = 64
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, inserted := c.CacheIfAbsent("contested")
			wins[i] = inserted
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one caller must observe a newly-inserted result")
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c := New[int](2)
	for i := 0; i < 10; i++ {
		c.CacheIfAbsent(i)
	}
	assert.LessOrEqual(t, c.Size(), 2)
}
