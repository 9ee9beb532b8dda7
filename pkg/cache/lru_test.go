package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLRU(maxSize int, ttl time.Duration) (*LRU[string, int], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewLRU[string, int](maxSize, ttl)
	c.now = clock.now
	return c, clock
}

func TestLRUSetAndGet(t *testing.T) {
	c, _ := newTestLRU(10, time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUExpiry(t *testing.T) {
	c, clock := newTestLRU(10, time.Minute)
	c.Set("a", 1)
	clock.advance(2 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entries are removed on Get")
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, clock := newTestLRU(2, time.Hour)
	c.Set("a", 1)
	clock.advance(time.Second)
	c.Set("b", 2)
	clock.advance(time.Second)

	_, ok := c.Get("a")
	require.True(t, ok)
	clock.advance(time.Second)

	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUSetUpdatesExistingWithoutEviction(t *testing.T) {
	c, _ := newTestLRU(2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.Equal(t, 2, c.Size())
	got, _ := c.Get("a")
	assert.Equal(t, 10, got)
}

func TestLRUInvalidate(t *testing.T) {
	c, _ := newTestLRU(10, time.Hour)
	c.Set("p1/a", 1)
	c.Set("p1/b", 2)
	c.Set("p2/a", 3)

	c.Invalidate("p2/a")
	assert.Equal(t, 2, c.Size())

	n := c.InvalidateFunc(func(k string) bool { return k[:2] == "p1" })
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.Size())

	c.Set("x", 1)
	c.InvalidateAll()
	assert.Equal(t, 0, c.Size())
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU[string, int](50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 50)
}
