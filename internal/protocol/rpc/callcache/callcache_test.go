package callcache

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientA = net.IPv4(10, 0, 0, 1)
	clientB = net.IPv4(10, 0, 0, 2)
)

func TestCache(t *testing.T) {
	t.Run("FirstSightInsertsInProgress", func(t *testing.T) {
		c := New(4, nil)

		_, found := c.CheckOrAdd(clientA, 1)
		assert.False(t, found)

		e, found := c.CheckOrAdd(clientA, 1)
		require.True(t, found)
		assert.Equal(t, InProgress, e.State)
		assert.Nil(t, e.Reply)
	})

	t.Run("CompletedReplayedVerbatim", func(t *testing.T) {
		c := New(4, nil)
		reply := []byte{1, 2, 3, 4, 5}

		c.CheckOrAdd(clientA, 7)
		c.Completed(clientA, 7, reply)
		reply[0] = 0xff

		e, found := c.CheckOrAdd(clientA, 7)
		require.True(t, found)
		assert.Equal(t, Completed, e.State)
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, e.Reply, "cache must own its copy")
	})

	t.Run("KeyIncludesClient", func(t *testing.T) {
		c := New(4, nil)
		c.CheckOrAdd(clientA, 9)

		_, found := c.CheckOrAdd(clientB, 9)
		assert.False(t, found)
	})

	t.Run("EvictsLeastRecentlyInserted", func(t *testing.T) {
		c := New(3, nil)
		for xid := uint32(1); xid <= 3; xid++ {
			c.CheckOrAdd(clientA, xid)
		}
		// A lookup of xid 1 does not refresh its position.
		_, found := c.CheckOrAdd(clientA, 1)
		require.True(t, found)

		c.CheckOrAdd(clientA, 4)
		assert.Equal(t, 3, c.Len())

		_, found = c.CheckOrAdd(clientA, 1)
		assert.False(t, found, "oldest insertion evicted")
	})

	t.Run("RemoveForgetsEntry", func(t *testing.T) {
		c := New(4, nil)
		c.CheckOrAdd(clientA, 1)
		c.CheckOrAdd(clientA, 2)

		c.Remove(clientA, 1)
		c.Remove(clientA, 99)
		assert.Equal(t, 1, c.Len())

		_, found := c.CheckOrAdd(clientA, 1)
		assert.False(t, found, "a removed call runs again")
	})

	t.Run("CompletedAfterEvictionReinserts", func(t *testing.T) {
		c := New(1, nil)
		c.CheckOrAdd(clientA, 1)
		c.CheckOrAdd(clientA, 2)
		c.Completed(clientA, 1, []byte{9})

		e, found := c.CheckOrAdd(clientA, 1)
		require.True(t, found)
		assert.Equal(t, []byte{9}, e.Reply)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("DefaultCapacity", func(t *testing.T) {
		c := New(0, nil)
		for xid := uint32(0); xid < DefaultCapacity+10; xid++ {
			c.CheckOrAdd(clientA, xid)
		}
		assert.Equal(t, DefaultCapacity, c.Len())
	})

	t.Run("ConcurrentFirstSightExecutesOnce", func(t *testing.T) {
		c := New(16, nil)
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, found := c.CheckOrAdd(clientA, 100); !found {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})
}

type countingObserver struct {
	hits, misses, evictions int
	size                    int
}

func (o *countingObserver) Hit(State)  { o.hits++ }
func (o *countingObserver) Miss()      { o.misses++ }
func (o *countingObserver) Evicted()   { o.evictions++ }
func (o *countingObserver) Size(n int) { o.size = n }

func TestObserver(t *testing.T) {
	o := &countingObserver{}
	c := New(1, o)

	c.CheckOrAdd(clientA, 1)
	c.CheckOrAdd(clientA, 1)
	c.CheckOrAdd(clientA, 2)

	assert.Equal(t, 1, o.hits)
	assert.Equal(t, 2, o.misses)
	assert.Equal(t, 1, o.evictions)
	assert.Equal(t, 1, o.size)
}
