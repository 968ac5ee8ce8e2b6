package trackerstore

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetReturnsCopy(t *testing.T) {
	c := NewCache()
	e := Entry{Snapshot: snapshotOf("s1", ev(t, "user", 1))}
	c.Put("s1", e)

	// Mutating the caller's copy after Put must not leak in.
	e.Snapshot.Events[0].Kind = "changed"

	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "user", got.Snapshot.Events[0].Kind)

	got.Snapshot.Events[0].Kind = "changed"
	again, _ := c.Get("s1")
	assert.Equal(t, "user", again.Snapshot.Events[0].Kind)
}

func TestCache_KeysAndEvict(t *testing.T) {
	c := NewCache()
	for i := 0; i < 50; i++ {
		c.Put(fmt.Sprintf("s%d", i), Entry{Snapshot: tracker.Snapshot{LatestEventTime: float64(i)}})
	}
	assert.Equal(t, 50, c.Len())

	keys := c.Keys()
	sort.Strings(keys)
	assert.Len(t, keys, 50)
	assert.Equal(t, "s0", keys[0])

	assert.False(t, c.EvictIf("s10", func(e Entry) bool { return e.Snapshot.LatestEventTime < 5 }))
	assert.True(t, c.EvictIf("s3", func(e Entry) bool { return e.Snapshot.LatestEventTime < 5 }))
	assert.False(t, c.EvictIf("missing", func(Entry) bool { return true }))

	c.Delete("s4")
	assert.Equal(t, 48, c.Len())
}

func TestSessionLocks_ReleasedAfterUse(t *testing.T) {
	locks := newSessionLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("s1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Equal(t, 0, locks.size())

	unlock, ok := locks.TryLock("s1")
	require.True(t, ok)
	_, ok = locks.TryLock("s1")
	assert.False(t, ok)
	unlock()
	assert.Equal(t, 0, locks.size())
}
