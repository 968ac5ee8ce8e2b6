package trackerstore

import (
	"hash/fnv"
	"sync"

	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

const shardCount = 32

// Entry is one cached session: its last known snapshot and how far that
// snapshot is known to agree with the remote store.
type Entry struct {
	Snapshot tracker.Snapshot
	Meta     tracker.SyncMetadata
}

func (e Entry) clone() Entry {
	return Entry{Snapshot: e.Snapshot.Clone(), Meta: e.Meta}
}

// Cache is a sharded, concurrency-safe map from session id to Entry.
// Entries are copied on the way in and out.
type Cache struct {
	shards [shardCount]cacheShard
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]Entry)
	}
	return c
}

func (c *Cache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

func (c *Cache) Get(key string) (Entry, bool) {
	sh := c.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

func (c *Cache) Put(key string, e Entry) {
	e = e.clone()
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[key] = e
}

func (c *Cache) Delete(key string) {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// EvictIf removes key when pred reports true for its current entry.
func (c *Cache) EvictIf(key string, pred func(Entry) bool) bool {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok || !pred(e) {
		return false
	}
	delete(sh.entries, key)
	return true
}

// Keys returns a point-in-time copy of the cached session ids.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.Len())
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for k := range sh.entries {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}

func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
