// Package blockcache implements the process-wide map from block key to
// in-memory block entity, grounded on the CacheEntry/DataCacheEntry map
// in pkg/filestore/blockstore_cache.go, generalised from a two-level
// (zone, name) key to the engine's flat datastore.Key and given a
// bounded, evictable clean tier.
package blockcache

import (
	"sync"

	"github.com/brevitylabs/dsvfs/pkg/datastore"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCleanCapacity = 4096

// Cache is a process-wide Key->block-entity map with a per-block dirty
// flag. Clean blocks live in a bounded LRU so memory stays proportional
// to the working set; dirty blocks are held outside the LRU entirely so
// a block being written is never evicted while unflushed.
type Cache struct {
	mu    sync.Mutex
	clean *lru.Cache[string, *datastore.Entity]
	dirty map[string]*datastore.Entity
}

func New(cleanCapacity int) *Cache {
	if cleanCapacity <= 0 {
		cleanCapacity = DefaultCleanCapacity
	}
	clean, err := lru.New[string, *datastore.Entity](cleanCapacity)
	if err != nil {
		// only returns an error for a non-positive size, which we just guarded.
		panic(err)
	}
	return &Cache{clean: clean, dirty: make(map[string]*datastore.Entity)}
}

// Get returns the cached block entity and whether it was present, dirty
// entries taking priority over a stale clean copy of the same key.
func (c *Cache) Get(key datastore.Key) (*datastore.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keyStr := key.String()
	if e, ok := c.dirty[keyStr]; ok {
		return e, true
	}
	return c.clean.Get(keyStr)
}

// Put inserts or replaces a block entity. A block already marked dirty
// stays dirty and is updated in place; otherwise the block lands in the
// bounded clean tier.
func (c *Cache) Put(key datastore.Key, entity *datastore.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keyStr := key.String()
	if _, ok := c.dirty[keyStr]; ok {
		c.dirty[keyStr] = entity
		return
	}
	c.clean.Add(keyStr, entity)
}

// MarkDirty moves a block between the pinned dirty map and the bounded
// clean tier. The entity must already be present (via Get/Put) when
// marking dirty; marking a block clean after a successful flush demotes
// it back into the evictable LRU.
func (c *Cache) MarkDirty(key datastore.Key, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keyStr := key.String()
	if dirty {
		if e, ok := c.clean.Get(keyStr); ok {
			c.dirty[keyStr] = e
			c.clean.Remove(keyStr)
			return
		}
		if _, ok := c.dirty[keyStr]; !ok {
			// nothing cached yet for this key; caller is expected to Put first.
			return
		}
		return
	}
	if e, ok := c.dirty[keyStr]; ok {
		c.clean.Add(keyStr, e)
		delete(c.dirty, keyStr)
	}
}

// IsDirty reports whether a key is currently in the pinned tier.
func (c *Cache) IsDirty(key datastore.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[key.String()]
	return ok
}

// EvictAll unconditionally drops the given keys from both tiers, used
// after a successful flush (dirty flags already cleared by the caller)
// or when a stream closes, bounding how much of a file's data lingers
// in memory once nothing has it open.
func (c *Cache) EvictAll(keys []datastore.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		keyStr := k.String()
		delete(c.dirty, keyStr)
		c.clean.Remove(keyStr)
	}
}

// DirtyKeysForParent returns the keys currently pinned dirty under the
// given parent file key, in no particular order (BlockIO's flush sorts
// them itself): this is a linear scan, acceptable at the per-file flush
// granularity the engine operates at.
func (c *Cache) DirtyKeysForParent(parent datastore.Key) []datastore.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	parentStr := parent.String()
	var rtn []datastore.Key
	for _, e := range c.dirty {
		if e.Key.Parent != nil && e.Key.Parent.String() == parentStr {
			rtn = append(rtn, e.Key)
		}
	}
	return rtn
}
