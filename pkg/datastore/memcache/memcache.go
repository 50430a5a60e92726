// Package memcache implements the ancillary TTL-expiring cache layer
// DatastoreClient reads through. It is a thin wrapper over
// pkg/util/ds.ExpMap, specialised to a fixed per-cache TTL and carrying
// an explicit Invalidate/InvalidatePrefix so deletes can never be
// masked by a stale hit.
package memcache

import (
	"time"

	"github.com/brevitylabs/dsvfs/pkg/util/ds"
)

const DefaultTTL = 30 * time.Second

// Cache is a generic read-through, TTL-expiring cache. DatastoreClient
// instantiates Cache[*datastore.Entity] keyed by Key.String().
type Cache[T any] struct {
	em  *ds.ExpMap[T]
	ttl time.Duration
}

func New[T any](ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[T]{em: ds.MakeExpMap[T](), ttl: ttl}
}

// Get returns the cached value and whether it was present and unexpired.
func (c *Cache[T]) Get(key string) (T, bool) {
	return c.em.Get(key)
}

// Set populates or refreshes a key's entry with a fresh TTL window.
func (c *Cache[T]) Set(key string, val T) {
	c.em.Set(key, val, time.Now().Add(c.ttl))
}

// Invalidate removes a key unconditionally. Called before every put and
// delete so a reader can never observe a stale hit past a write, and a
// deleted key's NotFound is never masked by a stale cache entry.
func (c *Cache[T]) Invalidate(key string) {
	c.em.Delete(key)
}

// InvalidatePrefix drops every key sharing the given prefix, used when a
// file's blocks are bulk-deleted (block keys share the owning file's key
// as a string prefix by construction).
func (c *Cache[T]) InvalidatePrefix(prefix string) {
	c.em.DeletePrefix(prefix)
}
