package datastore

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/datastore/memcache"
)

// CachedClient wraps a backend Client with a transparent read-through
// memcache. Every exported FileNode / BlockIO operation talks to a
// CachedClient, never to a bare backend.
type CachedClient struct {
	backend Client
	mc      *memcache.Cache[*Entity]
}

func NewCachedClient(backend Client, mc *memcache.Cache[*Entity]) *CachedClient {
	if mc == nil {
		mc = memcache.New[*Entity](memcache.DefaultTTL)
	}
	return &CachedClient{backend: backend, mc: mc}
}

func (c *CachedClient) Get(ctx context.Context, key Key) (*Entity, error) {
	if cached, ok := c.mc.Get(key.String()); ok {
		if cached == nil {
			return nil, NotFound(key)
		}
		return cached.Clone(), nil
	}
	ent, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.mc.Set(key.String(), ent)
	return ent.Clone(), nil
}

func (c *CachedClient) GetMulti(ctx context.Context, keys []Key) (map[string]*Entity, error) {
	rtn := make(map[string]*Entity, len(keys))
	var miss []Key
	for _, k := range keys {
		if cached, ok := c.mc.Get(k.String()); ok {
			if cached != nil {
				rtn[k.String()] = cached.Clone()
			}
			continue
		}
		miss = append(miss, k)
	}
	if len(miss) == 0 {
		return rtn, nil
	}
	fetched, err := c.backend.GetMulti(ctx, miss)
	if err != nil {
		return nil, err
	}
	for _, k := range miss {
		if ent, ok := fetched[k.String()]; ok {
			c.mc.Set(k.String(), ent)
			rtn[k.String()] = ent.Clone()
		}
	}
	return rtn, nil
}

func (c *CachedClient) Put(ctx context.Context, entity *Entity) error {
	c.mc.Invalidate(entity.Key.String())
	if err := c.backend.Put(ctx, entity); err != nil {
		return err
	}
	c.mc.Set(entity.Key.String(), entity.Clone())
	return nil
}

func (c *CachedClient) PutMulti(ctx context.Context, entities []*Entity) error {
	for _, e := range entities {
		c.mc.Invalidate(e.Key.String())
	}
	if err := c.backend.PutMulti(ctx, entities); err != nil {
		return err
	}
	for _, e := range entities {
		c.mc.Set(e.Key.String(), e.Clone())
	}
	return nil
}

func (c *CachedClient) Delete(ctx context.Context, key Key) error {
	c.mc.Invalidate(key.String())
	if err := c.backend.Delete(ctx, key); err != nil {
		return err
	}
	c.mc.Set(key.String(), nil)
	return nil
}

func (c *CachedClient) DeleteMulti(ctx context.Context, keys []Key) error {
	for _, k := range keys {
		c.mc.Invalidate(k.String())
	}
	if err := c.backend.DeleteMulti(ctx, keys); err != nil {
		return err
	}
	for _, k := range keys {
		c.mc.Set(k.String(), nil)
	}
	return nil
}

func (c *CachedClient) DeleteByParent(ctx context.Context, parent Key) error {
	c.mc.InvalidatePrefix(parent.String())
	return c.backend.DeleteByParent(ctx, parent)
}

func (c *CachedClient) BeginTx(ctx context.Context) (Tx, error) {
	backendTx, err := c.backend.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{backendTx: backendTx, mc: c.mc}, nil
}

// cachedTx defers memcache writes until commit succeeds -- a rolled-back
// transaction must leave the cache exactly as it was, since a failed
// write must not corrupt observable state.
type cachedTx struct {
	backendTx Tx
	mc        *memcache.Cache[*Entity]
	puts      []*Entity
	deletes   []Key
}

func (t *cachedTx) Put(entity *Entity) error {
	t.puts = append(t.puts, entity)
	return t.backendTx.Put(entity)
}

func (t *cachedTx) PutMulti(entities []*Entity) error {
	t.puts = append(t.puts, entities...)
	return t.backendTx.PutMulti(entities)
}

func (t *cachedTx) Delete(key Key) error {
	t.deletes = append(t.deletes, key)
	return t.backendTx.Delete(key)
}

func (t *cachedTx) DeleteMulti(keys []Key) error {
	t.deletes = append(t.deletes, keys...)
	return t.backendTx.DeleteMulti(keys)
}

func (t *cachedTx) Commit() error {
	for _, e := range t.puts {
		t.mc.Invalidate(e.Key.String())
	}
	for _, k := range t.deletes {
		t.mc.Invalidate(k.String())
	}
	if err := t.backendTx.Commit(); err != nil {
		return err
	}
	for _, e := range t.puts {
		t.mc.Set(e.Key.String(), e.Clone())
	}
	for _, k := range t.deletes {
		t.mc.Set(k.String(), nil)
	}
	return nil
}

func (t *cachedTx) Rollback() error {
	return t.backendTx.Rollback()
}
