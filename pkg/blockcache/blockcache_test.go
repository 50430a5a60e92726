// Copyright 2025, Command Line Inc.
// SPDX-License-Identifier: Apache-2.0

package blockcache

import (
	"testing"

	"github.com/brevitylabs/dsvfs/pkg/datastore"
)

func TestGetPut(t *testing.T) {
	c := New(4)
	key := datastore.NewBlockKey(datastore.NewNodeKey("/f"), 0)
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss on empty cache")
	}
	entity := datastore.NewEntity(key)
	c.Put(key, entity)
	got, ok := c.Get(key)
	if !ok || got != entity {
		t.Fatalf("Get after Put = %v, %v", got, ok)
	}
}

func TestDirtyBlockNeverEvictedByLRU(t *testing.T) {
	c := New(2)
	fileKey := datastore.NewNodeKey("/f")
	k0 := datastore.NewBlockKey(fileKey, 0)
	k1 := datastore.NewBlockKey(fileKey, 1)
	k2 := datastore.NewBlockKey(fileKey, 2)

	c.Put(k0, datastore.NewEntity(k0))
	c.MarkDirty(k0, true)

	c.Put(k1, datastore.NewEntity(k1))
	c.Put(k2, datastore.NewEntity(k2)) // capacity 2: would evict k0 if it were clean-tier only

	if _, ok := c.Get(k0); !ok {
		t.Fatalf("expected dirty block k0 to survive clean-tier churn")
	}
}

func TestMarkDirtyRoundTrip(t *testing.T) {
	c := New(4)
	key := datastore.NewBlockKey(datastore.NewNodeKey("/f"), 0)
	c.Put(key, datastore.NewEntity(key))
	c.MarkDirty(key, true)
	if !c.IsDirty(key) {
		t.Fatalf("expected key to be dirty")
	}
	c.MarkDirty(key, false)
	if c.IsDirty(key) {
		t.Fatalf("expected key to be clean after un-marking")
	}
	if _, ok := c.Get(key); !ok {
		t.Fatalf("expected key to remain retrievable after demotion to clean tier")
	}
}

func TestEvictAll(t *testing.T) {
	c := New(4)
	fileKey := datastore.NewNodeKey("/f")
	k0 := datastore.NewBlockKey(fileKey, 0)
	k1 := datastore.NewBlockKey(fileKey, 1)
	c.Put(k0, datastore.NewEntity(k0))
	c.Put(k1, datastore.NewEntity(k1))
	c.MarkDirty(k1, true)

	c.EvictAll([]datastore.Key{k0, k1})
	if _, ok := c.Get(k0); ok {
		t.Errorf("expected k0 evicted")
	}
	if _, ok := c.Get(k1); ok {
		t.Errorf("expected dirty k1 evicted too")
	}
}

func TestDirtyKeysForParent(t *testing.T) {
	c := New(4)
	fileKey := datastore.NewNodeKey("/f")
	otherKey := datastore.NewNodeKey("/g")
	k0 := datastore.NewBlockKey(fileKey, 0)
	k1 := datastore.NewBlockKey(fileKey, 1)
	k2 := datastore.NewBlockKey(otherKey, 0)
	c.Put(k0, datastore.NewEntity(k0))
	c.Put(k1, datastore.NewEntity(k1))
	c.Put(k2, datastore.NewEntity(k2))
	c.MarkDirty(k0, true)
	c.MarkDirty(k1, true)
	c.MarkDirty(k2, true)

	dirty := c.DirtyKeysForParent(fileKey)
	if len(dirty) != 2 {
		t.Fatalf("expected 2 dirty keys for fileKey, got %d", len(dirty))
	}
}
