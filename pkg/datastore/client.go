package datastore

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/dsfault"
)

// Platform bulk limits the engine's batching must respect.
const (
	MaxBulkPutBytes  = 1 << 20 // 1 MiB
	MaxBulkPutCount  = 500
	MaxBulkGetCount  = 1000
)

// Client is the backend-facing surface: a single-entity atomic
// get/put/delete plus bulk variants and an optional transaction, the
// primitive set a platform datastore actually offers.
type Client interface {
	Get(ctx context.Context, key Key) (*Entity, error)
	GetMulti(ctx context.Context, keys []Key) (map[string]*Entity, error)
	Put(ctx context.Context, entity *Entity) error
	PutMulti(ctx context.Context, entities []*Entity) error
	Delete(ctx context.Context, key Key) error
	DeleteMulti(ctx context.Context, keys []Key) error
	BeginTx(ctx context.Context) (Tx, error)
	// DeleteByParent removes every entity parented by the given key (used
	// by file deletion to drop all blocks without enumerating them first).
	DeleteByParent(ctx context.Context, parent Key) error
}

// Tx is the write-through flush path's transaction handle, opened when
// a flush wants to stage its batched puts atomically.
type Tx interface {
	Put(entity *Entity) error
	PutMulti(entities []*Entity) error
	Delete(key Key) error
	DeleteMulti(keys []Key) error
	Commit() error
	Rollback() error
}

// SizeHint estimates an entity's on-the-wire size for bulk-batch sizing.
// Block entities dominate (their data property); metadata entities are
// small and charged a flat estimate.
func SizeHint(e *Entity) int {
	if data := e.GetBytes("data"); data != nil {
		return len(data) + 256
	}
	return 512
}

// SplitForPut partitions entities into batches that respect both
// MaxBulkPutCount and MaxBulkPutBytes, using sizeHint per entity. A
// single entity larger than the byte limit still gets its own batch
// (a block at the maximum block size, 1 MiB, is such an entity once
// SizeHint's 256-byte overhead is added).
func SplitForPut(entities []*Entity, sizeHint func(*Entity) int) [][]*Entity {
	if len(entities) == 0 {
		return nil
	}
	var batches [][]*Entity
	var cur []*Entity
	var curBytes int
	for _, e := range entities {
		sz := sizeHint(e)
		if len(cur) > 0 && (len(cur) >= MaxBulkPutCount || curBytes+sz > MaxBulkPutBytes) {
			batches = append(batches, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, e)
		curBytes += sz
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// SplitForGet partitions keys into batches of at most MaxBulkGetCount.
func SplitForGet(keys []Key) [][]Key {
	if len(keys) == 0 {
		return nil
	}
	var batches [][]Key
	for len(keys) > 0 {
		n := MaxBulkGetCount
		if n > len(keys) {
			n = len(keys)
		}
		batches = append(batches, keys[:n])
		keys = keys[n:]
	}
	return batches
}

// SplitForDelete reuses the put-count limit; the platform datastore's
// bulk-delete ceiling mirrors bulk-put in every implementation we target.
func SplitForDelete(keys []Key) [][]Key {
	if len(keys) == 0 {
		return nil
	}
	var batches [][]Key
	for len(keys) > 0 {
		n := MaxBulkPutCount
		if n > len(keys) {
			n = len(keys)
		}
		batches = append(batches, keys[:n])
		keys = keys[n:]
	}
	return batches
}

// NotFound builds the canonical NoSuchFile error a Get should return for
// an absent key, so backends share identical error text.
func NotFound(key Key) error {
	return dsfault.Newf(dsfault.NoSuchFile, "no entity for key %s", key.String())
}
