// Package blockio implements positional read/write/truncate over a
// file's block sequence, and the dirty-block flush path, grounded on
// pkg/filestore/blockstore.go's ReadAt/WriteAt/computePartMap/
// partIdxAtOffset/flushToDB, generalised from a fixed ZoneDataPartSize
// to a per-file configurable block-size.
package blockio

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/blockcache"
	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/metadata"
)

// MinBlockSize and MaxBlockSize bound the commonly useful 8 KiB - 1 MiB
// range; DefaultBlockSize is the engine-level configuration constant
// attach() falls back to for a freshly created file.
const (
	MinBlockSize     = 8 * 1024
	MaxBlockSize     = 1024 * 1024
	DefaultBlockSize = 64 * 1024

	// bulkOverheadBytes is the per-entity overhead charged against the
	// 1,024,000-byte bulk budget.
	bulkOverheadBytes = 2048
	bulkByteBudget    = 1_024_000
)

func ValidateBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize {
		return dsfault.Newf(dsfault.UnsupportedOption, "block-size %d outside permitted range [%d, %d]", size, MinBlockSize, MaxBlockSize)
	}
	return nil
}

// MaxBlocksPerBulkOperation returns how many blocks of the given size
// fit in one bulk put/get within the byte budget.
func MaxBlocksPerBulkOperation(blockSize int) int {
	n := bulkByteBudget / (blockSize + bulkOverheadBytes)
	if n < 1 {
		n = 1
	}
	return n
}

func blockIndexAt(offset int64, blockSize int) int {
	return int(offset / int64(blockSize))
}

func intraBlockOffsetAt(offset int64, blockSize int) int {
	return int(offset % int64(blockSize))
}

// IO coordinates a single file's block traffic against the shared
// BlockCache and DatastoreClient; FileNode owns one IO per attached
// file.
type IO struct {
	client  *datastore.CachedClient
	cache   *blockcache.Cache
	meta    *metadata.Entity
	fileKey datastore.Key
}

func New(client *datastore.CachedClient, cache *blockcache.Cache, meta *metadata.Entity) *IO {
	return &IO{client: client, cache: cache, meta: meta, fileKey: datastore.NewNodeKey(meta.Path)}
}

func (io_ *IO) blockKey(idx int) datastore.Key {
	return datastore.NewBlockKey(io_.fileKey, idx)
}

// ensureBlockSlot extends meta.BlockKeys (zero-padding any intermediate
// gap) up to and including blockIdx.
func (io_ *IO) ensureBlockSlot(blockIdx int) {
	for len(io_.meta.BlockKeys) <= blockIdx {
		n := len(io_.meta.BlockKeys)
		io_.meta.BlockKeys = append(io_.meta.BlockKeys, io_.blockKey(n).Name)
	}
}

// getOrFetchBlock obtains a block via the cache, falling back to a
// forward-window bulk fetch from the datastore on miss.
func (io_ *IO) getOrFetchBlock(ctx context.Context, idx int) (*datastore.Entity, error) {
	key := io_.blockKey(idx)
	if e, ok := io_.cache.Get(key); ok {
		return e, nil
	}
	windowSize := MaxBlocksPerBulkOperation(io_.meta.BlockSize)
	var keys []datastore.Key
	for i := idx; i < idx+windowSize && i < len(io_.meta.BlockKeys); i++ {
		keys = append(keys, io_.blockKey(i))
	}
	fetched, err := io_.client.GetMulti(ctx, keys)
	if err != nil {
		return nil, dsfault.Wrap(dsfault.Io, err, "bulk fetch blocks")
	}
	for _, k := range keys {
		if e, ok := fetched[k.String()]; ok {
			io_.cache.Put(k, e)
		}
	}
	e, ok := io_.cache.Get(key)
	if !ok {
		// a hole in block-keys (never written, e.g. after a crash mid-write)
		// reads as zeros up to block-size.
		e = datastore.NewEntity(key)
		e.Properties["data"] = make([]byte, 0, io_.meta.BlockSize)
		io_.cache.Put(key, e)
	}
	return e, nil
}

func (io_ *IO) getOrCreateBlockForWrite(idx int) *datastore.Entity {
	key := io_.blockKey(idx)
	if e, ok := io_.cache.Get(key); ok {
		return e
	}
	e := datastore.NewEntity(key)
	e.Properties["data"] = make([]byte, 0, io_.meta.BlockSize)
	io_.cache.Put(key, e)
	return e
}

// ReadAt reads into p starting at offset, clamped to content-size.
func (io_ *IO) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, dsfault.New(dsfault.InvalidPath, "negative offset")
	}
	avail := io_.meta.ContentSize - offset
	if avail <= 0 {
		return 0, nil
	}
	n := int64(len(p))
	if n > avail {
		n = avail
	}
	var written int64
	for written < n {
		curOffset := offset + written
		idx := blockIndexAt(curOffset, io_.meta.BlockSize)
		intra := intraBlockOffsetAt(curOffset, io_.meta.BlockSize)
		block, err := io_.getOrFetchBlock(ctx, idx)
		if err != nil {
			return int(written), err
		}
		data := block.GetBytes("data")
		avail := len(data) - intra
		if avail < 0 {
			avail = 0
		}
		spanInBlock := int64(io_.meta.BlockSize - intra)
		if rem := n - written; spanInBlock > rem {
			spanInBlock = rem
		}
		toCopy := int64(avail)
		if toCopy > spanInBlock {
			toCopy = spanInBlock
		}
		if toCopy > 0 {
			copy(p[written:written+toCopy], data[intra:intra+int(toCopy)])
		}
		// bytes beyond what was actually written into this block but
		// still within content-size are an implicit zero-padded gap:
		// writes past content-size zero-pad the blocks they skip.
		if zeroLen := spanInBlock - toCopy; zeroLen > 0 {
			clear(p[written+toCopy : written+toCopy+zeroLen])
		}
		written += spanInBlock
	}
	return int(written), nil
}

// WriteAt writes p at offset, creating/extending blocks as needed and
// marking them dirty.
func (io_ *IO) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, dsfault.New(dsfault.InvalidPath, "negative offset")
	}
	var written int64
	n := int64(len(p))
	for written < n {
		curOffset := offset + written
		idx := blockIndexAt(curOffset, io_.meta.BlockSize)
		intra := intraBlockOffsetAt(curOffset, io_.meta.BlockSize)
		io_.ensureBlockSlot(idx)
		block := io_.getOrCreateBlockForWrite(idx)
		data := block.GetBytes("data")
		toCopy := int64(io_.meta.BlockSize - intra)
		if rem := n - written; toCopy > rem {
			toCopy = rem
		}
		needed := intra + int(toCopy)
		if needed > cap(data) {
			grown := make([]byte, needed, io_.meta.BlockSize)
			copy(grown, data)
			data = grown
		} else if needed > len(data) {
			data = data[:needed]
		}
		copy(data[intra:intra+int(toCopy)], p[written:written+toCopy])
		block.Properties["data"] = data
		io_.cache.Put(block.Key, block)
		io_.cache.MarkDirty(block.Key, true)
		written += toCopy
	}
	if offset+n > io_.meta.ContentSize {
		io_.meta.ContentSize = offset + n
	}
	io_.meta.Dirty = true
	return int(written), nil
}

// Truncate shrinks the file to length, dropping trailing blocks and
// zero-trimming the new last block as needed. Truncating to a length at
// or beyond the current content-size is a no-op; growing a file's
// content-size happens only through WriteAt's implicit zero-padding.
func (io_ *IO) Truncate(ctx context.Context, length int64) error {
	if length >= io_.meta.ContentSize {
		return nil
	}
	blockSize := int64(io_.meta.BlockSize)
	keepBlocks := int((length + blockSize - 1) / blockSize)
	if length == 0 {
		keepBlocks = 0
	}
	if keepBlocks < len(io_.meta.BlockKeys) {
		var toDelete []datastore.Key
		for i := keepBlocks; i < len(io_.meta.BlockKeys); i++ {
			toDelete = append(toDelete, io_.blockKey(i))
		}
		for _, batch := range datastore.SplitForDelete(toDelete) {
			if err := io_.client.DeleteMulti(ctx, batch); err != nil {
				return dsfault.Wrap(dsfault.Io, err, "truncate delete blocks")
			}
		}
		io_.cache.EvictAll(toDelete)
		io_.meta.BlockKeys = io_.meta.BlockKeys[:keepBlocks]
	}
	if keepBlocks > 0 && length%blockSize != 0 {
		// shrink the new last block's logical content to the truncation
		// point within it.
		lastIdx := keepBlocks - 1
		lastLen := int(length - int64(lastIdx)*blockSize)
		block, err := io_.getOrFetchBlock(ctx, lastIdx)
		if err != nil {
			return err
		}
		data := block.GetBytes("data")
		if len(data) > lastLen {
			block.Properties["data"] = data[:lastLen]
			io_.cache.Put(block.Key, block)
			io_.cache.MarkDirty(block.Key, true)
		}
	}
	io_.meta.ContentSize = length
	io_.meta.Dirty = true
	return nil
}

// Flush collects dirty blocks in key order, prepends metadata if dirty,
// batch-puts them, optionally write-through inside a transaction, and
// clears dirty flags only on success.
func (io_ *IO) Flush(ctx context.Context, writeThrough bool) error {
	dirtyKeys := io_.cache.DirtyKeysForParent(io_.fileKey)
	if len(dirtyKeys) == 0 && !io_.meta.Dirty {
		return nil
	}
	sortKeysByBlockName(dirtyKeys)

	var batch []*datastore.Entity
	io_.meta.FileType = metadata.TypeFile
	metaEntity := io_.meta.ToDatastoreEntity()
	batch = append(batch, metaEntity)
	blockEntities := make(map[string]*datastore.Entity, len(dirtyKeys))
	for _, k := range dirtyKeys {
		e, ok := io_.cache.Get(k)
		if !ok {
			continue
		}
		blockEntities[k.String()] = e
		batch = append(batch, e)
	}

	var tx datastore.Tx
	var err error
	if writeThrough {
		tx, err = io_.client.BeginTx(ctx)
		if err != nil {
			return dsfault.Wrap(dsfault.Io, err, "begin flush transaction")
		}
	}

	maxPerBatch := MaxBlocksPerBulkOperation(io_.meta.BlockSize)
	var flushErr error
	var succeeded []datastore.Key
	for _, slice := range chunkEntities(batch, maxPerBatch) {
		if tx != nil {
			flushErr = tx.PutMulti(slice)
		} else {
			flushErr = io_.client.PutMulti(ctx, slice)
		}
		if flushErr != nil {
			break
		}
		for _, e := range slice {
			if e.Key.IsBlockKey() {
				succeeded = append(succeeded, e.Key)
			}
		}
	}

	if flushErr != nil {
		if tx != nil {
			tx.Rollback()
		}
		// already-put blocks remain clean; unwritten blocks keep their
		// dirty flag for the next flush to retry. A rolled-back
		// transaction committed nothing, so every block stays dirty.
		if tx == nil {
			io_.cache.EvictAll(succeeded)
			for _, k := range succeeded {
				io_.cache.MarkDirty(k, false)
			}
		}
		return dsfault.Wrap(dsfault.Io, flushErr, "flush")
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "commit flush transaction")
		}
	}

	for _, k := range dirtyKeys {
		io_.cache.MarkDirty(k, false)
	}
	io_.meta.Dirty = false
	return nil
}

// DeleteAllBlocks drops every block entity parented by this file, used
// when a file itself is deleted.
func (io_ *IO) DeleteAllBlocks(ctx context.Context) error {
	if err := io_.client.DeleteByParent(ctx, io_.fileKey); err != nil {
		return dsfault.Wrap(dsfault.Io, err, "delete blocks")
	}
	var keys []datastore.Key
	for i := range io_.meta.BlockKeys {
		keys = append(keys, io_.blockKey(i))
	}
	io_.cache.EvictAll(keys)
	io_.meta.BlockKeys = nil
	return nil
}

func chunkEntities(entities []*datastore.Entity, size int) [][]*datastore.Entity {
	if size <= 0 {
		size = 1
	}
	var rtn [][]*datastore.Entity
	for len(entities) > 0 {
		n := size
		if n > len(entities) {
			n = len(entities)
		}
		rtn = append(rtn, entities[:n])
		entities = entities[n:]
	}
	return rtn
}

func sortKeysByBlockName(keys []datastore.Key) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].Name < keys[j-1].Name; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
