package filenode

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/dsfault"
)

// OpenStream validates and applies the configurable open options and
// marks the node's open-stream flags: at most one output stream or one
// input stream is open at a time. It must be paired with Close.
func (n *Node) OpenStream(ctx context.Context, opts OpenOptions, blockSize int) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	if n.openForRead || n.openForWrite {
		n.mu.Unlock()
		return dsfault.Newf(dsfault.Io, "%s already has an open stream", n.path)
	}
	n.mu.Unlock()

	if err := n.EnsureCreated(ctx, opts, blockSize); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(ctx); err != nil {
		return err
	}
	if err := n.meta.RequireFile(); err != nil {
		return err
	}
	if opts.Read {
		n.openForRead = true
	}
	if opts.wantsWrite() {
		n.openForWrite = true
	}
	if opts.TruncateExisting {
		if err := n.block.Truncate(ctx, 0); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes any pending writes and releases the open-stream flags,
// evicting this file's blocks from the cache to bound long-term memory.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var flushErr error
	if n.openForWrite && n.block != nil {
		flushErr = n.block.Flush(ctx, true)
	}
	n.openForRead = false
	n.openForWrite = false
	if n.st == stateAttachedFile && n.meta != nil {
		fileKey := datastore.NewNodeKey(n.path)
		keys := make([]datastore.Key, len(n.meta.BlockKeys))
		for i := range n.meta.BlockKeys {
			keys[i] = datastore.NewBlockKey(fileKey, i)
		}
		n.engine.Cache.EvictAll(keys)
	}
	return flushErr
}

func (n *Node) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(ctx); err != nil {
		return 0, err
	}
	if err := n.meta.RequireFile(); err != nil {
		return 0, err
	}
	if !n.openForRead {
		return 0, dsfault.Newf(dsfault.AccessDenied, "%s is not open for reading", n.path)
	}
	return n.block.ReadAt(ctx, p, offset)
}

func (n *Node) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(ctx); err != nil {
		return 0, err
	}
	if err := n.meta.RequireFile(); err != nil {
		return 0, err
	}
	if !n.openForWrite {
		return 0, dsfault.Newf(dsfault.AccessDenied, "%s is not open for writing", n.path)
	}
	return n.block.WriteAt(ctx, p, offset)
}

// Append writes p at the file's current content-size, implementing the
// APPEND open option's positioning rule.
func (n *Node) Append(ctx context.Context, p []byte) (int, error) {
	n.mu.Lock()
	offset := int64(0)
	if n.meta != nil {
		offset = n.meta.ContentSize
	}
	n.mu.Unlock()
	return n.WriteAt(ctx, p, offset)
}

func (n *Node) Truncate(ctx context.Context, length int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(ctx); err != nil {
		return err
	}
	if err := n.meta.RequireFile(); err != nil {
		return err
	}
	if !n.openForWrite {
		return dsfault.Newf(dsfault.AccessDenied, "%s is not open for writing", n.path)
	}
	return n.block.Truncate(ctx, length)
}

func (n *Node) Flush(ctx context.Context, writeThrough bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.st != stateAttachedFile || n.block == nil {
		return nil
	}
	return n.block.Flush(ctx, writeThrough)
}

// Stat returns the basic or engine attribute view, attaching if
// necessary.
func (n *Node) Stat(ctx context.Context, view string) (map[string]any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(ctx); err != nil {
		return nil, err
	}
	if n.st == stateImaginary {
		return nil, dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", n.path)
	}
	return n.meta.ReadAttributes(view)
}

func (n *Node) Exists(ctx context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(ctx); err != nil {
		return false, err
	}
	return n.st != stateImaginary, nil
}
