package filenode

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/blockio"
	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/lockregistry"
	"github.com/brevitylabs/dsvfs/pkg/metadata"
	"github.com/brevitylabs/dsvfs/pkg/pathutil"
)

// Rename moves a node to destPath. Atomic rename is never supported
// (the datastore forbids key mutation), so a move is always a copy of
// metadata and block payloads to a freshly-keyed destination followed by
// deletion of the source.
func (n *Node) Rename(ctx context.Context, destPath string, opts MoveOptions) error {
	if opts.AtomicMove {
		return dsfault.New(dsfault.AtomicMoveNotSupported, "atomic move is not supported")
	}
	destNorm, err := pathutil.Normalize(destPath)
	if err != nil {
		return err
	}
	if pathutil.Equal(n.path, pathutil.Root) {
		return dsfault.New(dsfault.AccessDenied, "the root cannot be renamed")
	}
	if pathutil.Equal(destNorm, n.path) || pathutil.HasPrefix(destNorm, n.path+pathutil.Separator) {
		return dsfault.New(dsfault.InvalidPath, "destination is the source itself or a descendant of it")
	}
	srcParentPath, err := pathutil.Parent(n.path)
	if err != nil {
		return err
	}
	destParentPath, err := pathutil.Parent(destNorm)
	if err != nil {
		return err
	}

	return lockregistry.WithLocks(n.engine.Locks, []string{srcParentPath, destParentPath, n.path}, func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		if err := n.attachLocked(ctx); err != nil {
			return err
		}
		switch n.st {
		case stateImaginary, stateDeleted:
			return dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", n.path)
		case stateAttachedFolder:
			if len(n.meta.ChildKeys) > 0 {
				return dsfault.Newf(dsfault.DirectoryNotEmpty, "%s is not empty, caller must recurse", n.path)
			}
		}
		if n.openForRead || n.openForWrite {
			return dsfault.Newf(dsfault.AccessDenied, "%s has an open stream", n.path)
		}

		dest, err := n.engine.Open(destNorm)
		if err != nil {
			return err
		}
		if err := dest.attachLocked(ctx); err != nil {
			return err
		}
		if dest.st != stateImaginary {
			if !opts.ReplaceExisting {
				return dsfault.Newf(dsfault.AlreadyExists, "%s already exists", destNorm)
			}
			if err := deleteAttachedLocked(ctx, dest); err != nil {
				return err
			}
		}

		destParent, err := n.engine.Open(destParentPath)
		if err != nil {
			return err
		}
		if err := destParent.attachLocked(ctx); err != nil {
			return err
		}
		if destParent.st != stateAttachedFolder {
			return dsfault.Newf(dsfault.NotDirectory, "%s is not a folder", destParentPath)
		}

		srcParent, err := n.engine.Open(srcParentPath)
		if err != nil {
			return err
		}
		if err := srcParent.attachLocked(ctx); err != nil {
			return err
		}

		now := nowMillis()
		dest.meta = metadata.New(destNorm)
		dest.meta.FileType = n.meta.FileType
		dest.meta.LastModified = now

		if n.st == stateAttachedFile {
			dest.meta.BlockSize = n.meta.BlockSize
			dest.meta.ContentSize = n.meta.ContentSize
			dest.meta.BlockKeys = nil
			dest.block = blockio.New(n.engine.Client, n.engine.Cache, dest.meta)
			if err := copyBlocks(ctx, n, dest); err != nil {
				return err
			}
			if err := dest.block.Flush(ctx, true); err != nil {
				return err
			}
			dest.st = stateAttachedFile
		} else {
			if err := n.engine.Client.Put(ctx, dest.meta.ToDatastoreEntity()); err != nil {
				return dsfault.Wrap(dsfault.Io, err, "put renamed folder metadata")
			}
			dest.st = stateAttachedFolder
		}

		destParent.meta.AddChild(destNorm)
		destParent.meta.LastModified = now
		if err := n.engine.Client.Put(ctx, destParent.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "notify destination parent")
		}

		if n.st == stateAttachedFile && n.block != nil {
			if err := n.block.DeleteAllBlocks(ctx); err != nil {
				return err
			}
		}
		srcParent.meta.RemoveChild(n.path)
		srcParent.meta.LastModified = now
		if err := n.engine.Client.Put(ctx, srcParent.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "notify source parent")
		}
		if err := n.engine.Client.Delete(ctx, datastore.NewNodeKey(n.path)); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "delete source metadata")
		}

		n.st = stateDeleted
		n.meta = nil
		n.block = nil
		return nil
	})
}

// copyBlocks copies every source block's payload into a freshly-keyed
// block under dest and marks each dirty.
func copyBlocks(ctx context.Context, src *Node, dest *Node) error {
	numBlocks := len(src.meta.BlockKeys)
	for i := 0; i < numBlocks; i++ {
		srcKey := datastore.NewBlockKey(datastore.NewNodeKey(src.path), i)
		var data []byte
		if e, ok := src.engine.Cache.Get(srcKey); ok {
			data = e.GetBytes("data")
		} else {
			fetched, err := src.engine.Client.Get(ctx, srcKey)
			if err != nil && !dsfault.Is(err, dsfault.NoSuchFile) {
				return dsfault.Wrap(dsfault.Io, err, "read source block for copy")
			}
			if fetched != nil {
				data = fetched.GetBytes("data")
			}
		}
		destKey := datastore.NewBlockKey(datastore.NewNodeKey(dest.path), i)
		destEntity := datastore.NewEntity(destKey)
		copied := make([]byte, len(data))
		copy(copied, data)
		destEntity.Properties["data"] = copied
		dest.meta.BlockKeys = append(dest.meta.BlockKeys, destKey.Name)
		dest.engine.Cache.Put(destKey, destEntity)
		dest.engine.Cache.MarkDirty(destKey, true)
	}
	dest.meta.Dirty = true
	return nil
}

// deleteAttachedLocked removes an already-attached node's persisted
// state without the parent-notification half of Delete (the caller --
// Rename/Copy under REPLACE_EXISTING -- is about to overwrite the
// parent's child-keys entry for this path anyway).
func deleteAttachedLocked(ctx context.Context, node *Node) error {
	if node.st == stateAttachedFile && node.block != nil {
		if err := node.block.DeleteAllBlocks(ctx); err != nil {
			return err
		}
	}
	if err := node.engine.Client.Delete(ctx, datastore.NewNodeKey(node.path)); err != nil {
		return dsfault.Wrap(dsfault.Io, err, "delete replaced destination")
	}
	node.st = stateImaginary
	node.meta = metadata.New(node.path)
	node.block = nil
	return nil
}

// Copy duplicates a node's metadata and block payloads under destPath,
// leaving the source intact.
func (n *Node) Copy(ctx context.Context, destPath string, opts CopyOptions) error {
	destNorm, err := pathutil.Normalize(destPath)
	if err != nil {
		return err
	}
	destParentPath, err := pathutil.Parent(destNorm)
	if err != nil {
		return err
	}

	return lockregistry.WithLocks(n.engine.Locks, []string{destParentPath, n.path}, func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		if err := n.attachLocked(ctx); err != nil {
			return err
		}
		if n.st == stateImaginary || n.st == stateDeleted {
			return dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", n.path)
		}

		dest, err := n.engine.Open(destNorm)
		if err != nil {
			return err
		}
		if err := dest.attachLocked(ctx); err != nil {
			return err
		}
		if dest.st != stateImaginary {
			if !opts.ReplaceExisting {
				return dsfault.Newf(dsfault.AlreadyExists, "%s already exists", destNorm)
			}
			if err := deleteAttachedLocked(ctx, dest); err != nil {
				return err
			}
		}

		destParent, err := n.engine.Open(destParentPath)
		if err != nil {
			return err
		}
		if err := destParent.attachLocked(ctx); err != nil {
			return err
		}
		if destParent.st != stateAttachedFolder {
			return dsfault.Newf(dsfault.NotDirectory, "%s is not a folder", destParentPath)
		}

		now := nowMillis()
		dest.meta = metadata.New(destNorm)
		dest.meta.FileType = n.meta.FileType
		if opts.CopyAttributes {
			dest.meta.LastModified = n.meta.LastModified
		} else {
			dest.meta.LastModified = now
		}

		if n.st == stateAttachedFile {
			dest.meta.BlockSize = n.meta.BlockSize
			dest.meta.ContentSize = n.meta.ContentSize
			dest.meta.BlockKeys = nil
			dest.block = blockio.New(n.engine.Client, n.engine.Cache, dest.meta)
			if err := copyBlocks(ctx, n, dest); err != nil {
				return err
			}
			if err := dest.block.Flush(ctx, true); err != nil {
				return err
			}
			dest.st = stateAttachedFile
		} else {
			if err := n.engine.Client.Put(ctx, dest.meta.ToDatastoreEntity()); err != nil {
				return dsfault.Wrap(dsfault.Io, err, "put copied folder metadata")
			}
			dest.st = stateAttachedFolder
		}

		destParent.meta.AddChild(destNorm)
		destParent.meta.LastModified = now
		if err := n.engine.Client.Put(ctx, destParent.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "notify destination parent of copy")
		}
		return nil
	})
}
