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

// parentOf loads (attaching as needed) the parent Node of n, failing
// NotDirectory if it exists but isn't a folder and NoSuchFile if it
// doesn't exist at all -- create/delete/rename all need this check
// before touching the child.
func (n *Node) parentOf(ctx context.Context) (*Node, error) {
	if pathutil.Equal(n.path, pathutil.Root) {
		return nil, dsfault.New(dsfault.InvalidPath, "root has no parent")
	}
	parentPath, err := pathutil.Parent(n.path)
	if err != nil {
		return nil, err
	}
	parent, err := n.engine.Open(parentPath)
	if err != nil {
		return nil, err
	}
	if err := parent.Attach(ctx); err != nil {
		return nil, err
	}
	parent.mu.Lock()
	st := parent.st
	parent.mu.Unlock()
	switch st {
	case stateAttachedFolder:
		return parent, nil
	case stateAttachedFile:
		return nil, dsfault.Newf(dsfault.NotDirectory, "%s is not a folder", parentPath)
	default:
		return nil, dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", parentPath)
	}
}

// CreateFile creates a new empty file under an existing parent folder.
func (n *Node) CreateFile(ctx context.Context, blockSize int) error {
	if pathutil.Equal(n.path, pathutil.Root) {
		return dsfault.New(dsfault.AlreadyExists, "the root always exists")
	}
	if blockSize == 0 {
		blockSize = n.engine.DefaultBlockSize
	}
	if err := blockio.ValidateBlockSize(blockSize); err != nil {
		return err
	}
	parent, err := n.parentOf(ctx)
	if err != nil {
		return err
	}
	return lockregistry.WithLock(n.engine.Locks, parent.path, func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		if err := n.attachLocked(ctx); err != nil {
			return err
		}
		if parent.st != stateAttachedFolder {
			return dsfault.Newf(dsfault.NotDirectory, "%s is not a folder", parent.path)
		}
		if n.st != stateImaginary {
			return dsfault.Newf(dsfault.AlreadyExists, "%s already exists", n.path)
		}
		now := nowMillis()
		n.meta.FileType = metadata.TypeFile
		n.meta.BlockSize = blockSize
		n.meta.ContentSize = 0
		n.meta.BlockKeys = nil
		n.meta.LastModified = now
		n.meta.Dirty = true

		parent.meta.AddChild(n.path)
		parent.meta.LastModified = now
		if err := n.engine.Client.Put(ctx, parent.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "notify parent")
		}
		if err := n.engine.Client.Put(ctx, n.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "create file")
		}
		n.meta.Dirty = false
		n.st = stateAttachedFile
		n.block = blockio.New(n.engine.Client, n.engine.Cache, n.meta)
		return nil
	})
}

// CreateFolder creates a new empty folder under an existing parent
// folder; identical to CreateFile but filetype FOLDER and no block-size.
func (n *Node) CreateFolder(ctx context.Context) error {
	if pathutil.Equal(n.path, pathutil.Root) {
		return dsfault.New(dsfault.AlreadyExists, "the root always exists")
	}
	parent, err := n.parentOf(ctx)
	if err != nil {
		return err
	}
	return lockregistry.WithLock(n.engine.Locks, parent.path, func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		if err := n.attachLocked(ctx); err != nil {
			return err
		}
		if parent.st != stateAttachedFolder {
			return dsfault.Newf(dsfault.NotDirectory, "%s is not a folder", parent.path)
		}
		if n.st != stateImaginary {
			return dsfault.Newf(dsfault.AlreadyExists, "%s already exists", n.path)
		}
		now := nowMillis()
		n.meta.FileType = metadata.TypeFolder
		n.meta.LastModified = now
		n.meta.Dirty = true

		parent.meta.AddChild(n.path)
		parent.meta.LastModified = now
		if err := n.engine.Client.Put(ctx, parent.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "notify parent")
		}
		if err := n.engine.Client.Put(ctx, n.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "create folder")
		}
		n.meta.Dirty = false
		n.st = stateAttachedFolder
		return nil
	})
}

// EnsureCreated implements the CREATE / CREATE_NEW open-option effects:
// CREATE tolerates an already-existing file silently, while CREATE_NEW
// demands the create actually happen.
func (n *Node) EnsureCreated(ctx context.Context, opts OpenOptions, blockSize int) error {
	n.mu.Lock()
	attachErr := n.attachLocked(ctx)
	alreadyExists := n.st == stateAttachedFile
	n.mu.Unlock()
	if attachErr != nil {
		return attachErr
	}
	if opts.CreateNew {
		if alreadyExists {
			return dsfault.Newf(dsfault.AlreadyExists, "%s already exists", n.path)
		}
		return n.CreateFile(ctx, blockSize)
	}
	if opts.Create && !alreadyExists {
		return n.CreateFile(ctx, blockSize)
	}
	return nil
}
