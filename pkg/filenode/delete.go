package filenode

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/lockregistry"
	"github.com/brevitylabs/dsvfs/pkg/pathutil"
)

// Delete removes a file or an empty folder, rejecting a non-empty folder
// and the root.
func (n *Node) Delete(ctx context.Context) error {
	if pathutil.Equal(n.path, pathutil.Root) {
		return dsfault.New(dsfault.AccessDenied, "the root cannot be deleted")
	}
	parent, err := n.parentOf(ctx)
	if err != nil {
		return err
	}
	return lockregistry.WithLocks(n.engine.Locks, []string{parent.path, n.path}, func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		if err := n.attachLocked(ctx); err != nil {
			return err
		}
		switch n.st {
		case stateImaginary:
			return dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", n.path)
		case stateAttachedFolder:
			if len(n.meta.ChildKeys) > 0 {
				return dsfault.Newf(dsfault.DirectoryNotEmpty, "%s is not empty", n.path)
			}
		case stateAttachedFile:
			if n.block != nil {
				if err := n.block.DeleteAllBlocks(ctx); err != nil {
					return err
				}
			}
		}

		parent.meta.RemoveChild(n.path)
		parent.meta.LastModified = nowMillis()
		if err := n.engine.Client.Put(ctx, parent.meta.ToDatastoreEntity()); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "notify parent of delete")
		}
		if err := n.engine.Client.Delete(ctx, datastore.NewNodeKey(n.path)); err != nil {
			return dsfault.Wrap(dsfault.Io, err, "delete metadata")
		}
		n.st = stateDeleted
		n.meta = nil
		n.block = nil
		return nil
	})
}
