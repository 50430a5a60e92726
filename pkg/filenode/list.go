package filenode

import (
	"context"

	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/pathutil"
)

// OverlayProvider is the hook for an optional "combined local" read-side
// overlay: something that can list additional child names for a folder
// path, shadowing a real on-disk directory tree. The engine never
// implements one itself; Engine.Overlay is nil unless a caller wires one
// in.
type OverlayProvider interface {
	ListOverlayChildren(ctx context.Context, folderPath string) ([]string, error)
}

// ListChildren lists a folder's children, merging in any overlay names.
func (n *Node) ListChildren(ctx context.Context) ([]*Node, error) {
	n.mu.Lock()
	if err := n.attachLocked(ctx); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	if n.st != stateAttachedFolder {
		st := n.st
		n.mu.Unlock()
		if st == stateImaginary {
			return nil, dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", n.path)
		}
		return nil, dsfault.Newf(dsfault.NotDirectory, "%s is not a folder", n.path)
	}
	childPaths := append([]string(nil), n.meta.ChildKeys...)
	engine := n.engine
	path := n.path
	n.mu.Unlock()

	seen := make(map[string]bool, len(childPaths))
	var rtn []*Node
	for _, cp := range childPaths {
		if seen[cp] {
			continue
		}
		seen[cp] = true
		child, err := engine.Open(cp)
		if err != nil {
			return nil, err
		}
		rtn = append(rtn, child)
	}
	if engine.Overlay != nil {
		overlayNames, err := engine.Overlay.ListOverlayChildren(ctx, path)
		if err != nil {
			return nil, dsfault.Wrap(dsfault.Io, err, "overlay listing")
		}
		for _, name := range overlayNames {
			childPath, err := pathutil.Join(path, name)
			if err != nil {
				return nil, err
			}
			if seen[childPath] {
				continue
			}
			seen[childPath] = true
			child, err := engine.Open(childPath)
			if err != nil {
				return nil, err
			}
			rtn = append(rtn, child)
		}
	}
	return rtn, nil
}

// Walk performs a recursive pre-order traversal using ListChildren,
// mirroring fs.WalkDir.
func Walk(ctx context.Context, engine *Engine, root string, fn func(n *Node) error) error {
	node, err := engine.Open(root)
	if err != nil {
		return err
	}
	if err := node.Attach(ctx); err != nil {
		return err
	}
	if err := fn(node); err != nil {
		return err
	}
	exists, err := node.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	n2 := node
	n2.mu.Lock()
	isFolder := n2.st == stateAttachedFolder
	n2.mu.Unlock()
	if !isFolder {
		return nil
	}
	children, err := node.ListChildren(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := Walk(ctx, engine, child.path, fn); err != nil {
			return err
		}
	}
	return nil
}
