// Copyright 2025, Command Line Inc.
// SPDX-License-Identifier: Apache-2.0

package filenode

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/brevitylabs/dsvfs/pkg/blockcache"
	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/datastore/memcache"
	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/lockregistry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	backend, err := datastore.OpenSQLiteClient(ctx, ":memory:")
	if err != nil {
		t.Skipf("filenode tests require sqlite/cgo: %v", err)
	}
	mc := memcache.New[*datastore.Entity](memcache.DefaultTTL)
	client := datastore.NewCachedClient(backend, mc)
	cache := blockcache.New(blockcache.DefaultCleanCapacity)
	locks := lockregistry.New(t.TempDir())
	e := NewEngine(client, cache, locks)
	if err := e.EnsureRoot(ctx); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	return e
}

func TestEnsureRootIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	if err := e.EnsureRoot(ctx); err != nil {
		t.Fatalf("second EnsureRoot: %v", err)
	}
	root, err := e.Open("/")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exists, err := root.Exists(ctx)
	if err != nil || !exists {
		t.Fatalf("expected root to exist: %v, %v", exists, err)
	}
}

func TestCreateFileThenStat(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, err := e.Open("/a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := n.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	attrs, err := n.Stat(ctx, "basic")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs["filetype"] != "FILE" {
		t.Errorf("Stat filetype = %v, want FILE", attrs["filetype"])
	}
}

func TestCreateFileTwiceFailsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/a.txt")
	if err := n.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	n2, _ := e.Open("/a.txt")
	err := n2.CreateFile(ctx, 0)
	if !dsfault.Is(err, dsfault.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestCreateFileUnderMissingParentFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/nope/a.txt")
	err := n.CreateFile(ctx, 0)
	if !dsfault.Is(err, dsfault.NoSuchFile) {
		t.Fatalf("expected NoSuchFile for missing parent, got %v", err)
	}
}

func TestCreateFileUnderFileParentFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	parent, _ := e.Open("/a.txt")
	if err := parent.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile parent: %v", err)
	}
	child, _ := e.Open("/a.txt/b.txt")
	err := child.CreateFile(ctx, 0)
	if !dsfault.Is(err, dsfault.NotDirectory) {
		t.Fatalf("expected NotDirectory, got %v", err)
	}
}

func TestCreateFolderAndListChildren(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	f1, _ := e.Open("/d/f1")
	f2, _ := e.Open("/d/f2")
	if err := f1.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile f1: %v", err)
	}
	if err := f2.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile f2: %v", err)
	}
	dirAgain, _ := e.Open("/d")
	children, err := dirAgain.ListChildren(ctx)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
}

func TestDeleteNonEmptyFolderFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	f1, _ := e.Open("/d/f1")
	if err := f1.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	dirAgain, _ := e.Open("/d")
	err := dirAgain.Delete(ctx)
	if !dsfault.Is(err, dsfault.DirectoryNotEmpty) {
		t.Fatalf("expected DirectoryNotEmpty, got %v", err)
	}
}

func TestDeleteFileRemovesFromParentListing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	f1, _ := e.Open("/f1")
	if err := f1.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	f1Again, _ := e.Open("/f1")
	if err := f1Again.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	root, _ := e.Open("/")
	children, err := root.ListChildren(ctx)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no children after delete, got %d", len(children))
	}
}

func TestDeleteMissingFileFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/missing")
	err := n.Delete(ctx)
	if !dsfault.Is(err, dsfault.NoSuchFile) {
		t.Fatalf("expected NoSuchFile, got %v", err)
	}
}

func TestDeleteRootFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	root, _ := e.Open("/")
	err := root.Delete(ctx)
	if !dsfault.Is(err, dsfault.AccessDenied) {
		t.Fatalf("expected AccessDenied, got %v", err)
	}
}

func writeWholeFile(t *testing.T, ctx context.Context, n *Node, data []byte) {
	t.Helper()
	if err := n.OpenStream(ctx, OpenOptions{Create: true, Write: true}, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := n.WriteAt(ctx, data, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readWholeFile(t *testing.T, ctx context.Context, n *Node, size int) []byte {
	t.Helper()
	if err := n.OpenStream(ctx, OpenOptions{Read: true}, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	buf := make([]byte, size)
	if _, err := n.ReadAt(ctx, buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf
}

func TestWriteReadRoundTripAcrossClose(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/f")
	payload := []byte("round trip content")
	writeWholeFile(t, ctx, n, payload)

	n2, _ := e.Open("/f")
	got := readWholeFile(t, ctx, n2, len(payload))
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestAppendPositionsAtContentSize(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/f")
	writeWholeFile(t, ctx, n, []byte("hello"))

	n2, _ := e.Open("/f")
	if err := n2.OpenStream(ctx, OpenOptions{Write: true, Append: true}, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := n2.Append(ctx, []byte(" world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := n2.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n3, _ := e.Open("/f")
	got := readWholeFile(t, ctx, n3, len("hello world"))
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestOpenStreamRejectsSecondConcurrentStream(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/f")
	if err := n.OpenStream(ctx, OpenOptions{Create: true, Write: true}, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	err := n.OpenStream(ctx, OpenOptions{Read: true}, 0)
	if err == nil {
		t.Fatalf("expected error opening a second stream on the same Node")
	}
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenStreamRejectsAppendWithRead(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/f")
	err := n.OpenStream(ctx, OpenOptions{Append: true, Read: true}, 0)
	if !dsfault.Is(err, dsfault.UnsupportedOption) {
		t.Fatalf("expected UnsupportedOption, got %v", err)
	}
}

func TestTruncateExistingClearsContent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/f")
	writeWholeFile(t, ctx, n, []byte("some content"))

	n2, _ := e.Open("/f")
	if err := n2.OpenStream(ctx, OpenOptions{Write: true, TruncateExisting: true}, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := n2.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n3, _ := e.Open("/f")
	attrs, err := n3.Stat(ctx, "dsvfs")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs["content-size"] != int64(0) {
		t.Errorf("content-size after truncate-existing open = %v, want 0", attrs["content-size"])
	}
}

func TestRenameMovesFileToNewParent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	f, _ := e.Open("/f")
	writeWholeFile(t, ctx, f, []byte("payload"))

	fAgain, _ := e.Open("/f")
	if err := fAgain.Rename(ctx, "/d/f", MoveOptions{}); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	oldNode, _ := e.Open("/f")
	exists, err := oldNode.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Errorf("expected source path gone after rename")
	}

	newNode, _ := e.Open("/d/f")
	got := readWholeFile(t, ctx, newNode, len("payload"))
	if string(got) != "payload" {
		t.Errorf("renamed file content = %q, want %q", got, "payload")
	}
}

func TestRenameIntoOwnSubtreeFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	dirAgain, _ := e.Open("/d")
	if err := dirAgain.Rename(ctx, "/d/sub", MoveOptions{}); !dsfault.Is(err, dsfault.InvalidPath) {
		t.Fatalf("expected InvalidPath renaming a folder into its own subtree, got %v", err)
	}
}

func TestRenameToSelfFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	f, _ := e.Open("/f")
	if err := f.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	fAgain, _ := e.Open("/f")
	if err := fAgain.Rename(ctx, "/f", MoveOptions{}); !dsfault.Is(err, dsfault.InvalidPath) {
		t.Fatalf("expected InvalidPath renaming a path to itself, got %v", err)
	}
}

func TestRenameIntoUnrelatedDirWithSharedPrefixSucceeds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src, _ := e.Open("/ab")
	if err := src.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder /ab: %v", err)
	}
	dest, _ := e.Open("/abc")
	if err := dest.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder /abc: %v", err)
	}
	srcAgain, _ := e.Open("/ab")
	// /abc is a byte-wise prefix match against /ab but not a real
	// ancestor/descendant relationship; moving /ab under the unrelated
	// /abc must not be rejected as if /abc were inside /ab.
	if err := srcAgain.Rename(ctx, "/abc/ab", MoveOptions{}); err != nil {
		t.Fatalf("Rename into unrelated dir with shared string prefix: %v", err)
	}
}

func TestRenameAtomicMoveUnsupported(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	f, _ := e.Open("/f")
	if err := f.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	fAgain, _ := e.Open("/f")
	err := fAgain.Rename(ctx, "/g", MoveOptions{AtomicMove: true})
	if !dsfault.Is(err, dsfault.AtomicMoveNotSupported) {
		t.Fatalf("expected AtomicMoveNotSupported, got %v", err)
	}
}

func TestRenameWithoutReplaceExistingFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src, _ := e.Open("/a")
	if err := src.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile a: %v", err)
	}
	dst, _ := e.Open("/b")
	if err := dst.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile b: %v", err)
	}
	srcAgain, _ := e.Open("/a")
	err := srcAgain.Rename(ctx, "/b", MoveOptions{})
	if !dsfault.Is(err, dsfault.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestRenameReplaceExistingOverwrites(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src, _ := e.Open("/a")
	writeWholeFile(t, ctx, src, []byte("new content"))
	dst, _ := e.Open("/b")
	writeWholeFile(t, ctx, dst, []byte("stale content"))

	srcAgain, _ := e.Open("/a")
	if err := srcAgain.Rename(ctx, "/b", MoveOptions{ReplaceExisting: true}); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	final, _ := e.Open("/b")
	got := readWholeFile(t, ctx, final, len("new content"))
	if string(got) != "new content" {
		t.Fatalf("got %q, want %q", got, "new content")
	}
}

func TestCopyLeavesSourceIntact(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src, _ := e.Open("/a")
	writeWholeFile(t, ctx, src, []byte("copied content"))

	srcAgain, _ := e.Open("/a")
	if err := srcAgain.Copy(ctx, "/b", CopyOptions{}); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	orig, _ := e.Open("/a")
	origData := readWholeFile(t, ctx, orig, len("copied content"))
	if string(origData) != "copied content" {
		t.Fatalf("source mutated by copy: %q", origData)
	}
	dup, _ := e.Open("/b")
	dupData := readWholeFile(t, ctx, dup, len("copied content"))
	if string(dupData) != "copied content" {
		t.Fatalf("copy content = %q, want %q", dupData, "copied content")
	}
}

func TestCopyWithoutReplaceExistingFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src, _ := e.Open("/a")
	if err := src.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile a: %v", err)
	}
	dst, _ := e.Open("/b")
	if err := dst.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile b: %v", err)
	}
	srcAgain, _ := e.Open("/a")
	err := srcAgain.Copy(ctx, "/b", CopyOptions{})
	if !dsfault.Is(err, dsfault.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/a")
	if err := n.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := n.Attach(ctx); err != nil {
		t.Fatalf("second Attach: %v", err)
	}
}

func TestDetachRefusesWithDirtyMetadata(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	n, _ := e.Open("/a")
	if err := n.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	n.mu.Lock()
	n.meta.Dirty = true
	n.mu.Unlock()
	if err := n.Detach(); err == nil {
		t.Fatalf("expected Detach to refuse dirty metadata")
	}
}

type fakeOverlay struct {
	names []string
}

func (f *fakeOverlay) ListOverlayChildren(ctx context.Context, folderPath string) ([]string, error) {
	return f.names, nil
}

func TestListChildrenMergesOverlayAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	f1, _ := e.Open("/d/f1")
	if err := f1.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	e.Overlay = &fakeOverlay{names: []string{"f1", "overlay-only"}}

	dirAgain, _ := e.Open("/d")
	children, err := dirAgain.ListChildren(ctx)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 deduplicated children, got %d", len(children))
	}
}

func TestWalkVisitsFolderAndChildren(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	f1, _ := e.Open("/d/f1")
	if err := f1.CreateFile(ctx, 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	var visited []string
	err := Walk(ctx, e, "/", func(n *Node) error {
		visited = append(visited, n.Path())
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := map[string]bool{"/": true, "/d": true, "/d/f1": true}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want keys of %v", visited, want)
	}
	for _, p := range visited {
		if !want[p] {
			t.Errorf("unexpected visited path %q", p)
		}
	}
}

// TestConcurrentCreateFileSameName exercises invariant #7: of several
// concurrent CreateFile calls for the same path, exactly one succeeds
// and the rest fail AlreadyExists, with the parent listing the path
// exactly once afterward.
func TestConcurrentCreateFileSameName(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	const numGoroutines = 8

	var wg sync.WaitGroup
	errs := make([]error, numGoroutines)
	start := make(chan struct{})
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			n, err := e.Open("/race")
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = n.CreateFile(ctx, 0)
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case !dsfault.Is(err, dsfault.AlreadyExists):
			t.Fatalf("unexpected error from concurrent CreateFile: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful create, got %d", successes)
	}

	root, _ := e.Open("/")
	children, err := root.ListChildren(ctx)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	count := 0
	for _, c := range children {
		if c.Path() == "/race" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected /race to appear exactly once under its parent, got %d", count)
	}
}

// TestConcurrentDeleteParentAndCreateChild exercises invariant #8: a
// concurrent delete(parent) racing create-file(parent/child) must never
// leave an orphan -- a child entity that exists but whose key is absent
// from its parent's child-keys because the parent was already gone when
// the child's creation persisted.
func TestConcurrentDeleteParentAndCreateChild(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir, _ := e.Open("/d")
	if err := dir.CreateFolder(ctx); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	var wg sync.WaitGroup
	var deleteErr, createErr error
	start := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		n, _ := e.Open("/d")
		deleteErr = n.Delete(ctx)
	}()
	go func() {
		defer wg.Done()
		<-start
		n, _ := e.Open("/d/child")
		createErr = n.CreateFile(ctx, 0)
	}()
	close(start)
	wg.Wait()

	childNode, _ := e.Open("/d/child")
	childExists, err := childNode.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists(/d/child): %v", err)
	}
	if !childExists {
		return
	}

	dirNode, _ := e.Open("/d")
	dirExists, err := dirNode.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists(/d): %v", err)
	}
	if !dirExists {
		t.Fatalf("orphan: /d/child exists but /d does not (deleteErr=%v, createErr=%v)", deleteErr, createErr)
	}
	children, err := dirNode.ListChildren(ctx)
	if err != nil {
		t.Fatalf("ListChildren(/d): %v", err)
	}
	found := false
	for _, c := range children {
		if c.Path() == "/d/child" {
			found = true
		}
	}
	if !found {
		t.Fatalf("orphan: /d/child exists but is not listed under /d's children")
	}
}
