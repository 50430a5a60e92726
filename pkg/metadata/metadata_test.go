// Copyright 2025, Command Line Inc.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"testing"

	"github.com/brevitylabs/dsvfs/pkg/dsfault"
)

func TestNewIsImaginary(t *testing.T) {
	m := New("/a")
	if !m.IsImaginary() {
		t.Errorf("expected a freshly constructed entity to be imaginary")
	}
	if err := m.RequireFile(); !dsfault.Is(err, dsfault.NoSuchFile) {
		t.Errorf("RequireFile on imaginary = %v, want NoSuchFile", err)
	}
}

func TestRoundTripFileEntity(t *testing.T) {
	m := New("/a/f.txt")
	m.FileType = TypeFile
	m.BlockSize = 65536
	m.ContentSize = 1234
	m.BlockKeys = []string{"block.0", "block.1"}
	m.LastModified = 100

	ent := m.ToDatastoreEntity()
	back := FromDatastoreEntity("/a/f.txt", ent)

	if !back.IsFile() {
		t.Fatalf("expected round-tripped entity to be a file")
	}
	if back.BlockSize != 65536 || back.ContentSize != 1234 || len(back.BlockKeys) != 2 {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestRoundTripFolderEntity(t *testing.T) {
	m := New("/a")
	m.FileType = TypeFolder
	m.AddChild("/a/b")
	m.AddChild("/a/c")

	ent := m.ToDatastoreEntity()
	back := FromDatastoreEntity("/a", ent)
	if !back.IsFolder() {
		t.Fatalf("expected round-tripped entity to be a folder")
	}
	if len(back.ChildKeys) != 2 {
		t.Errorf("expected 2 child keys, got %v", back.ChildKeys)
	}
}

func TestAddChildDeduplicates(t *testing.T) {
	m := New("/a")
	m.FileType = TypeFolder
	m.AddChild("/a/b")
	m.AddChild("/a/b")
	if len(m.ChildKeys) != 1 {
		t.Errorf("expected AddChild to dedupe, got %v", m.ChildKeys)
	}
}

func TestRemoveChild(t *testing.T) {
	m := New("/a")
	m.FileType = TypeFolder
	m.AddChild("/a/b")
	m.AddChild("/a/c")
	m.RemoveChild("/a/b")
	if len(m.ChildKeys) != 1 || m.ChildKeys[0] != "/a/c" {
		t.Errorf("expected only /a/c to remain, got %v", m.ChildKeys)
	}
}

func TestRequireFolderOnFile(t *testing.T) {
	m := New("/a")
	m.FileType = TypeFile
	if err := m.RequireFolder(); !dsfault.Is(err, dsfault.NotDirectory) {
		t.Errorf("RequireFolder on a file = %v, want NotDirectory", err)
	}
}

func TestReadAttributesViews(t *testing.T) {
	m := New("/a")
	m.FileType = TypeFile
	m.ContentSize = 10
	m.BlockSize = 4096
	m.BlockKeys = []string{"block.0"}

	basic, err := m.ReadAttributes("basic")
	if err != nil || basic["filetype"] != "FILE" {
		t.Errorf("basic view = %v, %v", basic, err)
	}

	dsvfs, err := m.ReadAttributes("dsvfs")
	if err != nil || dsvfs["block-count"] != 1 {
		t.Errorf("dsvfs view = %v, %v", dsvfs, err)
	}

	if _, err := m.ReadAttributes("nonsense"); !dsfault.Is(err, dsfault.UnsupportedOption) {
		t.Errorf("unknown view = %v, want UnsupportedOption", err)
	}
}
