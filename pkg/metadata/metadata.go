// Package metadata implements the in-memory representation of a node's
// metadata properties, modelled as a tagged sum over {Imaginary, File,
// Folder} rather than as a class hierarchy, grounded on the WaveFile
// struct in pkg/filestore/blockstore.go generalised to carry a folder
// variant as well as a file variant.
package metadata

import (
	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/dsfault"
)

type FileType string

const (
	TypeImaginary FileType = ""
	TypeFile      FileType = "FILE"
	TypeFolder    FileType = "FOLDER"
)

// Entity is the in-memory, mutable counterpart of a datastore.Entity of
// kind Node. It tracks its own dirtiness so FileNode/BlockIO know
// whether a flush needs to put it.
type Entity struct {
	Path         string
	FileType     FileType
	LastModified int64 // epoch millis
	ChildKeys    []string
	BlockKeys    []string
	BlockSize    int
	ContentSize  int64
	Dirty        bool
}

// New constructs the imaginary entity attach() adopts on a NotFound.
func New(path string) *Entity {
	return &Entity{Path: path, FileType: TypeImaginary}
}

// FromDatastoreEntity adopts a loaded datastore entity's properties,
// setting the in-memory filetype from its filetype property.
func FromDatastoreEntity(path string, e *datastore.Entity) *Entity {
	m := &Entity{Path: path}
	if ft, ok := e.GetString("filetype"); ok {
		m.FileType = FileType(ft)
	}
	if lm, ok := e.GetInt64("last-modified"); ok {
		m.LastModified = lm
	}
	m.ChildKeys = e.GetStringSlice("child-keys")
	if m.FileType == TypeFile {
		m.BlockKeys = e.GetStringSlice("block-keys")
		if bs, ok := e.GetInt("block-size"); ok {
			m.BlockSize = bs
		}
		if cs, ok := e.GetInt64("content-size"); ok {
			m.ContentSize = cs
		}
	}
	return m
}

// ToDatastoreEntity serialises back into property-bag form for a put,
// refreshing the filetype property first so an imaginary-to-FILE
// transition is never persisted with a stale type.
func (m *Entity) ToDatastoreEntity() *datastore.Entity {
	key := datastore.NewNodeKey(m.Path)
	ent := datastore.NewEntity(key)
	ent.Properties["filetype"] = string(m.FileType)
	ent.Properties["last-modified"] = m.LastModified
	if m.FileType == TypeFolder {
		if len(m.ChildKeys) > 0 {
			ent.Properties["child-keys"] = m.ChildKeys
		}
	}
	if m.FileType == TypeFile {
		ent.Properties["block-keys"] = m.BlockKeys
		ent.Properties["block-size"] = m.BlockSize
		ent.Properties["content-size"] = m.ContentSize
	}
	return ent
}

func (m *Entity) IsImaginary() bool { return m.FileType == TypeImaginary }
func (m *Entity) IsFile() bool      { return m.FileType == TypeFile }
func (m *Entity) IsFolder() bool    { return m.FileType == TypeFolder }

func (m *Entity) RequireFile() error {
	if !m.IsFile() {
		if m.IsImaginary() {
			return dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", m.Path)
		}
		return dsfault.Newf(dsfault.NotDirectory, "%s is a folder", m.Path)
	}
	return nil
}

func (m *Entity) RequireFolder() error {
	if !m.IsFolder() {
		if m.IsImaginary() {
			return dsfault.Newf(dsfault.NoSuchFile, "%s does not exist", m.Path)
		}
		return dsfault.Newf(dsfault.NotDirectory, "%s is a file", m.Path)
	}
	return nil
}

func (m *Entity) AddChild(childPath string) {
	for _, c := range m.ChildKeys {
		if c == childPath {
			return
		}
	}
	m.ChildKeys = append(m.ChildKeys, childPath)
	m.Dirty = true
}

func (m *Entity) RemoveChild(childPath string) {
	out := m.ChildKeys[:0]
	for _, c := range m.ChildKeys {
		if c != childPath {
			out = append(out, c)
		}
	}
	m.ChildKeys = out
	m.Dirty = true
}

// ReadAttributes implements the "attribute views as a queryable map"
// addition: basic reports the POSIX-ish subset every node has, the
// engine-specific view layers in block bookkeeping for files only.
func (m *Entity) ReadAttributes(view string) (map[string]any, error) {
	switch view {
	case "basic":
		return map[string]any{
			"filetype":      string(m.FileType),
			"size":          m.ContentSize,
			"last-modified": m.LastModified,
		}, nil
	case "dsvfs":
		attrs := map[string]any{
			"filetype":      string(m.FileType),
			"size":          m.ContentSize,
			"last-modified": m.LastModified,
		}
		if m.IsFile() {
			attrs["block-size"] = m.BlockSize
			attrs["block-count"] = len(m.BlockKeys)
			attrs["content-size"] = m.ContentSize
		}
		return attrs, nil
	default:
		return nil, dsfault.Newf(dsfault.UnsupportedOption, "unknown attribute view %q", view)
	}
}
