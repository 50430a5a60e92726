// Package datastore implements a thin façade over a pluggable key-value
// backing store plus a read-through memcache, grounded on the
// pkg/filestore persistence layer (db_wave_file / db_file_data)
// generalised to the single Node/Block entity kind this engine needs.
package datastore

import "fmt"

// NodeKind is the sole entity kind the engine uses. Metadata entities are
// named by their absolute path; block entities are named "block.N" and
// parented by their owning file's Key.
const NodeKind = "Node"

// Key addresses a single entity. Node keys have no Parent. Block keys are
// parented by the owning file's Node key and use the synthetic name
// "block.N".
type Key struct {
	Kind   string
	Name   string
	Parent *Key
}

func NewNodeKey(path string) Key {
	return Key{Kind: NodeKind, Name: path}
}

func NewBlockKey(fileKey Key, blockIdx int) Key {
	parent := fileKey
	return Key{Kind: NodeKind, Name: fmt.Sprintf("block.%d", blockIdx), Parent: &parent}
}

// IsBlockKey reports whether a key names a block entity (has a parent).
func (k Key) IsBlockKey() bool {
	return k.Parent != nil
}

// String is the flattened string form used as the map/SQL primary key.
func (k Key) String() string {
	if k.Parent == nil {
		return k.Kind + "/" + k.Name
	}
	return k.Parent.String() + "!" + k.Kind + "/" + k.Name
}

// Equal compares two keys by their flattened form.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// Entity is a typed bag of properties plus its Key, mirroring the
// platform datastore's property-bag entity model -- properties are
// stored untyped (any) the same way file metadata round-trips through
// dbutil's map-based helpers.
type Entity struct {
	Key        Key
	Properties map[string]any
}

func NewEntity(key Key) *Entity {
	return &Entity{Key: key, Properties: make(map[string]any)}
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := &Entity{Key: e.Key, Properties: make(map[string]any, len(e.Properties))}
	for k, v := range e.Properties {
		clone.Properties[k] = v
	}
	return clone
}

func (e *Entity) GetString(name string) (string, bool) {
	v, ok := e.Properties[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (e *Entity) GetInt(name string) (int, bool) {
	v, ok := e.Properties[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func (e *Entity) GetInt64(name string) (int64, bool) {
	v, ok := e.Properties[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func (e *Entity) GetStringSlice(name string) []string {
	v, ok := e.Properties[name]
	if !ok {
		return nil
	}
	s, _ := v.([]string)
	return s
}

func (e *Entity) GetBytes(name string) []byte {
	v, ok := e.Properties[name]
	if !ok {
		return nil
	}
	b, _ := v.([]byte)
	return b
}
