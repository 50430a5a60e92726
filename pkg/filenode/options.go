package filenode

import "github.com/brevitylabs/dsvfs/pkg/dsfault"

// OpenOptions is the configurable-option set for opening a file's
// content. Validate rejects unsupported combinations before any
// datastore round trip happens.
type OpenOptions struct {
	Create           bool
	CreateNew        bool
	Append           bool
	Read             bool
	Write            bool
	TruncateExisting bool
	Sync             bool
	Dsync            bool
	Sparse           bool
	DeleteOnClose    bool
}

func (o OpenOptions) Validate() error {
	if o.Sync || o.Dsync || o.Sparse || o.DeleteOnClose {
		return dsfault.New(dsfault.UnsupportedOption, "SYNC, DSYNC, SPARSE, and DELETE_ON_CLOSE are not supported")
	}
	if o.Append && (o.Read || o.TruncateExisting) {
		return dsfault.New(dsfault.UnsupportedOption, "APPEND is incompatible with READ or TRUNCATE_EXISTING")
	}
	return nil
}

func (o OpenOptions) wantsWrite() bool {
	return o.Write || o.Append || o.Create || o.CreateNew || o.TruncateExisting
}

// MoveOptions configures a rename/move operation.
type MoveOptions struct {
	ReplaceExisting bool
	AtomicMove      bool
}

// CopyOptions configures a copy operation.
type CopyOptions struct {
	ReplaceExisting bool
	CopyAttributes  bool
}
