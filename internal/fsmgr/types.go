// Package fsmgr implements the FS manager (C3): encoding/decoding of file
// manifests (Syncwerk) and directory manifests (SyncwDir), tree walks,
// path resolution, and local-file chunking for upload.
package fsmgr

import "github.com/syncwerk/syncwerk-server/internal/objstore"

// Object type constants, spec §6.1.
const (
	TypeInvalid = 0
	TypeFile    = 1
	TypeLink    = 2
	TypeDir     = 3
)

// EmptyID is the reserved all-zero digest denoting the empty file/dir. It is
// never persisted; get_syncwerk/get_syncwdir synthesize it in memory.
const EmptyID = "0000000000000000000000000000000000000000"

// Syncwerk is the file manifest: an ordered list of block ids whose
// concatenation reconstructs the file.
type Syncwerk struct {
	Version   int      `json:"version"`
	FileSize  uint64   `json:"file_size"`
	BlockIDs  []string `json:"block_ids"`
}

// Dirent is one entry of a SyncwDir. Regular files carry Modifier/Size;
// directories do not (spec §3).
type Dirent struct {
	Mode     uint32  `json:"mode"`
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	MTime    int64   `json:"mtime"`
	Modifier *string `json:"modifier,omitempty"`
	Size     *int64  `json:"size,omitempty"`
}

func (d Dirent) IsDir() bool {
	// Syncwerk dirent modes follow POSIX S_IFDIR convention in the high bits.
	return d.Mode&0170000 == 0040000
}

// SyncwDir is the directory manifest.
type SyncwDir struct {
	Version int      `json:"version"`
	Dirents []Dirent `json:"dirents"`
}

// objKind is fixed for all fsmgr objects: they live in the "fs" namespace of
// the object store, distinct from blocks and commits.
const objKind = objstore.KindFS
