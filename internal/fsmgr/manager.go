package fsmgr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/syncwerk/syncwerk-server/internal/objstore"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// ErrPathNotExist and ErrDirMissing are distinguished per spec §4.3:
// a path that legitimately doesn't exist is not the same failure as a
// directory object that should exist but is missing from storage
// (corruption).
var (
	ErrPathNotExist = errors.New("fsmgr: path does not exist")
	ErrDirMissing   = errors.New("fsmgr: directory object missing from store")
)

// Manager encodes/decodes fs objects against an object store. version
// selects the on-disk layout new objects are written in; v0 objects are
// always readable regardless of this setting (spec §9).
type Manager struct {
	store        objstore.Store
	writeVersion int
}

func New(store objstore.Store, writeVersion int) *Manager {
	if writeVersion < 1 {
		writeVersion = 1
	}
	return &Manager{store: store, writeVersion: writeVersion}
}

// GetSyncwerk reads and decodes a file manifest. The reserved empty id
// synthesizes a zero-block manifest without touching storage.
func (m *Manager) GetSyncwerk(ctx context.Context, storeID, id string) (*Syncwerk, error) {
	if id == EmptyID {
		return &Syncwerk{Version: m.writeVersion, FileSize: 0, BlockIDs: nil}, nil
	}
	raw, version, err := m.readRaw(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return decodeSyncwerkV0(raw)
	}
	var s Syncwerk
	if err := decodeV1(id, raw, &s); err != nil {
		return nil, err
	}
	s.Version = version
	return &s, nil
}

// PutSyncwerk persists a file manifest (always v1 for new writes) and
// returns its id.
func (m *Manager) PutSyncwerk(ctx context.Context, storeID string, s *Syncwerk) (string, error) {
	id, compressed, err := encodeV1(s)
	if err != nil {
		return "", syncwerkerr.New(syncwerkerr.Internal, "fsmgr.PutSyncwerk", err)
	}
	if err := m.store.Put(ctx, storeID, objKind, m.writeVersion, id, compressed, true); err != nil {
		return "", syncwerkerr.IOErr("fsmgr.PutSyncwerk", err)
	}
	return id, nil
}

// GetSyncwDir reads and decodes a directory manifest, preserving stored
// dirent order (this is the "_sorted"-free accessor).
func (m *Manager) GetSyncwDir(ctx context.Context, storeID, id string) (*SyncwDir, error) {
	if id == EmptyID {
		return &SyncwDir{Version: m.writeVersion, Dirents: nil}, nil
	}
	raw, version, err := m.readRaw(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return decodeSyncwDirV0(raw)
	}
	var d SyncwDir
	if err := decodeV1(id, raw, &d); err != nil {
		return nil, err
	}
	d.Version = version
	return &d, nil
}

// GetSyncwDirSorted is the teacher-facing accessor used by path resolution
// and listings: v0 directories are re-sorted descending by name on every
// access (a legacy quirk preserved for compatibility); v1 directories are
// left exactly as stored (spec §3/§4.3).
func (m *Manager) GetSyncwDirSorted(ctx context.Context, storeID, id string) (*SyncwDir, error) {
	d, err := m.GetSyncwDir(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if d.Version == 0 {
		sorted := append([]Dirent(nil), d.Dirents...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name > sorted[j].Name })
		return &SyncwDir{Version: 0, Dirents: sorted}, nil
	}
	return d, nil
}

// PutSyncwDir persists a directory manifest (v1) and returns its id.
func (m *Manager) PutSyncwDir(ctx context.Context, storeID string, d *SyncwDir) (string, error) {
	if len(d.Dirents) == 0 {
		return EmptyID, nil
	}
	id, compressed, err := encodeV1(d)
	if err != nil {
		return "", syncwerkerr.New(syncwerkerr.Internal, "fsmgr.PutSyncwDir", err)
	}
	if err := m.store.Put(ctx, storeID, objKind, m.writeVersion, id, compressed, true); err != nil {
		return "", syncwerkerr.IOErr("fsmgr.PutSyncwDir", err)
	}
	return id, nil
}

// readRaw fetches bytes for an fs object and figures out which codec
// version produced them. New objects are always written at m.writeVersion;
// legacy repos may still have v0 objects on disk, so a miss at the current
// write version falls back to v0 before giving up.
func (m *Manager) readRaw(ctx context.Context, storeID, id string) ([]byte, int, error) {
	raw, err := m.store.Get(ctx, storeID, objKind, m.writeVersion, id)
	if err == nil {
		return raw, m.writeVersion, nil
	}
	if !errors.Is(err, objstore.ErrNotFound) {
		return nil, 0, syncwerkerr.IOErr("fsmgr.readRaw", err)
	}
	raw, err = m.store.Get(ctx, storeID, objKind, 0, id)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, 0, syncwerkerr.NotFoundErr("fsmgr.readRaw", err)
		}
		return nil, 0, syncwerkerr.IOErr("fsmgr.readRaw", err)
	}
	return raw, 0, nil
}

// ObjectIsDir reports whether id denotes a directory manifest rather than a
// file manifest. The sync wire protocol's GET /fs/:fs_id endpoint has no
// other way to know which shape to decode an id as, since both kinds share
// the same id namespace; this inspects the encoded object directly instead
// of requiring the caller to already know (v0's leading type tag, v1's
// presence of a "dirents" key).
func (m *Manager) ObjectIsDir(ctx context.Context, storeID, id string) (bool, error) {
	if id == EmptyID {
		return true, nil
	}
	raw, version, err := m.readRaw(ctx, storeID, id)
	if err != nil {
		return false, err
	}
	if version == 0 {
		if len(raw) < 4 {
			return false, syncwerkerr.CorruptedErr("fsmgr.ObjectIsDir", fmt.Errorf("short v0 object"))
		}
		return binary.BigEndian.Uint32(raw[:4]) == TypeDir, nil
	}
	plain, err := deflateDecompress(raw)
	if err != nil {
		return false, syncwerkerr.CorruptedErr("fsmgr.ObjectIsDir", err)
	}
	var probe struct {
		Dirents json.RawMessage `json:"dirents"`
	}
	if err := json.Unmarshal(plain, &probe); err != nil {
		return false, syncwerkerr.CorruptedErr("fsmgr.ObjectIsDir", err)
	}
	return probe.Dirents != nil, nil
}

// PathToObjID canonicalizes path (strip trailing '/', empty = root),
// descends dir by dir from root, and returns the terminal dirent's id and
// mode.
func (m *Manager) PathToObjID(ctx context.Context, storeID, rootID, path string) (id string, mode uint32, err error) {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return rootID, 0040000, nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")

	curID := rootID
	for i, seg := range segments {
		dir, err := m.GetSyncwDir(ctx, storeID, curID)
		if err != nil {
			if errors.Is(err, objstore.ErrNotFound) {
				return "", 0, syncwerkerr.New(syncwerkerr.NotFound, "fsmgr.PathToObjID", ErrDirMissing)
			}
			return "", 0, err
		}
		var next *Dirent
		for i := range dir.Dirents {
			if dir.Dirents[i].Name == seg {
				next = &dir.Dirents[i]
				break
			}
		}
		if next == nil {
			return "", 0, syncwerkerr.New(syncwerkerr.NotFound, "fsmgr.PathToObjID", ErrPathNotExist)
		}
		if i == len(segments)-1 {
			return next.ID, next.Mode, nil
		}
		if !next.IsDir() {
			return "", 0, syncwerkerr.New(syncwerkerr.NotFound, "fsmgr.PathToObjID", ErrPathNotExist)
		}
		curID = next.ID
	}
	return "", 0, syncwerkerr.New(syncwerkerr.NotFound, "fsmgr.PathToObjID", ErrPathNotExist)
}

// WalkDecision lets a traversal callback request "stop descent at this
// subtree" (return StopDescent) without aborting the whole walk, or abort
// everything (return non-nil error other than StopDescent).
type WalkDecision error

// StopDescent signals the traversal to skip descending into the current
// directory's children while continuing the walk elsewhere.
var StopDescent = errors.New("fsmgr: stop descent")

// TraverseTree performs a pre-order walk starting at root, invoking cb for
// every object (directories first, then their children). If skipErrors is
// true, a missing object is skipped (nothing is logged) and the walk
// continues instead of aborting.
func (m *Manager) TraverseTree(ctx context.Context, storeID, root string, cb func(id string, isDir bool) error, skipErrors bool) error {
	if root == EmptyID {
		return nil
	}
	return m.traverse(ctx, storeID, root, true, cb, skipErrors)
}

func (m *Manager) traverse(ctx context.Context, storeID, id string, isDir bool, cb func(id string, isDir bool) error, skipErrors bool) error {
	err := cb(id, isDir)
	if err == StopDescent {
		return nil
	}
	if err != nil {
		if skipErrors {
			return nil
		}
		return err
	}
	if !isDir {
		return nil
	}
	dir, err := m.GetSyncwDir(ctx, storeID, id)
	if err != nil {
		if skipErrors {
			return nil
		}
		return err
	}
	for _, e := range dir.Dirents {
		if e.ID == EmptyID {
			continue
		}
		if err := m.traverse(ctx, storeID, e.ID, e.IsDir(), cb, skipErrors); err != nil {
			return err
		}
	}
	return nil
}

// PopulateBlocklist returns the unique set of block ids reachable from root.
func (m *Manager) PopulateBlocklist(ctx context.Context, storeID, root string) ([]string, error) {
	seen := make(map[string]struct{})
	err := m.TraverseTree(ctx, storeID, root, func(id string, isDir bool) error {
		if isDir {
			return nil
		}
		f, err := m.GetSyncwerk(ctx, storeID, id)
		if err != nil {
			return err
		}
		for _, b := range f.BlockIDs {
			seen[b] = struct{}{}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// VerifyOptions controls VerifyObject.
type VerifyOptions struct {
	AlsoCheckID bool // recompute the hash and compare against id
}

// VerifyObject reads id and validates it decodes to a well-formed fs
// object, optionally recomputing its hash.
func (m *Manager) VerifyObject(ctx context.Context, storeID, id string, opts VerifyOptions) error {
	raw, version, err := m.readRaw(ctx, storeID, id)
	if err != nil {
		return err
	}
	if version == 0 {
		if _, err := decodeSyncwerkV0(raw); err == nil {
			return nil
		}
		if _, err := decodeSyncwDirV0(raw); err == nil {
			return nil
		}
		return syncwerkerr.CorruptedErr("fsmgr.VerifyObject", fmt.Errorf("object %s is neither v0 file nor dir", id))
	}
	plain, err := deflateDecompress(raw)
	if err != nil {
		return syncwerkerr.CorruptedErr("fsmgr.VerifyObject", err)
	}
	if opts.AlsoCheckID && sha1Hex(plain) != id {
		return syncwerkerr.CorruptedErr("fsmgr.VerifyObject", fmt.Errorf("hash mismatch for %s", id))
	}
	var probe map[string]any
	if err := json.Unmarshal(plain, &probe); err != nil {
		return syncwerkerr.CorruptedErr("fsmgr.VerifyObject", err)
	}
	return nil
}

// FileCountInfo is the result of GetFileCountInfo.
type FileCountInfo struct {
	Dirs      int64
	Files     int64
	TotalSize int64
}

// GetFileCountInfo recursively accounts for directory/file counts and total
// file size under root (spec §4.3).
func (m *Manager) GetFileCountInfo(ctx context.Context, storeID, root string) (FileCountInfo, error) {
	var info FileCountInfo
	err := m.TraverseTree(ctx, storeID, root, func(id string, isDir bool) error {
		if isDir {
			info.Dirs++
			return nil
		}
		info.Files++
		f, err := m.GetSyncwerk(ctx, storeID, id)
		if err != nil {
			return err
		}
		info.TotalSize += int64(f.FileSize)
		return nil
	}, false)
	if err != nil {
		return FileCountInfo{}, err
	}
	// root itself is a dir but TraverseTree's cb already counted it.
	return info, nil
}
