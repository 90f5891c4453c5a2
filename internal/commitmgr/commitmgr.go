// Package commitmgr implements the commit manager (C4): encoding/decoding
// of commit objects and best-first traversal of the commit DAG.
package commitmgr

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/google/uuid"
	"github.com/syncwerk/syncwerk-server/internal/objstore"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// Commit is the commit object, spec §3. A commit with SecondParentID set is
// a merge.
type Commit struct {
	CommitID        string `json:"commit_id"`
	RootID          string `json:"root_id"`
	RepoID          string `json:"repo_id"`
	CreatorID       string `json:"creator_id"`
	CreatorName     string `json:"creator_name"`
	Description     string `json:"description"`
	CTime           int64  `json:"ctime"`
	ParentID        string `json:"parent_id,omitempty"`
	SecondParentID  string `json:"second_parent_id,omitempty"`
	RepoName        string `json:"repo_name,omitempty"`
	RepoDesc        string `json:"repo_desc,omitempty"`
	Encrypted       bool   `json:"encrypted,omitempty"`
	EncVersion      int    `json:"enc_version,omitempty"`
	Magic           string `json:"magic,omitempty"`
	RandomKey       string `json:"random_key,omitempty"`
	Version         int    `json:"version"`
	Conflict        bool   `json:"conflict,omitempty"`
	NewMerge        bool   `json:"new_merge,omitempty"`
	Repaired        bool   `json:"repaired,omitempty"`
}

// IsMerge reports whether c has two parents.
func (c *Commit) IsMerge() bool { return c.SecondParentID != "" }

var (
	hex40   = regexp.MustCompile(`^[0-9a-f]{40}$`)
	hex32   = regexp.MustCompile(`^[0-9a-f]{32}$`)
	hex64   = regexp.MustCompile(`^[0-9a-f]{64}$`)
	hex96   = regexp.MustCompile(`^[0-9a-f]{96}$`)
)

// ComputeID computes the commit's id: SHA-1 over
// (root_id || creator_id || creator_name\0 || description\0 || ctime_be64),
// per spec §3.
func ComputeID(c *Commit) string {
	h := sha1.New()
	io.WriteString(h, c.RootID)
	io.WriteString(h, c.CreatorID)
	io.WriteString(h, c.CreatorName)
	h.Write([]byte{0})
	io.WriteString(h, c.Description)
	h.Write([]byte{0})
	var ctimeBuf [8]byte
	binary.BigEndian.PutUint64(ctimeBuf[:], uint64(c.CTime))
	h.Write(ctimeBuf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Sanity validates the fields spec §4.4 calls out: repo_id is a UUID,
// root_id is a well-formed object id, creator_id is 40-hex, parent ids (if
// present) are well-formed, and encryption fields are internally consistent.
func Sanity(c *Commit) error {
	if _, err := uuid.Parse(c.RepoID); err != nil {
		return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("repo_id %q is not a UUID", c.RepoID))
	}
	if !hex40.MatchString(c.RootID) {
		return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("root_id %q is not a valid object id", c.RootID))
	}
	if !hex40.MatchString(c.CreatorID) {
		return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("creator_id %q is not 40-hex", c.CreatorID))
	}
	if c.ParentID != "" && !hex40.MatchString(c.ParentID) {
		return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("parent_id %q is malformed", c.ParentID))
	}
	if c.SecondParentID != "" && !hex40.MatchString(c.SecondParentID) {
		return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("second_parent_id %q is malformed", c.SecondParentID))
	}
	if !c.Encrypted {
		return nil
	}
	switch c.EncVersion {
	case 0:
		// no magic/random_key expected
	case 1:
		if !hex32.MatchString(c.Magic) {
			return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("enc_version 1 requires 32-hex magic, got %q", c.Magic))
		}
	case 2:
		if !hex64.MatchString(c.Magic) {
			return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("enc_version 2 requires 64-hex magic, got %q", c.Magic))
		}
		if !hex96.MatchString(c.RandomKey) {
			return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("enc_version 2 requires 96-hex random_key, got %q", c.RandomKey))
		}
	default:
		return syncwerkerr.BadArgs("commitmgr.Sanity", fmt.Errorf("enc_version must be 0, 1 or 2, got %d", c.EncVersion))
	}
	return nil
}

// Manager encodes/decodes commit objects against an object store.
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

const objKind = objstore.KindCommit

// AddCommit validates and persists a commit, assigning/verifying its id.
// If c.CommitID is empty it is computed; if set, it must match ComputeID.
func (m *Manager) AddCommit(ctx context.Context, storeID string, c *Commit) (string, error) {
	if err := Sanity(c); err != nil {
		return "", err
	}
	id := ComputeID(c)
	if c.CommitID != "" && c.CommitID != id {
		return "", syncwerkerr.BadArgs("commitmgr.AddCommit", fmt.Errorf("commit id mismatch: got %s, computed %s", c.CommitID, id))
	}
	c.CommitID = id

	raw, err := canonicalJSON(c)
	if err != nil {
		return "", syncwerkerr.New(syncwerkerr.Internal, "commitmgr.AddCommit", err)
	}
	compressed, err := deflateCompress(raw)
	if err != nil {
		return "", syncwerkerr.New(syncwerkerr.Internal, "commitmgr.AddCommit", err)
	}
	if err := m.store.Put(ctx, storeID, objKind, m.writeVersion, id, compressed, true); err != nil {
		return "", syncwerkerr.IOErr("commitmgr.AddCommit", err)
	}
	return id, nil
}

// GetCommit reads and parses a commit object by id.
func (m *Manager) GetCommit(ctx context.Context, storeID, id string) (*Commit, error) {
	if !hex40.MatchString(id) {
		return nil, syncwerkerr.BadArgs("commitmgr.GetCommit", fmt.Errorf("malformed commit id %q", id))
	}
	raw, err := m.store.Get(ctx, storeID, objKind, m.writeVersion, id)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, syncwerkerr.NotFoundErr("commitmgr.GetCommit", err)
		}
		return nil, syncwerkerr.IOErr("commitmgr.GetCommit", err)
	}
	plain, err := deflateDecompress(raw)
	if err != nil {
		return nil, syncwerkerr.CorruptedErr("commitmgr.GetCommit", err)
	}
	var c Commit
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, syncwerkerr.CorruptedErr("commitmgr.GetCommit", err)
	}
	if err := Sanity(&c); err != nil {
		return nil, syncwerkerr.CorruptedErr("commitmgr.GetCommit", err)
	}
	return &c, nil
}

// Exists reports whether a commit object is present without fully decoding it.
func (m *Manager) Exists(ctx context.Context, storeID, id string) (bool, error) {
	ok, err := m.store.Exists(ctx, storeID, objKind, m.writeVersion, id)
	if err != nil {
		return false, syncwerkerr.IOErr("commitmgr.Exists", err)
	}
	return ok, nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deflateDecompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
