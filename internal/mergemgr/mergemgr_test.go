package mergemgr

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/syncwerk/syncwerk-server/internal/fsmgr"
	"github.com/syncwerk/syncwerk-server/internal/objstore"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) key(storeID string, kind objstore.Kind, version int, id string) string {
	return storeID + "/" + string(kind) + "/" + id
}

func (m *memStore) Put(ctx context.Context, storeID string, kind objstore.Kind, version int, id string, data []byte, sync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.objects[m.key(storeID, kind, version, id)] = cp
	return nil
}

func (m *memStore) Get(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[m.key(storeID, kind, version, id)]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Exists(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[m.key(storeID, kind, version, id)]
	return ok, nil
}

func (m *memStore) Stat(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) (objstore.Stat, error) {
	data, err := m.Get(ctx, storeID, kind, version, id)
	if err != nil {
		return objstore.Stat{}, err
	}
	return objstore.Stat{Size: int64(len(data))}, nil
}

func (m *memStore) Delete(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) error {
	return nil
}

func (m *memStore) Iterate(ctx context.Context, storeID string, kind objstore.Kind, version int, cb func(id string) error) error {
	return nil
}

func (m *memStore) RemoveStore(ctx context.Context, storeID string, kind objstore.Kind) error {
	return nil
}

func (m *memStore) CopyTo(ctx context.Context, dst objstore.Store, dstStoreID, storeID string, kind objstore.Kind, version int, id string) error {
	return nil
}

func putFile(t *testing.T, fs *fsmgr.Manager, ctx context.Context, storeID string, size uint64) string {
	t.Helper()
	id, err := fs.PutSyncwerk(ctx, storeID, &fsmgr.Syncwerk{Version: 1, FileSize: size, BlockIDs: []string{"b"}})
	if err != nil {
		t.Fatalf("PutSyncwerk failed: %v", err)
	}
	return id
}

func putDirOf(t *testing.T, fs *fsmgr.Manager, ctx context.Context, storeID string, dirents ...fsmgr.Dirent) string {
	t.Helper()
	id, err := fs.PutSyncwDir(ctx, storeID, &fsmgr.SyncwDir{Version: 1, Dirents: dirents})
	if err != nil {
		t.Fatalf("PutSyncwDir failed: %v", err)
	}
	return id
}

func TestMergeFastForwardWhenOursUnchanged(t *testing.T) {
	store := newMemStore()
	fs := fsmgr.New(store, 1)
	ctx := context.Background()

	baseFile := putFile(t, fs, ctx, "repo", 1)
	baseDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: baseFile, Name: "a.txt"})

	theirFile := putFile(t, fs, ctx, "repo", 2)
	theirDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: theirFile, Name: "a.txt"})

	result, err := Merge(ctx, fs, "repo", baseDir, baseDir, theirDir, "committerid00000000000000000000000000000")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Conflict {
		t.Fatal("expected no conflict when only theirs changed")
	}
	if result.RootID != theirDir {
		t.Fatalf("expected fast-forward to theirs' tree, got %s want %s", result.RootID, theirDir)
	}
}

func TestMergeConcurrentEditsConflict(t *testing.T) {
	store := newMemStore()
	fs := fsmgr.New(store, 1)
	ctx := context.Background()

	baseFile := putFile(t, fs, ctx, "repo", 1)
	baseDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: baseFile, Name: "a.txt"})

	oursFile := putFile(t, fs, ctx, "repo", 2)
	oursDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: oursFile, Name: "a.txt"})

	theirFile := putFile(t, fs, ctx, "repo", 3)
	theirDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: theirFile, Name: "a.txt"})

	committerID := "committerid00000000000000000000000000000"
	result, err := Merge(ctx, fs, "repo", baseDir, oursDir, theirDir, committerID)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !result.Conflict {
		t.Fatal("expected a conflict when both sides modified the same file")
	}

	merged, err := fs.GetSyncwDir(ctx, "repo", result.RootID)
	if err != nil {
		t.Fatalf("GetSyncwDir(merged) failed: %v", err)
	}
	if len(merged.Dirents) != 2 {
		t.Fatalf("expected both ours and a renamed theirs entry, got %d dirents: %+v", len(merged.Dirents), merged.Dirents)
	}
	foundOriginal, foundConflict := false, false
	for _, d := range merged.Dirents {
		if d.Name == "a.txt" {
			foundOriginal = true
		}
		if strings.Contains(d.Name, "SFConflict") && strings.Contains(d.Name, committerID) {
			foundConflict = true
		}
	}
	if !foundOriginal || !foundConflict {
		t.Fatalf("expected one original + one SFConflict-renamed entry, got %+v", merged.Dirents)
	}
}

func TestMergeRequiresCommitterID(t *testing.T) {
	store := newMemStore()
	fs := fsmgr.New(store, 1)
	ctx := context.Background()
	_, err := Merge(ctx, fs, "repo", fsmgr.EmptyID, fsmgr.EmptyID, fsmgr.EmptyID, "")
	if err == nil {
		t.Fatal("expected Merge to reject an empty committer id")
	}
}

func TestMergeDeletionVsModificationKeepsModification(t *testing.T) {
	store := newMemStore()
	fs := fsmgr.New(store, 1)
	ctx := context.Background()

	baseFile := putFile(t, fs, ctx, "repo", 1)
	baseDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: baseFile, Name: "a.txt"})

	// ours deletes a.txt entirely.
	oursDir := putDirOf(t, fs, ctx, "repo")

	theirFile := putFile(t, fs, ctx, "repo", 5)
	theirDir := putDirOf(t, fs, ctx, "repo", fsmgr.Dirent{Mode: 0100644, ID: theirFile, Name: "a.txt"})

	result, err := Merge(ctx, fs, "repo", baseDir, oursDir, theirDir, "committerid00000000000000000000000000000")
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Conflict {
		t.Fatal("deletion vs modification should not be treated as a conflict")
	}
	merged, err := fs.GetSyncwDir(ctx, "repo", result.RootID)
	if err != nil {
		t.Fatalf("GetSyncwDir(merged) failed: %v", err)
	}
	if len(merged.Dirents) != 1 || merged.Dirents[0].ID != theirFile {
		t.Fatalf("expected the modified file to survive deletion, got %+v", merged.Dirents)
	}
}
