package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/syncwerk/syncwerk-server/internal/asyncio"
	"github.com/syncwerk/syncwerk-server/internal/cachemgr"
	"github.com/syncwerk/syncwerk-server/internal/commitmgr"
	"github.com/syncwerk/syncwerk-server/internal/eventbus"
	"github.com/syncwerk/syncwerk-server/internal/fsmgr"
	"github.com/syncwerk/syncwerk-server/internal/objstore"
	"github.com/syncwerk/syncwerk-server/internal/syncengine"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeObjStore is an in-memory objstore.Store for tests that don't need a
// live Cassandra session, mirroring the teacher's mockStore pattern for
// internal/storage.
type fakeObjStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjStore() *fakeObjStore {
	return &fakeObjStore{objects: make(map[string][]byte)}
}

func fakeKey(storeID string, kind objstore.Kind, version int, id string) string {
	return fmt.Sprintf("%s/%s/%d/%s", storeID, kind, version, id)
}

func (f *fakeObjStore) Put(ctx context.Context, storeID string, kind objstore.Kind, version int, id string, data []byte, sync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.objects[fakeKey(storeID, kind, version, id)] = cp
	return nil
}

func (f *fakeObjStore) Get(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[fakeKey(storeID, kind, version, id)]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	return data, nil
}

func (f *fakeObjStore) Exists(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[fakeKey(storeID, kind, version, id)]
	return ok, nil
}

func (f *fakeObjStore) Stat(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) (objstore.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[fakeKey(storeID, kind, version, id)]
	if !ok {
		return objstore.Stat{}, objstore.ErrNotFound
	}
	return objstore.Stat{Size: int64(len(data))}, nil
}

func (f *fakeObjStore) Delete(ctx context.Context, storeID string, kind objstore.Kind, version int, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, fakeKey(storeID, kind, version, id))
	return nil
}

func (f *fakeObjStore) Iterate(ctx context.Context, storeID string, kind objstore.Kind, version int, cb func(id string) error) error {
	return nil
}

func (f *fakeObjStore) RemoveStore(ctx context.Context, storeID string, kind objstore.Kind) error {
	return nil
}

func (f *fakeObjStore) CopyTo(ctx context.Context, dst objstore.Store, dstStoreID, storeID string, kind objstore.Kind, version int, id string) error {
	data, err := f.Get(ctx, storeID, kind, version, id)
	if err != nil {
		return err
	}
	return dst.Put(ctx, dstStoreID, kind, version, id, data, false)
}

// newTestSyncHandler wires a SyncHandler against in-memory fakes only, for
// the endpoints that don't require a live Cassandra session (branchmgr,
// quotamgr). The block, quota-check and HEAD endpoints need the Blocks,
// Quotas and branch components, which this handler leaves unset, so they
// are not exercised through it.
func newTestSyncHandler() (*SyncHandler, *fakeObjStore) {
	store := newFakeObjStore()
	eng := &syncengine.Engine{
		Objects: store,
		Commits: commitmgr.New(store, 1),
		FS:      fsmgr.New(store, 1),
		Caches:  cachemgr.New(),
		Async:   asyncio.New(store, 2),
		Events:  eventbus.New(),
	}
	return NewSyncHandler(eng), store
}

func setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("org_id", "00000000-0000-0000-0000-000000000001")
		c.Set("user_id", "00000000-0000-0000-0000-000000000001")
		c.Next()
	})
	return r
}

func TestGetProtocolVersion(t *testing.T) {
	h, _ := newTestSyncHandler()
	r := setupRouter()
	r.GET("/seafhttp/protocol-version", h.GetProtocolVersion)

	req, _ := http.NewRequest("GET", "/seafhttp/protocol-version", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["version"] != 2 {
		t.Errorf("version = %d, want 2", resp["version"])
	}
}

func TestPutAndGetCommit(t *testing.T) {
	h, _ := newTestSyncHandler()
	r := setupRouter()
	repo := r.Group("/seafhttp/repo/:repo_id")
	repo.GET("/commit/:commit_id", h.GetCommit)
	repo.PUT("/commit/:commit_id", h.PutCommit)

	repoID := "00000000-0000-0000-0000-000000000002"
	draft := commitmgr.Commit{
		RepoID:      repoID,
		RootID:      fsmgr.EmptyID,
		CreatorID:   creatorIDFromUser("00000000-0000-0000-0000-000000000001"),
		CreatorName: "tester",
		Description: "initial commit",
		Version:     1,
	}
	commitID := commitmgr.ComputeID(&draft)
	body, _ := json.Marshal(draft)

	putReq, _ := http.NewRequest("PUT", "/seafhttp/repo/"+repoID+"/commit/"+commitID, bytes.NewReader(body))
	putW := httptest.NewRecorder()
	r.ServeHTTP(putW, putReq)
	if putW.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200, body: %s", putW.Code, putW.Body.String())
	}

	getReq, _ := http.NewRequest("GET", "/seafhttp/repo/"+repoID+"/commit/"+commitID, nil)
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body: %s", getW.Code, getW.Body.String())
	}

	var got commitmgr.Commit
	if err := json.Unmarshal(getW.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal commit: %v", err)
	}
	if got.CommitID != commitID {
		t.Errorf("CommitID = %s, want %s", got.CommitID, commitID)
	}
	if got.CreatorID != creatorIDFromUser("00000000-0000-0000-0000-000000000001") {
		t.Errorf("CreatorID = %q, want derived from authenticated user id", got.CreatorID)
	}
}

func TestGetCommitNotFound(t *testing.T) {
	h, _ := newTestSyncHandler()
	r := setupRouter()
	r.GET("/seafhttp/repo/:repo_id/commit/:commit_id", h.GetCommit)

	req, _ := http.NewRequest("GET", "/seafhttp/repo/repo1/commit/deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetFSObjectFileAndDir(t *testing.T) {
	h, store := newTestSyncHandler()
	r := setupRouter()
	r.GET("/seafhttp/repo/:repo_id/fs/:fs_id", h.GetFSObject)

	repoID := "repo-fs-test"
	fileID, err := h.engine.FS.PutSyncwerk(context.Background(), repoID, &fsmgr.Syncwerk{
		Version: 1, FileSize: 10, BlockIDs: []string{"b1", "b2"},
	})
	if err != nil {
		t.Fatalf("PutSyncwerk: %v", err)
	}
	dirID, err := h.engine.FS.PutSyncwDir(context.Background(), repoID, &fsmgr.SyncwDir{
		Version: 1,
		Dirents: []fsmgr.Dirent{{Name: "a.txt", ID: fileID, Mode: 0100644}},
	})
	if err != nil {
		t.Fatalf("PutSyncwDir: %v", err)
	}
	_ = store

	fileReq, _ := http.NewRequest("GET", "/seafhttp/repo/"+repoID+"/fs/"+fileID, nil)
	fileW := httptest.NewRecorder()
	r.ServeHTTP(fileW, fileReq)
	if fileW.Code != http.StatusOK {
		t.Fatalf("file GET status = %d, want 200, body %s", fileW.Code, fileW.Body.String())
	}
	var fileObj wireFSObject
	if err := json.Unmarshal(fileW.Body.Bytes(), &fileObj); err != nil {
		t.Fatalf("unmarshal file object: %v", err)
	}
	if fileObj.Type != fsmgr.TypeFile || len(fileObj.BlockIDs) != 2 {
		t.Errorf("file object mismatch: %+v", fileObj)
	}

	dirReq, _ := http.NewRequest("GET", "/seafhttp/repo/"+repoID+"/fs/"+dirID, nil)
	dirW := httptest.NewRecorder()
	r.ServeHTTP(dirW, dirReq)
	if dirW.Code != http.StatusOK {
		t.Fatalf("dir GET status = %d, want 200, body %s", dirW.Code, dirW.Body.String())
	}
	var dirObj wireFSObject
	if err := json.Unmarshal(dirW.Body.Bytes(), &dirObj); err != nil {
		t.Fatalf("unmarshal dir object: %v", err)
	}
	if dirObj.Type != fsmgr.TypeDir || len(dirObj.Dirents) != 1 || dirObj.Dirents[0].Name != "a.txt" {
		t.Errorf("dir object mismatch: %+v", dirObj)
	}
}

func TestCheckFS(t *testing.T) {
	h, _ := newTestSyncHandler()
	r := setupRouter()
	r.POST("/seafhttp/repo/:repo_id/check-fs", h.CheckFS)

	repoID := "repo-checkfs"
	presentID, err := h.engine.FS.PutSyncwerk(context.Background(), repoID, &fsmgr.Syncwerk{Version: 1, FileSize: 1, BlockIDs: []string{"x"}})
	if err != nil {
		t.Fatalf("PutSyncwerk: %v", err)
	}

	body := presentID + "\nmissingidmissingidmissingidmissingidmiss"
	req, _ := http.NewRequest("POST", "/seafhttp/repo/"+repoID+"/check-fs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "missingidmissingidmissingidmissingidmiss" {
		t.Errorf("body = %q, want only the missing id", w.Body.String())
	}
}

func TestRecvFS(t *testing.T) {
	h, store := newTestSyncHandler()
	r := setupRouter()
	r.POST("/seafhttp/repo/:repo_id/recv-fs", h.RecvFS)

	repoID := "repo-recvfs"
	payload := []byte(`{"not":"a real fs object, just opaque bytes for the roundtrip"}`)
	items := []recvFSItem{{ID: "cafebabecafebabecafebabecafebabecafebabe", Data: base64.StdEncoding.EncodeToString(payload)}}
	body, _ := json.Marshal(items)

	req, _ := http.NewRequest("POST", "/seafhttp/repo/"+repoID+"/recv-fs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Stored int `json:"stored"`
		Total  int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Stored != 1 || resp.Total != 1 {
		t.Errorf("stored/total = %d/%d, want 1/1", resp.Stored, resp.Total)
	}

	got, err := store.Get(context.Background(), repoID, objstore.KindFS, 1, items[0].ID)
	if err != nil {
		t.Fatalf("expected object to be stored: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("stored bytes mismatch")
	}
}

func TestPermissionCheckDefaultsToReadWrite(t *testing.T) {
	h, _ := newTestSyncHandler()
	r := setupRouter()
	r.GET("/seafhttp/repo/:repo_id/permission-check", h.PermissionCheck)

	req, _ := http.NewRequest("GET", "/seafhttp/repo/repo1/permission-check", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["permission"] != "rw" {
		t.Errorf("permission = %q, want rw", resp["permission"])
	}

	// The handler should have written through to the cache.
	perm, ok := h.engine.Caches.GetPermission("repo1", "00000000-0000-0000-0000-000000000001")
	if !ok || perm != cachemgr.PermReadWrite {
		t.Errorf("cache after permission-check = (%q, %v), want (rw, true)", perm, ok)
	}
}

// TestWriteEndpointsRespectCachedReadOnlyPermission confirms a cached r
// grant (the only way this service can restrict a write, absent an ACL
// table) is actually enforced by a write handler, not just reported by the
// advisory permission-check endpoint.
func TestWriteEndpointsRespectCachedReadOnlyPermission(t *testing.T) {
	h, _ := newTestSyncHandler()
	r := setupRouter()
	repo := r.Group("/seafhttp/repo/:repo_id")
	repo.PUT("/commit/:commit_id", h.PutCommit)

	repoID := "00000000-0000-0000-0000-000000000003"
	userID := "00000000-0000-0000-0000-000000000001"
	h.engine.Caches.PutPermission(repoID, userID, cachemgr.PermRead)

	draft := commitmgr.Commit{
		RepoID:      repoID,
		RootID:      fsmgr.EmptyID,
		CreatorID:   creatorIDFromUser(userID),
		CreatorName: "tester",
		Description: "should be rejected",
		Version:     1,
	}
	commitID := commitmgr.ComputeID(&draft)
	body, _ := json.Marshal(draft)

	req, _ := http.NewRequest("PUT", "/seafhttp/repo/"+repoID+"/commit/"+commitID, bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a read-only caller", w.Code)
	}

	if _, err := h.engine.Commits.GetCommit(context.Background(), repoID, commitID); err == nil {
		t.Error("commit should not have been stored for a read-only caller")
	}
}
