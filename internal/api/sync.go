package api

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/syncwerk/syncwerk-server/internal/asyncio"
	"github.com/syncwerk/syncwerk-server/internal/cachemgr"
	"github.com/syncwerk/syncwerk-server/internal/commitmgr"
	"github.com/syncwerk/syncwerk-server/internal/eventbus"
	"github.com/syncwerk/syncwerk-server/internal/fsmgr"
	"github.com/syncwerk/syncwerk-server/internal/objstore"
	"github.com/syncwerk/syncwerk-server/internal/quotamgr"
	"github.com/syncwerk/syncwerk-server/internal/syncengine"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
	"github.com/gin-gonic/gin"
)

// SyncHandler implements the sync-protocol endpoints the desktop client
// talks to (spec §6.2), against the syncengine.Engine. The repo's UUID
// doubles as the object store's store_id: one Cassandra partition set per
// repo, the same id the REST layer already uses for the library.
type SyncHandler struct {
	engine *syncengine.Engine
}

// NewSyncHandler creates a new sync protocol handler.
func NewSyncHandler(engine *syncengine.Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// RegisterSyncRoutes registers the sync protocol routes.
func (h *SyncHandler) RegisterSyncRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	router.GET("/seafhttp/protocol-version", h.GetProtocolVersion)
	router.POST("/seafhttp/repo/head-commits-multi", authMiddleware, h.GetHeadCommitsMulti)

	repo := router.Group("/seafhttp/repo/:repo_id")
	repo.Use(authMiddleware)
	{
		repo.GET("/commit/HEAD", h.GetHeadCommit)
		repo.GET("/commit/:commit_id", h.GetCommit)
		repo.PUT("/commit/:commit_id", h.PutCommit)

		repo.GET("/block/:block_id", h.GetBlock)
		repo.PUT("/block/:block_id", h.PutBlock)
		repo.POST("/check-blocks", h.CheckBlocks)
		repo.POST("/check-blocks/", h.CheckBlocks)
		repo.GET("/block-map/:file_id", h.GetBlockMap)

		repo.GET("/fs-id-list", h.GetFSIDList)
		repo.GET("/fs-id-list/", h.GetFSIDList)
		repo.GET("/fs/:fs_id", h.GetFSObject)
		repo.POST("/pack-fs", h.PackFS)
		repo.POST("/pack-fs/", h.PackFS)
		repo.POST("/recv-fs", h.RecvFS)
		repo.POST("/recv-fs/", h.RecvFS)
		repo.POST("/check-fs", h.CheckFS)
		repo.POST("/check-fs/", h.CheckFS)

		repo.GET("/permission-check", h.PermissionCheck)
		repo.GET("/permission-check/", h.PermissionCheck)
		repo.GET("/quota-check", h.QuotaCheck)
		repo.GET("/quota-check/", h.QuotaCheck)

		repo.POST("/update-branch", h.UpdateBranch)
		repo.POST("/update-branch/", h.UpdateBranch)
	}
}

// fail maps an internal error to its taxonomy-driven HTTP status (spec §7),
// including the domain codes 441/443/445.
func (h *SyncHandler) fail(c *gin.Context, err error) {
	c.JSON(syncwerkerr.HTTPStatus(syncwerkerr.KindOf(err)), gin.H{"error": err.Error()})
}

// GetProtocolVersion returns the sync protocol version.
// GET /seafhttp/protocol-version
func (h *SyncHandler) GetProtocolVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": 2})
}

// GetHeadCommitsMulti returns head commits for multiple repositories at once.
// POST /seafhttp/repo/head-commits-multi
func (h *SyncHandler) GetHeadCommitsMulti(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	result := make(map[string]gin.H)
	for _, repoID := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		repoID = strings.TrimSpace(repoID)
		if repoID == "" {
			continue
		}
		head, corrupted, err := h.engine.GetHead(c.Request.Context(), repoID, repoID)
		if err != nil {
			continue
		}
		result[repoID] = gin.H{"is_corrupted": corrupted, "head_commit_id": head}
	}
	c.JSON(http.StatusOK, result)
}

// GetHeadCommit returns the HEAD commit id for a repository.
// GET /seafhttp/repo/:repo_id/commit/HEAD
func (h *SyncHandler) GetHeadCommit(c *gin.Context) {
	repoID := c.Param("repo_id")
	head, corrupted, err := h.engine.GetHead(c.Request.Context(), repoID, repoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_corrupted": corrupted, "head_commit_id": head})
}

// GetCommit returns a specific commit object.
// GET /seafhttp/repo/:repo_id/commit/:commit_id
func (h *SyncHandler) GetCommit(c *gin.Context) {
	repoID := c.Param("repo_id")
	commitID := c.Param("commit_id")

	commit, err := h.engine.Commits.GetCommit(c.Request.Context(), repoID, commitID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, commit)
}

// PutCommit stores a commit object, or - for the special path
// PUT /commit/HEAD?head=<commit_id> - drives the push merge loop against
// that already-stored commit (spec §4.5).
// PUT /seafhttp/repo/:repo_id/commit/:commit_id
func (h *SyncHandler) PutCommit(c *gin.Context) {
	repoID := c.Param("repo_id")
	commitID := c.Param("commit_id")
	userID := c.GetString("user_id")

	if commitID == "HEAD" {
		h.pushHead(c, repoID, c.Query("head"), userID, c.GetString("org_id"))
		return
	}

	if !h.canWrite(c, repoID, userID) {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	var commit commitmgr.Commit
	if err := json.Unmarshal(body, &commit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid commit format"})
		return
	}
	if commit.CommitID != "" && commit.CommitID != commitID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commit id mismatch"})
		return
	}
	commit.CommitID = commitID
	if commit.CreatorID == "" {
		// creator_id is a 40-hex id (spec's Commit.Sanity), distinct from the
		// account's own UUID; derive it deterministically so the same user
		// always produces the same creator_id.
		commit.CreatorID = creatorIDFromUser(userID)
	}

	if _, err := h.engine.Commits.AddCommit(c.Request.Context(), repoID, &commit); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// pushHead loads the commit at newHeadID and runs it through the engine's
// push merge loop, shared by PUT commit/HEAD and update-branch.
func (h *SyncHandler) pushHead(c *gin.Context, repoID, newHeadID, userID, orgID string) {
	if newHeadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing head parameter"})
		return
	}
	if !h.canWrite(c, repoID, userID) {
		return
	}
	ctx := c.Request.Context()
	newHead, err := h.engine.Commits.GetCommit(ctx, repoID, newHeadID)
	if err != nil {
		h.fail(c, err)
		return
	}
	result, err := h.engine.PushHead(ctx, orgID, repoID, repoID, newHead, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.engine.Events.PublishRepoOp(eventbus.RepoOpEvent{
		EventType: "sync-upload",
		User:      userID,
		ClientName: c.GetHeader("User-Agent"),
		RepoID:    repoID,
	})
	c.JSON(http.StatusOK, gin.H{"new_head": result.NewHead, "conflict": result.Conflict})
}

// GetBlock retrieves a block by id.
// GET /seafhttp/repo/:repo_id/block/:block_id
func (h *SyncHandler) GetBlock(c *gin.Context) {
	repoID := c.Param("repo_id")
	blockID := c.Param("block_id")

	data, err := h.engine.Blocks.ReadBlock(c.Request.Context(), repoID, blockID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.engine.Events.PublishByteCount(eventbus.ByteCountEvent{
		RepoID: repoID, User: c.GetString("user_id"), Bytes: int64(len(data)), Upload: false,
	})
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// GetBlockMap returns the per-block byte sizes of a file, in the same order
// as its block list, without transferring any block content.
// GET /seafhttp/repo/:repo_id/block-map/:file_id
func (h *SyncHandler) GetBlockMap(c *gin.Context) {
	repoID := c.Param("repo_id")
	fileID := c.Param("file_id")
	ctx := c.Request.Context()

	file, err := h.engine.FS.GetSyncwerk(ctx, repoID, fileID)
	if err != nil {
		h.fail(c, err)
		return
	}

	sizes := make([]int64, len(file.BlockIDs))
	for i, blockID := range file.BlockIDs {
		size, err := h.engine.Blocks.Stat(ctx, repoID, blockID)
		if err != nil {
			h.fail(c, err)
			return
		}
		sizes[i] = size
	}
	c.JSON(http.StatusOK, sizes)
}

// PutBlock stores a block, checking the uploader's quota first.
// PUT /seafhttp/repo/:repo_id/block/:block_id
func (h *SyncHandler) PutBlock(c *gin.Context) {
	repoID := c.Param("repo_id")
	blockID := c.Param("block_id")
	orgID := c.GetString("org_id")
	userID := c.GetString("user_id")

	if !h.canWrite(c, repoID, userID) {
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read block data"})
		return
	}

	ctx := c.Request.Context()
	if h.engine.Quotas.CheckQuota(ctx, orgID, repoID, int64(len(data)), nil) == quotamgr.Exceeded {
		h.fail(c, syncwerkerr.New(syncwerkerr.QuotaExceeded, "sync.PutBlock", nil))
		return
	}

	w, err := h.engine.Blocks.OpenWrite(repoID, blockID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := w.Write(data); err != nil {
		w.Discard()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to buffer block"})
		return
	}
	if err := w.CommitBlock(ctx); err != nil {
		h.fail(c, err)
		return
	}

	h.engine.Events.PublishByteCount(eventbus.ByteCountEvent{
		RepoID: repoID, User: userID, Bytes: int64(len(data)), Upload: true,
	})
	c.Status(http.StatusOK)
}

// CheckBlocks returns the newline-separated subset of posted block ids that
// are not yet present in storage (for client-side dedup).
// POST /seafhttp/repo/:repo_id/check-blocks
func (h *SyncHandler) CheckBlocks(c *gin.Context) {
	repoID := c.Param("repo_id")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	var ids []string
	for _, id := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		if id != "" {
			ids = append(ids, id)
		}
	}

	missing, err := h.engine.Blocks.CheckMissing(c.Request.Context(), repoID, ids)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, strings.Join(missing, "\n"))
}

// GetFSIDList returns the fs object ids reachable from server-head that the
// client (at client-head) doesn't already have.
// GET /seafhttp/repo/:repo_id/fs-id-list
func (h *SyncHandler) GetFSIDList(c *gin.Context) {
	repoID := c.Param("repo_id")
	ctx := c.Request.Context()

	serverHeadID := c.Query("server-head")
	if serverHeadID == "" {
		c.JSON(http.StatusOK, []string{})
		return
	}
	serverHead, err := h.engine.Commits.GetCommit(ctx, repoID, serverHeadID)
	if err != nil {
		h.fail(c, err)
		return
	}

	var clientHead *commitmgr.Commit
	if clientHeadID := c.Query("client-head"); clientHeadID != "" {
		clientHead, err = h.engine.Commits.GetCommit(ctx, repoID, clientHeadID)
		if err != nil {
			h.fail(c, err)
			return
		}
	}

	ids, err := h.engine.FsIDList(ctx, repoID, serverHead, clientHead, c.Query("dir-only") == "1")
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ids)
}

// wireDirent mirrors fsmgr.Dirent for the sync wire format.
type wireDirent struct {
	Name     string  `json:"name"`
	ID       string  `json:"id"`
	Mode     uint32  `json:"mode"`
	Mtime    int64   `json:"mtime"`
	Size     *int64  `json:"size,omitempty"`
	Modifier *string `json:"modifier,omitempty"`
}

// wireFSObject is the JSON shape an fs object (file or directory manifest)
// is served as over the sync wire protocol.
type wireFSObject struct {
	Type     int          `json:"type"`
	ID       string       `json:"id"`
	Size     int64        `json:"size,omitempty"`
	BlockIDs []string     `json:"block_ids,omitempty"`
	Dirents  []wireDirent `json:"dirents,omitempty"`
}

func (h *SyncHandler) fetchFSObject(ctx *gin.Context, repoID, fsID string) (*wireFSObject, error) {
	isDir, err := h.engine.FS.ObjectIsDir(ctx.Request.Context(), repoID, fsID)
	if err != nil {
		return nil, err
	}
	if isDir {
		d, err := h.engine.FS.GetSyncwDir(ctx.Request.Context(), repoID, fsID)
		if err != nil {
			return nil, err
		}
		dirents := make([]wireDirent, len(d.Dirents))
		for i, e := range d.Dirents {
			dirents[i] = wireDirent{Name: e.Name, ID: e.ID, Mode: e.Mode, Mtime: e.MTime, Size: e.Size, Modifier: e.Modifier}
		}
		return &wireFSObject{Type: fsmgr.TypeDir, ID: fsID, Dirents: dirents}, nil
	}
	f, err := h.engine.FS.GetSyncwerk(ctx.Request.Context(), repoID, fsID)
	if err != nil {
		return nil, err
	}
	return &wireFSObject{Type: fsmgr.TypeFile, ID: fsID, Size: int64(f.FileSize), BlockIDs: f.BlockIDs}, nil
}

// GetFSObject retrieves a single filesystem object (file or directory manifest).
// GET /seafhttp/repo/:repo_id/fs/:fs_id
func (h *SyncHandler) GetFSObject(c *gin.Context) {
	obj, err := h.fetchFSObject(c, c.Param("repo_id"), c.Param("fs_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// PackFS packs multiple fs objects into a single response, skipping any
// that are missing (best-effort batch fetch).
// POST /seafhttp/repo/:repo_id/pack-fs
func (h *SyncHandler) PackFS(c *gin.Context) {
	repoID := c.Param("repo_id")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	objects := make([]wireFSObject, 0)
	for _, fsID := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		if fsID == "" {
			continue
		}
		obj, err := h.fetchFSObject(c, repoID, fsID)
		if err != nil {
			continue
		}
		objects = append(objects, *obj)
	}
	c.JSON(http.StatusOK, objects)
}

// recvFSItem is one fs object in a recv-fs batch: the id the client
// computed locally and the already-encoded (canonical JSON + deflate)
// object bytes fsmgr's own codec would have produced for it.
type recvFSItem struct {
	ID   string `json:"id"`
	Data string `json:"data"` // base64
}

// RecvFS accepts a batch of client-computed fs objects and fans their
// writes out across the async object I/O scheduler (spec §4.10), so many
// small directory/file manifests land without serializing one write per
// request.
// POST /seafhttp/repo/:repo_id/recv-fs
func (h *SyncHandler) RecvFS(c *gin.Context) {
	repoID := c.Param("repo_id")
	if !h.canWrite(c, repoID, c.GetString("user_id")) {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	var items []recvFSItem
	if err := json.Unmarshal(body, &items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recv-fs batch"})
		return
	}

	reqs := make([]asyncio.Request, 0, len(items))
	for _, it := range items {
		raw, err := base64.StdEncoding.DecodeString(it.Data)
		if err != nil || it.ID == "" {
			continue
		}
		reqs = append(reqs, asyncio.Request{
			Op: asyncio.OpWrite, StoreID: repoID, Kind: objstore.KindFS,
			Version: 1, ID: it.ID, Data: raw, Sync: true,
		})
	}

	stored := 0
	for _, comp := range h.engine.Async.SubmitAll(c.Request.Context(), reqs) {
		if comp.Success {
			stored++
		}
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored, "total": len(reqs)})
}

// CheckFS returns the newline-separated subset of posted fs ids that are
// not yet present in storage.
// POST /seafhttp/repo/:repo_id/check-fs
func (h *SyncHandler) CheckFS(c *gin.Context) {
	repoID := c.Param("repo_id")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	ctx := c.Request.Context()
	var needed []string
	for _, fsID := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		if fsID == "" {
			continue
		}
		exists, err := h.engine.Objects.Exists(ctx, repoID, objstore.KindFS, 1, fsID)
		if err != nil || !exists {
			needed = append(needed, fsID)
		}
	}
	c.String(http.StatusOK, strings.Join(needed, "\n"))
}

// PermissionCheck reports the caller's permission on the repository.
// GET /seafhttp/repo/:repo_id/permission-check
func (h *SyncHandler) PermissionCheck(c *gin.Context) {
	repoID := c.Param("repo_id")
	user := c.GetString("user_id")

	perm, ok := h.engine.Caches.GetPermission(repoID, user)
	if !ok {
		// No ACL table is part of this service's own schema; absent a
		// cached grant, default to read-write for an authenticated caller.
		perm = cachemgr.PermReadWrite
		h.engine.Caches.PutPermission(repoID, user, perm)
	}
	c.JSON(http.StatusOK, gin.H{"permission": string(perm)})
}

// canWrite gates a write endpoint on the permission cache: a cached
// PermRead grant turns the request into a 403, same default-read-write
// behavior as PermissionCheck otherwise (absent any ACL table, there is
// nothing to restrict a caller unless something has explicitly cached a
// read-only grant for them).
func (h *SyncHandler) canWrite(c *gin.Context, repoID, userID string) bool {
	if perm, ok := h.engine.Caches.GetPermission(repoID, userID); ok && perm == cachemgr.PermRead {
		c.JSON(http.StatusForbidden, gin.H{"error": "read-only permission"})
		return false
	}
	return true
}

// QuotaCheck reports whether the caller still has quota headroom.
// GET /seafhttp/repo/:repo_id/quota-check
func (h *SyncHandler) QuotaCheck(c *gin.Context) {
	repoID := c.Param("repo_id")
	orgID := c.GetString("org_id")

	result := h.engine.Quotas.CheckQuota(c.Request.Context(), orgID, repoID, 0, nil)
	c.JSON(http.StatusOK, gin.H{"has_quota": result != quotamgr.Exceeded})
}

// UpdateBranch advances the repo's master branch to an already-stored
// commit, running it through the same push merge loop as PUT commit/HEAD.
// POST /seafhttp/repo/:repo_id/update-branch
func (h *SyncHandler) UpdateBranch(c *gin.Context) {
	h.pushHead(c, c.Param("repo_id"), c.Query("head"), c.GetString("user_id"), c.GetString("org_id"))
}

// creatorIDFromUser derives a commit's 40-hex creator_id from an account's
// UUID, so every commit a user creates carries the same identifier without
// requiring the account UUID itself to be 40-hex.
func creatorIDFromUser(userID string) string {
	sum := sha1.Sum([]byte(userID))
	return hex.EncodeToString(sum[:])
}
