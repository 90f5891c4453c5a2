// Package syncengine ties C1-C11 together behind one explicit Engine
// struct (spec §9: "avoid a process-wide mutable singleton; pass a
// context/engine struct explicitly").
package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncwerk/syncwerk-server/internal/asyncio"
	"github.com/syncwerk/syncwerk-server/internal/blockmgr"
	"github.com/syncwerk/syncwerk-server/internal/branchmgr"
	"github.com/syncwerk/syncwerk-server/internal/cachemgr"
	"github.com/syncwerk/syncwerk-server/internal/chunker"
	"github.com/syncwerk/syncwerk-server/internal/commitmgr"
	"github.com/syncwerk/syncwerk-server/internal/eventbus"
	"github.com/syncwerk/syncwerk-server/internal/fsmgr"
	"github.com/syncwerk/syncwerk-server/internal/mergemgr"
	"github.com/syncwerk/syncwerk-server/internal/objstore"
	"github.com/syncwerk/syncwerk-server/internal/quotamgr"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// Engine bundles every manager a sync operation needs. One Engine is
// constructed at startup (internal/api wires it) and passed explicitly to
// every handler; there is no package-level global.
type Engine struct {
	Objects  objstore.Store
	Blocks   *blockmgr.Manager
	Commits  *commitmgr.Manager
	FS       *fsmgr.Manager
	Branches *branchmgr.Manager
	Quotas   *quotamgr.Manager
	Caches   *cachemgr.Caches
	Async    *asyncio.Scheduler
	Events   *eventbus.Bus

	// Adaptive holds the shared CDC chunk-size estimator built from the
	// chunking config when adaptive sizing is enabled (nil otherwise). The
	// engine does not read it; fsmgr.IndexBlocks uses an estimator only when
	// one is passed in IndexOptions.Adaptive.
	Adaptive *chunker.AdaptiveChunker
}

// ErrCorrupted describes a head commit or root that fails integrity checks.
// GetHead does not return it: it reports a corrupted head through its
// corrupted result with a nil error (spec §6.2's `is_corrupted:1` contract).
var ErrCorrupted = errors.New("syncengine: head commit or root is corrupted")

// GetHead returns the repo's current master commit id. corrupted is true
// (err nil) when master exists but its commit object fails to decode,
// matching spec §6.2's GET /repo/<id>/commit/HEAD contract of returning a
// flagged-corrupted response rather than a hard error.
func (e *Engine) GetHead(ctx context.Context, repoID, storeID string) (commitID string, corrupted bool, err error) {
	head, err := e.Branches.GetBranch(ctx, repoID, "master")
	if err != nil {
		return "", false, err
	}
	if head == "" {
		return "", false, nil
	}
	if _, err := e.Commits.GetCommit(ctx, storeID, head); err != nil {
		return head, true, nil
	}
	return head, false, nil
}

// PushResult is the outcome of PushHead.
type PushResult struct {
	NewHead  string
	Conflict bool
}

// PushHead implements the push merge loop of spec §4.5: checks quota
// headroom up front (so an over-quota push has no side effects, matching
// spec §8 scenario S5), loads master, fast-forwards if the client's base
// matches it, otherwise three-way merges, then CAS-advances master,
// retrying on conflict up to branchmgr.MaxCASRetries times with a
// randomized backoff between attempts. On success it recomputes and
// persists the repo's usage and drops any cached virtual-repo-origin
// mapping for repoID (spec §4.5 step 6).
func (e *Engine) PushHead(ctx context.Context, orgID, repoID, storeID string, newHead *commitmgr.Commit, committerID string) (PushResult, error) {
	if e.Quotas.CheckQuota(ctx, orgID, repoID, 0, nil) == quotamgr.Exceeded {
		return PushResult{}, syncwerkerr.New(syncwerkerr.QuotaExceeded, "syncengine.PushHead", nil)
	}

	for attempt := 0; attempt < branchmgr.MaxCASRetries; attempt++ {
		currentHeadID, err := e.Branches.GetBranch(ctx, repoID, "master")
		if err != nil {
			return PushResult{}, err
		}

		var merged *commitmgr.Commit
		conflict := false

		switch {
		case currentHeadID == "" || currentHeadID == newHead.ParentID:
			// Fast-forward: either this is the first commit or the
			// client's base is still master.
			merged = newHead
		default:
			currentHead, err := e.Commits.GetCommit(ctx, storeID, currentHeadID)
			if err != nil {
				return PushResult{}, err
			}
			// The merge ancestor is the root tree of the client's base commit.
			baseRoot := fsmgr.EmptyID
			if newHead.ParentID != "" {
				baseCommit, err := e.Commits.GetCommit(ctx, storeID, newHead.ParentID)
				if err != nil {
					return PushResult{}, err
				}
				baseRoot = baseCommit.RootID
			}
			result, err := mergemgr.Merge(ctx, e.FS, storeID, baseRoot, currentHead.RootID, newHead.RootID, committerID)
			if err != nil {
				return PushResult{}, err
			}
			conflict = result.Conflict
			desc := "Auto merge by system"
			merged = &commitmgr.Commit{
				RootID:         result.RootID,
				RepoID:         repoID,
				CreatorID:      newHead.CreatorID,
				CreatorName:    newHead.CreatorName,
				Description:    desc,
				CTime:          newHead.CTime,
				ParentID:       currentHeadID,
				SecondParentID: newHead.CommitID,
				Version:        newHead.Version,
				Conflict:       conflict,
				NewMerge:       true,
			}
		}

		mergedID, err := e.Commits.AddCommit(ctx, storeID, merged)
		if err != nil {
			return PushResult{}, err
		}

		casErr := e.Branches.CASUpdate(ctx, repoID, "master", mergedID, currentHeadID)
		if casErr == nil {
			e.afterPush(ctx, orgID, repoID, storeID, merged.RootID, committerID)
			return PushResult{NewHead: mergedID, Conflict: conflict}, nil
		}
		if !errors.Is(casErr, branchmgr.ErrConflict) {
			return PushResult{}, casErr
		}
		if err := branchmgr.RetryBackoff(ctx); err != nil {
			return PushResult{}, err
		}
	}
	return PushResult{}, fmt.Errorf("syncengine.PushHead: %w", branchmgr.ErrRetriesExhausted)
}

// afterPush runs the spec §4.5 step-6 post-push hooks: recompute and
// persist the repo's size/file-count usage, drop any stale virtual-repo
// origin mapping cached for it, and emit a repo-op event. Usage recompute
// walks the whole new tree, so a failure there is ignored (nothing is
// logged) rather than failing the push itself — the push already landed.
func (e *Engine) afterPush(ctx context.Context, orgID, repoID, storeID, rootID, committerID string) {
	if info, err := e.FS.GetFileCountInfo(ctx, storeID, rootID); err == nil {
		e.Quotas.UpdateUsage(ctx, orgID, repoID, info.TotalSize, info.Files)
	}
	e.Caches.InvalidateVirtualRepoInfo(repoID)
	e.Events.PublishRepoOp(eventbus.RepoOpEvent{
		EventType: "repo-update",
		User:      committerID,
		RepoID:    repoID,
	})
}

// FsIDList returns the ids reachable from serverHead's root that are not
// reachable from clientHead's root (spec §6.2 fs-id-list). When dirOnly is
// true, only directory ids are considered.
func (e *Engine) FsIDList(ctx context.Context, storeID string, serverHead, clientHead *commitmgr.Commit, dirOnly bool) ([]string, error) {
	haveSet := map[string]struct{}{}
	if clientHead != nil {
		err := e.FS.TraverseTree(ctx, storeID, clientHead.RootID, func(id string, isDir bool) error {
			haveSet[id] = struct{}{}
			return nil
		}, true)
		if err != nil {
			return nil, err
		}
	}

	var missing []string
	err := e.FS.TraverseTree(ctx, storeID, serverHead.RootID, func(id string, isDir bool) error {
		if dirOnly && !isDir {
			return nil
		}
		if _, ok := haveSet[id]; ok {
			return fsmgr.StopDescent
		}
		missing = append(missing, id)
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return missing, nil
}
