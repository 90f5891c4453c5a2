package commitmgr

import (
	"container/heap"
	"context"
	"errors"

	"github.com/syncwerk/syncwerk-server/internal/objstore"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// frontierItem is one pending commit in the traversal frontier, ordered by
// ctime descending (latest first) per spec §4.4/§9.
type frontierItem struct {
	id    string
	ctime int64
}

type frontier []frontierItem

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].ctime > f[j].ctime }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)         { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// TraverseResult reports the resume point for pagination callers.
type TraverseResult struct {
	// ResumeID is non-empty when the walk stopped early (limit reached)
	// with exactly one element left in the frontier.
	ResumeID string
}

// TraverseTree performs a best-first (time-descending) walk of the commit
// DAG starting at head. cb is invoked once per visited commit. If limit > 0
// and at least limit commits have been visited and the frontier holds <= 1
// element, the walk stops early and the remaining element (if any) is
// reported as the resume point. skipErrors causes a missing parent or a cb
// failure to be skipped (nothing is logged) instead of aborting the walk.
func (m *Manager) TraverseTree(ctx context.Context, storeID, head string, cb func(c *Commit) error, limit int, skipErrors bool) (TraverseResult, error) {
	return m.traverse(ctx, storeID, head, cb, limit, skipErrors, false)
}

// TraverseTreeTruncated is the "_truncated" variant: missing parents are
// treated as natural terminals (shallow history tolerated) rather than
// errors, regardless of skipErrors.
func (m *Manager) TraverseTreeTruncated(ctx context.Context, storeID, head string, cb func(c *Commit) error, limit int) (TraverseResult, error) {
	return m.traverse(ctx, storeID, head, cb, limit, false, true)
}

func (m *Manager) traverse(ctx context.Context, storeID, head string, cb func(c *Commit) error, limit int, skipErrors, truncated bool) (TraverseResult, error) {
	if head == "" {
		return TraverseResult{}, nil
	}
	seen := map[string]struct{}{head: {}}
	f := &frontier{}
	heap.Init(f)

	headCommit, err := m.GetCommit(ctx, storeID, head)
	if err != nil {
		if truncated && errors.Is(err, objstore.ErrNotFound) {
			return TraverseResult{}, nil
		}
		return TraverseResult{}, err
	}
	heap.Push(f, frontierItem{id: head, ctime: headCommit.CTime})

	visited := 0
	for f.Len() > 0 {
		if limit > 0 && visited >= limit && f.Len() <= 1 {
			var resume string
			if f.Len() == 1 {
				resume = (*f)[0].id
			}
			return TraverseResult{ResumeID: resume}, nil
		}

		item := heap.Pop(f).(frontierItem)
		c, err := m.GetCommit(ctx, storeID, item.id)
		if err != nil {
			if truncated && errors.Is(err, objstore.ErrNotFound) {
				continue
			}
			if skipErrors {
				continue
			}
			return TraverseResult{}, err
		}
		visited++

		if err := cb(c); err != nil {
			if skipErrors {
				continue
			}
			return TraverseResult{}, err
		}

		for _, parent := range []string{c.ParentID, c.SecondParentID} {
			if parent == "" {
				continue
			}
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			pc, err := m.GetCommit(ctx, storeID, parent)
			if err != nil {
				if truncated && errors.Is(err, objstore.ErrNotFound) {
					continue
				}
				if skipErrors {
					continue
				}
				return TraverseResult{}, syncwerkerr.New(syncwerkerr.Corrupted, "commitmgr.traverse", err)
			}
			heap.Push(f, frontierItem{id: parent, ctime: pc.CTime})
		}
	}
	return TraverseResult{}, nil
}
