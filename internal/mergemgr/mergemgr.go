// Package mergemgr implements the merge engine (C6): three-way tree merge
// and conflict-file naming.
package mergemgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/syncwerk/syncwerk-server/internal/fsmgr"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// Result is the outcome of a three-way merge.
type Result struct {
	RootID   string
	Conflict bool
}

// Merge performs a three-way tree merge over base/ours/theirs, producing a
// new root id without mutating any input tree (spec §4.6). committerID
// (the 40-hex user identifier used as the conflict-file suffix) must be
// non-empty: spec §9 resolves the "email passthrough" open question by
// failing with BAD_ARGS rather than silently using a nil suffix.
func Merge(ctx context.Context, fs *fsmgr.Manager, storeID, base, ours, theirs, committerID string) (Result, error) {
	if committerID == "" {
		return Result{}, syncwerkerr.BadArgs("mergemgr.Merge", fmt.Errorf("committer id is required for conflict naming"))
	}
	root, conflict, err := mergeDir(ctx, fs, storeID, base, ours, theirs, committerID, time.Now())
	if err != nil {
		return Result{}, err
	}
	return Result{RootID: root, Conflict: conflict}, nil
}

// mergeDir merges one directory level and returns the merged dir's id plus
// whether any conflict occurred at or below it.
func mergeDir(ctx context.Context, fs *fsmgr.Manager, storeID, baseID, oursID, theirsID, committerID string, now time.Time) (string, bool, error) {
	if oursID == theirsID {
		return oursID, false, nil
	}

	baseDir, err := safeGetDir(ctx, fs, storeID, baseID)
	if err != nil {
		return "", false, err
	}
	oursDir, err := safeGetDir(ctx, fs, storeID, oursID)
	if err != nil {
		return "", false, err
	}
	theirsDir, err := safeGetDir(ctx, fs, storeID, theirsID)
	if err != nil {
		return "", false, err
	}

	names := map[string]struct{}{}
	baseByName, oursByName, theirsByName := byName(baseDir), byName(oursDir), byName(theirsDir)
	for n := range baseByName {
		names[n] = struct{}{}
	}
	for n := range oursByName {
		names[n] = struct{}{}
	}
	for n := range theirsByName {
		names[n] = struct{}{}
	}

	var merged []fsmgr.Dirent
	anyConflict := false

	for name := range names {
		b, bOK := baseByName[name]
		o, oOK := oursByName[name]
		t, tOK := theirsByName[name]

		switch classify(bOK, oOK, tOK, b, o, t) {
		case outcomeKeepOurs:
			if oOK {
				merged = append(merged, o)
			}
		case outcomeKeepTheirs:
			if tOK {
				merged = append(merged, t)
			}
		case outcomeKeepBase:
			if bOK {
				merged = append(merged, b)
			}
		case outcomeUnchanged:
			// ours == theirs (including both absent); take whichever exists.
			if oOK {
				merged = append(merged, o)
			} else if tOK {
				merged = append(merged, t)
			}
		case outcomeRecurse:
			mergedID, conflict, err := mergeDir(ctx, fs, storeID, b.ID, o.ID, t.ID, committerID, now)
			if err != nil {
				return "", false, err
			}
			anyConflict = anyConflict || conflict
			d := o
			d.ID = mergedID
			merged = append(merged, d)
		case outcomeConflict:
			anyConflict = true
			if oOK {
				merged = append(merged, o)
			}
			if tOK {
				renamed := t
				renamed.Name = genConflictPath(t.Name, committerID, now, takenNames(merged))
				merged = append(merged, renamed)
			}
		}
	}

	id, err := putDir(ctx, fs, storeID, merged)
	if err != nil {
		return "", false, err
	}
	return id, anyConflict, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeKeepOurs
	outcomeKeepTheirs
	outcomeKeepBase
	outcomeRecurse
	outcomeConflict
)

// classify implements the tuple classification of spec §4.6: unchanged on
// both sides, changed on one side only, changed identically on both, or a
// genuine conflict. Deletion-vs-modification always resolves in favor of
// the modification (spec §4.6 edge case: "no silent data loss").
func classify(bOK, oOK, tOK bool, b, o, t fsmgr.Dirent) outcome {
	changedFromBase := func(present bool, e fsmgr.Dirent) bool {
		if !bOK {
			return present
		}
		if !present {
			return true
		}
		return e.ID != b.ID || e.IsDir() != b.IsDir()
	}
	oChanged := changedFromBase(oOK, o)
	tChanged := changedFromBase(tOK, t)

	switch {
	case !oChanged && !tChanged:
		return outcomeUnchanged
	case oChanged && !tChanged:
		return outcomeKeepOurs
	case !oChanged && tChanged:
		return outcomeKeepTheirs
	}

	// Both sides changed from base.
	if oOK && tOK && o.ID == t.ID && o.IsDir() == t.IsDir() {
		return outcomeUnchanged
	}
	if !oOK && tOK {
		// ours deleted, theirs modified: modification wins.
		return outcomeKeepTheirs
	}
	if oOK && !tOK {
		// theirs deleted, ours modified: modification wins.
		return outcomeKeepOurs
	}
	if oOK && tOK && o.IsDir() && t.IsDir() {
		return outcomeRecurse
	}
	return outcomeConflict
}

func byName(d *fsmgr.SyncwDir) map[string]fsmgr.Dirent {
	m := make(map[string]fsmgr.Dirent, len(d.Dirents))
	for _, e := range d.Dirents {
		m[e.Name] = e
	}
	return m
}

func safeGetDir(ctx context.Context, fs *fsmgr.Manager, storeID, id string) (*fsmgr.SyncwDir, error) {
	if id == "" {
		id = fsmgr.EmptyID
	}
	return fs.GetSyncwDir(ctx, storeID, id)
}

// putDir stores one merged directory level; a storage error is returned to
// mergeDir, which aborts the merge with it.
func putDir(ctx context.Context, fs *fsmgr.Manager, storeID string, dirents []fsmgr.Dirent) (string, error) {
	return fs.PutSyncwDir(ctx, storeID, &fsmgr.SyncwDir{Version: 1, Dirents: dirents})
}

func takenNames(merged []fsmgr.Dirent) map[string]struct{} {
	taken := make(map[string]struct{}, len(merged))
	for _, e := range merged {
		taken[e.Name] = struct{}{}
	}
	return taken
}

// genConflictPath renames a conflicting "theirs" entry, suffixing it with
// the committer id and the current time, disambiguated by a numeric tail
// on collision (spec §4.6).
func genConflictPath(name, committerID string, now time.Time, taken map[string]struct{}) string {
	ext := ""
	base := name
	if idx := strings.LastIndex(name, "."); idx > 0 {
		ext = name[idx:]
		base = name[:idx]
	}
	stamp := now.UTC().Format("2006-01-02-150405")
	candidate := fmt.Sprintf("%s (SFConflict %s %s)%s", base, committerID, stamp, ext)
	if _, exists := taken[candidate]; !exists {
		return candidate
	}
	for n := 2; ; n++ {
		c := fmt.Sprintf("%s (SFConflict %s %s %d)%s", base, committerID, stamp, n, ext)
		if _, exists := taken[c]; !exists {
			return c
		}
	}
}
