// Package branchmgr implements the branch manager (C5): named refs per
// repo with compare-and-swap update, backed by a Cassandra lightweight
// transaction.
package branchmgr

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/apache/cassandra-gocql-driver/v2"
	"github.com/syncwerk/syncwerk-server/internal/db"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// Migration is the DDL for the branches table; db.Migrate() runs the same
// statement from its own copy (migrationCreateBranches).
// repo_id+name is the full key: only "master" is used by the sync
// protocol (spec §3), but the schema allows other named refs.
const Migration = `
CREATE TABLE IF NOT EXISTS branches (
	repo_id UUID,
	name TEXT,
	commit_id TEXT,
	updated_at TIMESTAMP,
	PRIMARY KEY ((repo_id), name)
)`

// ErrConflict is returned by CAS when expectedOld does not match the
// stored value at the moment of the conditional update.
var ErrConflict = errors.New("branchmgr: compare-and-swap conflict")

// Manager exposes get/set/CAS over the branches table.
type Manager struct {
	session *gocql.Session
}

func New(database *db.DB) *Manager {
	return &Manager{session: database.Session()}
}

// GetBranch returns the commit id name currently points to, or "" if unset.
func (m *Manager) GetBranch(ctx context.Context, repoID, name string) (string, error) {
	var commitID string
	err := m.session.Query(
		`SELECT commit_id FROM branches WHERE repo_id = ? AND name = ?`, repoID, name,
	).WithContext(ctx).Scan(&commitID)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", syncwerkerr.IOErr("branchmgr.GetBranch", err)
	}
	return commitID, nil
}

// SetBranch unconditionally sets name to commitID (used for repo creation,
// not for concurrent pushes — use CASUpdate there).
func (m *Manager) SetBranch(ctx context.Context, repoID, name, commitID string) error {
	err := m.session.Query(
		`INSERT INTO branches (repo_id, name, commit_id, updated_at) VALUES (?, ?, ?, ?)`,
		repoID, name, commitID, time.Now(),
	).WithContext(ctx).Exec()
	if err != nil {
		return syncwerkerr.IOErr("branchmgr.SetBranch", err)
	}
	return nil
}

// CASUpdate advances name from expectedOld to newID using a Cassandra
// lightweight transaction (conditional UPDATE/INSERT), per spec §4.5.
// Returns ErrConflict (not an error the caller should log loudly) if the
// branch's current value differs from expectedOld at the instant of
// application — the caller is expected to reload state and retry.
func (m *Manager) CASUpdate(ctx context.Context, repoID, name, newID, expectedOld string) error {
	if expectedOld == "" {
		// No existing branch: use IF NOT EXISTS instead of IF commit_id = ?.
		// On rejection Cassandra returns the existing row's non-key columns.
		var existingCommit string
		var existingUpdated time.Time
		applied, err := m.session.Query(
			`INSERT INTO branches (repo_id, name, commit_id, updated_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			repoID, name, newID, time.Now(),
		).WithContext(ctx).ScanCAS(&existingCommit, &existingUpdated)
		if err != nil {
			return syncwerkerr.IOErr("branchmgr.CASUpdate", err)
		}
		if !applied {
			return ErrConflict
		}
		return nil
	}

	var existingCommit string
	applied, err := m.session.Query(
		`UPDATE branches SET commit_id = ?, updated_at = ? WHERE repo_id = ? AND name = ? IF commit_id = ?`,
		newID, time.Now(), repoID, name, expectedOld,
	).WithContext(ctx).ScanCAS(&existingCommit)
	if err != nil {
		return syncwerkerr.IOErr("branchmgr.CASUpdate", err)
	}
	if !applied {
		return ErrConflict
	}
	return nil
}

// MaxCASRetries and the uniform random backoff window bound the push merge
// loop (spec §4.5: "Bound retries at 10; between retries sleep a uniform
// random 100-1000 ms").
const (
	MaxCASRetries   = 10
	backoffMinMS    = 100
	backoffMaxMS    = 1000
)

// RetryBackoff sleeps a uniform random duration in [100ms, 1000ms), for
// callers implementing the push merge retry loop (syncengine).
func RetryBackoff(ctx context.Context) error {
	d := time.Duration(backoffMinMS+rand.Intn(backoffMaxMS-backoffMinMS)) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrRetriesExhausted is returned when the CAS retry bound is hit.
var ErrRetriesExhausted = fmt.Errorf("branchmgr: exceeded %d CAS retries", MaxCASRetries)
