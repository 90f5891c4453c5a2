// Package quotamgr implements the quota manager (C7): per-user/per-org
// effective quota and live usage, including virtual-repo origin resolution.
package quotamgr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/cassandra-gocql-driver/v2"
	"github.com/syncwerk/syncwerk-server/internal/db"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// ParseQuotaString parses a config value with an optional K/M/G/T decimal
// suffix (10^3/10^6/10^9/10^12) into bytes, per spec §4.7. An empty string
// means unlimited, represented as -1.
func ParseQuotaString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1, nil
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1_000_000_000
		s = s[:len(s)-1]
	case 't', 'T':
		mult = 1_000_000_000_000
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("quotamgr: malformed quota value %q: %w", s, err)
	}
	return n * mult, nil
}

// Result mirrors spec §4.7's check_quota return contract.
type Result int

const (
	Within Result = iota
	Exceeded
	Err
)

// Manager resolves effective quotas and usage against the libraries table
// and the virtual_repos origin-resolution table; it does not query a users
// table.
type Manager struct {
	session      *gocql.Session
	defaultQuota int64 // bytes, -1 = unlimited
}

func New(database *db.DB, defaultQuota int64) *Manager {
	return &Manager{session: database.Session(), defaultQuota: defaultQuota}
}

// EffectiveQuota returns userQuota if set (non-nil, >= 0) else the
// configured default (which may itself be unlimited, -1).
func (m *Manager) EffectiveQuota(userQuota *int64) int64 {
	if userQuota != nil && *userQuota >= 0 {
		return *userQuota
	}
	return m.defaultQuota
}

// resolveOrigin follows a virtual repo to its origin's repo id, or returns
// repoID unchanged if it is not a virtual repo.
func (m *Manager) resolveOrigin(ctx context.Context, repoID string) (string, error) {
	var originID string
	err := m.session.Query(
		`SELECT origin_repo_id FROM virtual_repos WHERE repo_id = ?`, repoID,
	).WithContext(ctx).Scan(&originID)
	if err == gocql.ErrNotFound {
		return repoID, nil
	}
	if err != nil {
		return "", syncwerkerr.IOErr("quotamgr.resolveOrigin", err)
	}
	return originID, nil
}

func (m *Manager) ownerOf(ctx context.Context, orgID, repoID string) (string, error) {
	var ownerID string
	err := m.session.Query(
		`SELECT owner_id FROM libraries WHERE org_id = ? AND library_id = ?`, orgID, repoID,
	).WithContext(ctx).Scan(&ownerID)
	if err != nil {
		return "", syncwerkerr.IOErr("quotamgr.ownerOf", err)
	}
	return ownerID, nil
}

// usageForOwner sums size_bytes over all of owner's non-virtual repos
// within an org (spec §4.7 step 3). Virtual repos share their origin's
// physical storage, so they are excluded from the sum to avoid double
// counting.
func (m *Manager) usageForOwner(ctx context.Context, orgID, ownerID string) (int64, error) {
	iter := m.session.Query(
		`SELECT library_id, size_bytes FROM libraries WHERE org_id = ? AND owner_id = ? ALLOW FILTERING`,
		orgID, ownerID,
	).WithContext(ctx).Iter()

	var total int64
	var libID string
	var size int64
	for iter.Scan(&libID, &size) {
		isVirtual, err := m.isVirtual(ctx, libID)
		if err != nil {
			iter.Close()
			return 0, err
		}
		if isVirtual {
			continue
		}
		total += size
	}
	if err := iter.Close(); err != nil {
		return 0, syncwerkerr.IOErr("quotamgr.usageForOwner", err)
	}
	return total, nil
}

func (m *Manager) isVirtual(ctx context.Context, repoID string) (bool, error) {
	var originID string
	err := m.session.Query(
		`SELECT origin_repo_id FROM virtual_repos WHERE repo_id = ?`, repoID,
	).WithContext(ctx).Scan(&originID)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, syncwerkerr.IOErr("quotamgr.isVirtual", err)
	}
	return true, nil
}

// UpdateUsage persists a repo's recomputed size/file count into the
// libraries table (spec §4.5 step 6: a push recomputes quota usage rather
// than leaving it to go stale until the next explicit accounting pass).
func (m *Manager) UpdateUsage(ctx context.Context, orgID, repoID string, sizeBytes, fileCount int64) error {
	err := m.session.Query(
		`UPDATE libraries SET size_bytes = ?, file_count = ? WHERE org_id = ? AND library_id = ?`,
		sizeBytes, fileCount, orgID, repoID,
	).WithContext(ctx).Exec()
	if err != nil {
		return syncwerkerr.IOErr("quotamgr.UpdateUsage", err)
	}
	return nil
}

// CheckQuota implements spec §4.7's check_quota(repo, delta): resolves the
// virtual-repo origin, finds the owner, sums usage across the owner's
// non-virtual repos, and compares against the owner's effective quota.
// Returns Within (0), Exceeded (1), or Err (-1) on internal error —
// matching the "0|1|-1" contract literally rather than translating it to a
// Go error, since callers (the HTTP layer) need to distinguish "exceeded"
// from "couldn't tell" explicitly.
func (m *Manager) CheckQuota(ctx context.Context, orgID, repoID string, delta int64, userQuota *int64) Result {
	effectiveRepo, err := m.resolveOrigin(ctx, repoID)
	if err != nil {
		return Err
	}
	ownerID, err := m.ownerOf(ctx, orgID, effectiveRepo)
	if err != nil {
		return Err
	}
	usage, err := m.usageForOwner(ctx, orgID, ownerID)
	if err != nil {
		return Err
	}
	quota := m.EffectiveQuota(userQuota)
	if quota < 0 {
		return Within
	}
	if usage+delta >= quota {
		return Exceeded
	}
	return Within
}

// CheckOrgQuota mirrors CheckQuota against an org-wide quota (OrgQuota)
// instead of a per-user quota, summing usage over every library in orgID
// regardless of owner.
func (m *Manager) CheckOrgQuota(ctx context.Context, orgID string, delta int64, orgQuota *int64) Result {
	iter := m.session.Query(
		`SELECT library_id, size_bytes FROM libraries WHERE org_id = ?`, orgID,
	).WithContext(ctx).Iter()

	var total int64
	var libID string
	var size int64
	for iter.Scan(&libID, &size) {
		isVirtual, err := m.isVirtual(ctx, libID)
		if err != nil {
			iter.Close()
			return Err
		}
		if isVirtual {
			continue
		}
		total += size
	}
	if err := iter.Close(); err != nil {
		return Err
	}

	quota := m.EffectiveQuota(orgQuota)
	if quota < 0 {
		return Within
	}
	if total+delta >= quota {
		return Exceeded
	}
	return Within
}
