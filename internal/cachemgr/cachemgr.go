// Package cachemgr implements the permission/token/virtual-repo-info
// caches (C8): three expiring in-memory maps sharing a single sweeper,
// grounded on internal/api's TokenManager cleanup goroutine.
package cachemgr

import (
	"sync"
	"time"
)

// TTL is shared by all three caches (spec §4.8: 2h).
const TTL = 2 * time.Hour

// SweepInterval is how often the background sweeper evicts expired
// entries. The sweeper is eventual, not strict: an entry may still be
// served for up to SweepInterval past its expiry (spec §5).
const SweepInterval = 5 * time.Minute

// TokenInfo is the value bound to a token string (spec §4.8).
type TokenInfo struct {
	RepoID    string
	UserEmail string
}

// Permission is "r" (read-only) or "rw" (read-write).
type Permission string

const (
	PermRead      Permission = "r"
	PermReadWrite Permission = "rw"
)

type entry[V any] struct {
	value      V
	expireTime time.Time
}

// Caches bundles the three maps behind one sweeper goroutine, matching
// the teacher's TokenManager: one ticker, one cleanup loop, started once
// at construction.
type Caches struct {
	tokenMu sync.RWMutex
	tokens  map[string]entry[TokenInfo]

	permMu sync.RWMutex
	perms  map[string]entry[Permission]

	vrMu sync.RWMutex
	vr   map[string]entry[*string] // value is store_id, nil = not a virtual repo

	stop chan struct{}
}

// New constructs the cache set and starts its sweeper goroutine.
func New() *Caches {
	c := &Caches{
		tokens: make(map[string]entry[TokenInfo]),
		perms:  make(map[string]entry[Permission]),
		vr:     make(map[string]entry[*string]),
		stop:   make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Stop terminates the sweeper goroutine; used by tests and graceful shutdown.
func (c *Caches) Stop() { close(c.stop) }

func (c *Caches) sweep() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.tokenMu.Lock()
			for k, v := range c.tokens {
				if now.After(v.expireTime) {
					delete(c.tokens, k)
				}
			}
			c.tokenMu.Unlock()

			c.permMu.Lock()
			for k, v := range c.perms {
				if now.After(v.expireTime) {
					delete(c.perms, k)
				}
			}
			c.permMu.Unlock()

			c.vrMu.Lock()
			for k, v := range c.vr {
				if now.After(v.expireTime) {
					delete(c.vr, k)
				}
			}
			c.vrMu.Unlock()
		}
	}
}

// --- Token cache: TTL is not extended on read (spec §4.8). ---

func (c *Caches) PutToken(token string, info TokenInfo) {
	c.tokenMu.Lock()
	c.tokens[token] = entry[TokenInfo]{value: info, expireTime: time.Now().Add(TTL)}
	c.tokenMu.Unlock()
}

func (c *Caches) GetToken(token string) (TokenInfo, bool) {
	c.tokenMu.RLock()
	e, ok := c.tokens[token]
	c.tokenMu.RUnlock()
	if !ok || time.Now().After(e.expireTime) {
		return TokenInfo{}, false
	}
	return e.value, true
}

func (c *Caches) InvalidateToken(token string) {
	c.tokenMu.Lock()
	delete(c.tokens, token)
	c.tokenMu.Unlock()
}

// --- Permission cache: key is repo_id + ":" + user; TTL not extended on read. ---

func permKey(repoID, user string) string { return repoID + ":" + user }

func (c *Caches) PutPermission(repoID, user string, perm Permission) {
	c.permMu.Lock()
	c.perms[permKey(repoID, user)] = entry[Permission]{value: perm, expireTime: time.Now().Add(TTL)}
	c.permMu.Unlock()
}

func (c *Caches) GetPermission(repoID, user string) (Permission, bool) {
	c.permMu.RLock()
	e, ok := c.perms[permKey(repoID, user)]
	c.permMu.RUnlock()
	if !ok || time.Now().After(e.expireTime) {
		return "", false
	}
	return e.value, true
}

// --- Virtual-repo-info cache: TTL IS refreshed on access (spec §4.8). ---

func (c *Caches) PutVirtualRepoInfo(repoID string, storeID *string) {
	c.vrMu.Lock()
	c.vr[repoID] = entry[*string]{value: storeID, expireTime: time.Now().Add(TTL)}
	c.vrMu.Unlock()
}

func (c *Caches) GetVirtualRepoInfo(repoID string) (*string, bool) {
	c.vrMu.Lock()
	defer c.vrMu.Unlock()
	e, ok := c.vr[repoID]
	if !ok || time.Now().After(e.expireTime) {
		return nil, false
	}
	// Refresh TTL on access, unlike the token/permission caches.
	e.expireTime = time.Now().Add(TTL)
	c.vr[repoID] = e
	return e.value, true
}

// InvalidateVirtualRepoInfo drops a cached origin mapping, forcing the next
// lookup to re-resolve it. Used after a push lands, since a push can change
// which repos are reachable as virtual-repo origins of repoID.
func (c *Caches) InvalidateVirtualRepoInfo(repoID string) {
	c.vrMu.Lock()
	delete(c.vr, repoID)
	c.vrMu.Unlock()
}
