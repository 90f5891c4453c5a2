package cachemgr

import (
	"testing"
	"time"
)

func TestTokenCacheMissAndHit(t *testing.T) {
	c := New()
	defer c.Stop()

	if _, ok := c.GetToken("nope"); ok {
		t.Fatal("expected miss on an unset token")
	}

	c.PutToken("tok-1", TokenInfo{RepoID: "repo-1", UserEmail: "a@b.com"})
	info, ok := c.GetToken("tok-1")
	if !ok || info.RepoID != "repo-1" || info.UserEmail != "a@b.com" {
		t.Fatalf("GetToken = %+v, %v, want repo-1/a@b.com, true", info, ok)
	}

	c.InvalidateToken("tok-1")
	if _, ok := c.GetToken("tok-1"); ok {
		t.Fatal("expected miss after InvalidateToken")
	}
}

func TestPermissionCacheKeyedByRepoAndUser(t *testing.T) {
	c := New()
	defer c.Stop()

	c.PutPermission("repo-1", "alice", PermReadWrite)
	c.PutPermission("repo-1", "bob", PermRead)

	perm, ok := c.GetPermission("repo-1", "alice")
	if !ok || perm != PermReadWrite {
		t.Fatalf("GetPermission(alice) = %v, %v, want rw, true", perm, ok)
	}
	perm, ok = c.GetPermission("repo-1", "bob")
	if !ok || perm != PermRead {
		t.Fatalf("GetPermission(bob) = %v, %v, want r, true", perm, ok)
	}
	if _, ok := c.GetPermission("repo-2", "alice"); ok {
		t.Fatal("expected miss for a different repo_id")
	}
}

func TestVirtualRepoInfoTTLRefreshesOnAccess(t *testing.T) {
	c := New()
	defer c.Stop()

	storeID := "parent-store"
	c.PutVirtualRepoInfo("vrepo-1", &storeID)

	c.vrMu.Lock()
	e := c.vr["vrepo-1"]
	e.expireTime = time.Now().Add(time.Minute)
	c.vr["vrepo-1"] = e
	c.vrMu.Unlock()

	got, ok := c.GetVirtualRepoInfo("vrepo-1")
	if !ok || got == nil || *got != storeID {
		t.Fatalf("GetVirtualRepoInfo = %v, %v, want %s, true", got, ok, storeID)
	}

	c.vrMu.RLock()
	e = c.vr["vrepo-1"]
	c.vrMu.RUnlock()
	if time.Until(e.expireTime) <= TTL-time.Second {
		t.Fatal("expected GetVirtualRepoInfo to refresh the TTL on access")
	}
}

func TestPermissionCacheDoesNotExtendTTLOnRead(t *testing.T) {
	c := New()
	defer c.Stop()
	c.PutPermission("repo-1", "alice", PermRead)

	c.permMu.Lock()
	e := c.perms[permKey("repo-1", "alice")]
	e.expireTime = time.Now().Add(50 * time.Millisecond)
	c.perms[permKey("repo-1", "alice")] = e
	c.permMu.Unlock()

	if _, ok := c.GetPermission("repo-1", "alice"); !ok {
		t.Fatal("expected a hit before the shortened expiry")
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok := c.GetPermission("repo-1", "alice"); ok {
		t.Fatal("expected the permission entry to have expired without TTL refresh")
	}
}
