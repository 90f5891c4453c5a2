// Package objstore implements the content-addressed object store backend
// (C1): a put/get/stat/delete/exists/iterate interface over opaque
// (store_id, kind, version, id) -> bytes triples. The core never interprets
// the bytes; fsmgr/commitmgr layer structure on top.
package objstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/cassandra-gocql-driver/v2"
	"github.com/syncwerk/syncwerk-server/internal/db"
)

// Kind selects which logical namespace an id lives in. It does not affect
// hashing; it only partitions storage so that blocks (large, opaque) and
// fs/commit objects (small, structured) can live on different physical
// backends.
type Kind string

const (
	KindBlock  Kind = "block"
	KindFS     Kind = "fs"
	KindCommit Kind = "commit"
)

// ErrNotFound is the distinct "not found" signal required by spec §4.1.
var ErrNotFound = errors.New("objstore: object not found")

// Stat describes object metadata without requiring the caller to read the
// full body.
type Stat struct {
	Size int64
}

// Store is the C1 contract. Implementations must be safe for concurrent use
// by many callers; Put with sync=true must be durable before returning.
type Store interface {
	Put(ctx context.Context, storeID string, kind Kind, version int, id string, data []byte, sync bool) error
	Get(ctx context.Context, storeID string, kind Kind, version int, id string) ([]byte, error)
	Exists(ctx context.Context, storeID string, kind Kind, version int, id string) (bool, error)
	Stat(ctx context.Context, storeID string, kind Kind, version int, id string) (Stat, error)
	Delete(ctx context.Context, storeID string, kind Kind, version int, id string) error
	Iterate(ctx context.Context, storeID string, kind Kind, version int, cb func(id string) error) error
	RemoveStore(ctx context.Context, storeID string, kind Kind) error
	CopyTo(ctx context.Context, dst Store, dstStoreID, storeID string, kind Kind, version int, id string) error
}

// Router dispatches by Kind to a backend: blocks go to the block-shaped
// Store passed as blocks (blockmgr does not implement Store and provides
// no adapter for it), fs/commit objects go to the
// Cassandra-backed metadata store. Both satisfy Store, so Router itself
// satisfies Store and callers never need to know which physical backend is
// in play — this is the "opaque (store_id, version, id)" contract of §4.1.
type Router struct {
	blocks Store
	meta   Store
}

func NewRouter(blocks, meta Store) *Router {
	return &Router{blocks: blocks, meta: meta}
}

func (r *Router) backend(kind Kind) (Store, error) {
	switch kind {
	case KindBlock:
		return r.blocks, nil
	case KindFS, KindCommit:
		return r.meta, nil
	default:
		return nil, fmt.Errorf("objstore: unknown kind %q", kind)
	}
}

func (r *Router) Put(ctx context.Context, storeID string, kind Kind, version int, id string, data []byte, sync bool) error {
	b, err := r.backend(kind)
	if err != nil {
		return err
	}
	return b.Put(ctx, storeID, kind, version, id, data, sync)
}

func (r *Router) Get(ctx context.Context, storeID string, kind Kind, version int, id string) ([]byte, error) {
	b, err := r.backend(kind)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, storeID, kind, version, id)
}

func (r *Router) Exists(ctx context.Context, storeID string, kind Kind, version int, id string) (bool, error) {
	b, err := r.backend(kind)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, storeID, kind, version, id)
}

func (r *Router) Stat(ctx context.Context, storeID string, kind Kind, version int, id string) (Stat, error) {
	b, err := r.backend(kind)
	if err != nil {
		return Stat{}, err
	}
	return b.Stat(ctx, storeID, kind, version, id)
}

func (r *Router) Delete(ctx context.Context, storeID string, kind Kind, version int, id string) error {
	b, err := r.backend(kind)
	if err != nil {
		return err
	}
	return b.Delete(ctx, storeID, kind, version, id)
}

func (r *Router) Iterate(ctx context.Context, storeID string, kind Kind, version int, cb func(id string) error) error {
	b, err := r.backend(kind)
	if err != nil {
		return err
	}
	return b.Iterate(ctx, storeID, kind, version, cb)
}

func (r *Router) RemoveStore(ctx context.Context, storeID string, kind Kind) error {
	b, err := r.backend(kind)
	if err != nil {
		return err
	}
	return b.RemoveStore(ctx, storeID, kind)
}

func (r *Router) CopyTo(ctx context.Context, dst Store, dstStoreID, storeID string, kind Kind, version int, id string) error {
	b, err := r.backend(kind)
	if err != nil {
		return err
	}
	return b.CopyTo(ctx, dst, dstStoreID, storeID, kind, version, id)
}

// CassandraStore backs fs-manifest and commit objects in the metadata
// keyspace, grounded on internal/db's migration-constant pattern and
// TTL-free (these objects are immutable and never expire).
type CassandraStore struct {
	session *gocql.Session
}

func NewCassandraStore(database *db.DB) *CassandraStore {
	return &CassandraStore{session: database.Session()}
}

const createObjectsTable = `
CREATE TABLE IF NOT EXISTS objects (
	store_id TEXT,
	kind TEXT,
	version INT,
	obj_id TEXT,
	data BLOB,
	size_bytes INT,
	PRIMARY KEY ((store_id, kind, version), obj_id)
)`

// Migration exposes the objects-table DDL; db.Migrate() runs the same
// statement from its own copy (migrationCreateObjects).
func Migration() string { return createObjectsTable }

func (c *CassandraStore) Put(ctx context.Context, storeID string, kind Kind, version int, id string, data []byte, sync bool) error {
	q := `INSERT INTO objects (store_id, kind, version, obj_id, data, size_bytes) VALUES (?, ?, ?, ?, ?, ?)`
	query := c.session.Query(q, storeID, string(kind), version, id, data, len(data)).WithContext(ctx)
	if sync {
		query = query.Consistency(gocql.Quorum)
	}
	return query.Exec()
}

func (c *CassandraStore) Get(ctx context.Context, storeID string, kind Kind, version int, id string) ([]byte, error) {
	q := `SELECT data FROM objects WHERE store_id = ? AND kind = ? AND version = ? AND obj_id = ?`
	var data []byte
	err := c.session.Query(q, storeID, string(kind), version, id).WithContext(ctx).Scan(&data)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s/%s: %w", kind, id, err)
	}
	return data, nil
}

func (c *CassandraStore) Exists(ctx context.Context, storeID string, kind Kind, version int, id string) (bool, error) {
	_, err := c.Stat(ctx, storeID, kind, version, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *CassandraStore) Stat(ctx context.Context, storeID string, kind Kind, version int, id string) (Stat, error) {
	q := `SELECT size_bytes FROM objects WHERE store_id = ? AND kind = ? AND version = ? AND obj_id = ?`
	var size int
	err := c.session.Query(q, storeID, string(kind), version, id).WithContext(ctx).Scan(&size)
	if errors.Is(err, gocql.ErrNotFound) {
		return Stat{}, ErrNotFound
	}
	if err != nil {
		return Stat{}, fmt.Errorf("objstore: stat %s/%s: %w", kind, id, err)
	}
	return Stat{Size: int64(size)}, nil
}

func (c *CassandraStore) Delete(ctx context.Context, storeID string, kind Kind, version int, id string) error {
	q := `DELETE FROM objects WHERE store_id = ? AND kind = ? AND version = ? AND obj_id = ?`
	return c.session.Query(q, storeID, string(kind), version, id).WithContext(ctx).Exec()
}

func (c *CassandraStore) Iterate(ctx context.Context, storeID string, kind Kind, version int, cb func(id string) error) error {
	q := `SELECT obj_id FROM objects WHERE store_id = ? AND kind = ? AND version = ?`
	iter := c.session.Query(q, storeID, string(kind), version).WithContext(ctx).Iter()
	var id string
	for iter.Scan(&id) {
		if err := cb(id); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (c *CassandraStore) RemoveStore(ctx context.Context, storeID string, kind Kind) error {
	// Partition key is (store_id, kind, version); without a fixed version we
	// sweep the two versions the core ever writes (0 = legacy, 1 = current).
	for _, version := range []int{0, 1} {
		q := `DELETE FROM objects WHERE store_id = ? AND kind = ? AND version = ?`
		if err := c.session.Query(q, storeID, string(kind), version).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CassandraStore) CopyTo(ctx context.Context, dst Store, dstStoreID, storeID string, kind Kind, version int, id string) error {
	data, err := c.Get(ctx, storeID, kind, version, id)
	if err != nil {
		return err
	}
	return dst.Put(ctx, dstStoreID, kind, version, id, data, false)
}
