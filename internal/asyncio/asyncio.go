// Package asyncio implements the async object I/O scheduler (C10): a
// bounded worker pool between the HTTP layer (C9) and the object store
// (C1), so that many small fs-object operations can be fanned out without
// blocking the request goroutine one-at-a-time.
package asyncio

import (
	"context"

	"github.com/syncwerk/syncwerk-server/internal/objstore"
)

// DefaultWorkers is the configured worker count default (spec §4.10).
const DefaultWorkers = 3

// Op is the kind of request submitted to the scheduler.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpStat
)

// Request describes one object operation.
type Request struct {
	Op      Op
	StoreID string
	Kind    objstore.Kind
	Version int
	ID      string
	Data    []byte // for OpWrite
	Sync    bool   // for OpWrite
}

// Completion is delivered via the callback passed to Submit, per spec
// §4.10's {obj_id, success, data, len} contract.
type Completion struct {
	ObjID   string
	Success bool
	Data    []byte
	Len     int
	Err     error
}

// Scheduler bounds in-flight object operations with a semaphore, the same
// goroutine+channel fan-out idiom as internal/storage.BlockStore's
// CheckBlocksParallel, generalized to an arbitrary request/callback queue
// so C9 handlers (notably recv-fs) can coalesce many small object writes
// without each one blocking the request thread.
type Scheduler struct {
	store objstore.Store
	sem   chan struct{}
}

// New constructs a scheduler bounding concurrency to workers (<=0 uses
// DefaultWorkers).
func New(store objstore.Store, workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{store: store, sem: make(chan struct{}, workers)}
}

// Submit enqueues req and invokes done exactly once on completion, from a
// different goroutine than the caller's. Submit returns immediately; the
// pipeline slot is acquired inside that goroutine.
func (s *Scheduler) Submit(ctx context.Context, req Request, done func(Completion)) {
	go func() {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		switch req.Op {
		case OpRead:
			data, err := s.store.Get(ctx, req.StoreID, req.Kind, req.Version, req.ID)
			if err != nil {
				done(Completion{ObjID: req.ID, Success: false, Err: err})
				return
			}
			done(Completion{ObjID: req.ID, Success: true, Data: data, Len: len(data)})
		case OpWrite:
			err := s.store.Put(ctx, req.StoreID, req.Kind, req.Version, req.ID, req.Data, req.Sync)
			done(Completion{ObjID: req.ID, Success: err == nil, Len: len(req.Data), Err: err})
		case OpStat:
			st, err := s.store.Stat(ctx, req.StoreID, req.Kind, req.Version, req.ID)
			if err != nil {
				done(Completion{ObjID: req.ID, Success: false, Err: err})
				return
			}
			done(Completion{ObjID: req.ID, Success: true, Len: int(st.Size)})
		}
	}()
}

// SubmitAll fans req out over a pool-bounded batch and blocks until every
// completion has been delivered, collecting them in submission order. This
// is the shape recv-fs uses: many small writes that should
// all land before the HTTP response is written, without serializing them.
func (s *Scheduler) SubmitAll(ctx context.Context, reqs []Request) []Completion {
	results := make([]Completion, len(reqs))
	doneCh := make(chan struct{}, len(reqs))
	for i, req := range reqs {
		i, req := i, req
		s.Submit(ctx, req, func(c Completion) {
			results[i] = c
			doneCh <- struct{}{}
		})
	}
	for range reqs {
		<-doneCh
	}
	return results
}
