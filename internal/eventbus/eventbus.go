// Package eventbus implements the event/statistics bus (C11): fan-out of
// repo-op and byte-count records to subscribers (spec §4.9/§4.10).
package eventbus

import "sync"

// RepoOpEvent is emitted on upload-class operations (spec §4.9: "on
// upload operations, emit an activity event with {event_type, user, ip,
// client_name, repo_id, path}").
type RepoOpEvent struct {
	EventType  string
	User       string
	IP         string
	ClientName string
	RepoID     string
	Path       string
}

// ByteCountEvent is emitted on block transfer (spec §4.9).
type ByteCountEvent struct {
	RepoID string
	User   string
	Bytes  int64
	Upload bool
}

// Bus is a minimal pub/sub fan-out: each subscriber gets its own buffered
// channel and receives every event published after subscribing. Publish never blocks
// on a slow subscriber beyond its own channel buffer; a full subscriber
// channel drops the event rather than stalling the publisher, since these
// are best-effort statistics, not the durability-sensitive object store
// path (spec's non-goals explicitly exclude "exactly-once event
// delivery").
type Bus struct {
	mu          sync.RWMutex
	repoOpSubs  []chan RepoOpEvent
	byteSubs    []chan ByteCountEvent
}

func New() *Bus {
	return &Bus{}
}

// SubscribeRepoOps registers a new subscriber and returns a channel of
// repo-op events, buffered to bufSize.
func (b *Bus) SubscribeRepoOps(bufSize int) <-chan RepoOpEvent {
	ch := make(chan RepoOpEvent, bufSize)
	b.mu.Lock()
	b.repoOpSubs = append(b.repoOpSubs, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeByteCounts registers a new subscriber and returns a channel of
// byte-count events, buffered to bufSize.
func (b *Bus) SubscribeByteCounts(bufSize int) <-chan ByteCountEvent {
	ch := make(chan ByteCountEvent, bufSize)
	b.mu.Lock()
	b.byteSubs = append(b.byteSubs, ch)
	b.mu.Unlock()
	return ch
}

// PublishRepoOp fans out a repo-op event to all subscribers.
func (b *Bus) PublishRepoOp(e RepoOpEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.repoOpSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// PublishByteCount fans out a byte-count event to all subscribers.
func (b *Bus) PublishByteCount(e ByteCountEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.byteSubs {
		select {
		case ch <- e:
		default:
		}
	}
}
