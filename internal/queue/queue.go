// Package queue implements the bounded in-memory FIFO that holds inbound
// messages pending dispatch.
//
// Architecture:
//   - A buffered channel of *Entry values carries FIFO order and capacity in
//     one structure: sends block (or fail) when the queue is at capacity,
//     receives block when it is empty.
//   - A mutex-guarded map of id → *Entry tracks every queued message so that
//     duplicate ids are rejected and still-pending messages can be cancelled.
//
// Ownership: an Entry belongs to the queue until Dequeue returns it, at which
// point exactly one worker owns it. Retry re-insertion via Requeue appends at
// the tail — original enqueue order is preserved only best-effort.
//
// All public methods are safe for concurrent use.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pressq/pressq/internal/types"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrQueueFull is the backpressure signal surfaced to submitters when the
	// queue is at capacity and blocking is disabled.
	ErrQueueFull = errors.New("queue: at capacity")

	// ErrDuplicateID is returned when a message with a live id is enqueued
	// again. The queue never holds two entries with the same id.
	ErrDuplicateID = errors.New("queue: duplicate message id")

	// ErrNotQueued is returned by Cancel when the id is not currently pending.
	ErrNotQueued = errors.New("queue: message not queued")
)

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds tunable parameters for a queue instance.
type Config struct {
	// Capacity is the maximum number of pending entries. Must be >= 1.
	Capacity int

	// BlockOnFull selects the backpressure policy: true blocks Enqueue until
	// space is available (or its context is cancelled); false fails
	// immediately with ErrQueueFull.
	BlockOnFull bool
}

// DefaultConfig returns a Config with production-safe defaults.
func DefaultConfig() Config {
	return Config{Capacity: 1024, BlockOnFull: false}
}

// ─── Entry ───────────────────────────────────────────────────────────────────

// Entry wraps a Message with the queue's sequencing metadata. The queue owns
// the entry until it is dequeued; a worker owns it while in flight; ownership
// returns to the queue on a retry Requeue.
type Entry struct {
	Msg *types.Message

	// Seq is the enqueue sequence number (monotone per queue instance).
	Seq uint64

	// Attempt is the 1-based dispatch attempt count, incremented by the
	// dispatcher before each retry re-insertion.
	Attempt int

	cancelled atomic.Bool
}

// MarkCancelled flags the entry so the dispatcher finalises it without
// invoking the remote API. Safe to call from any goroutine.
func (e *Entry) MarkCancelled() { e.cancelled.Store(true) }

// Cancelled reports whether the entry has been cancelled.
func (e *Entry) Cancelled() bool { return e.cancelled.Load() }

// ─── Queue ───────────────────────────────────────────────────────────────────

// Queue is the bounded FIFO between submission and dispatch.
type Queue struct {
	cfg Config
	ch  chan *Entry

	mu      sync.Mutex
	pending map[string]*Entry // id → entry while the entry is in ch
	seq     uint64
}

// New creates a Queue. cfg.Capacity must be >= 1.
func New(cfg Config) (*Queue, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("queue: capacity must be >= 1, got %d", cfg.Capacity)
	}
	return &Queue{
		cfg:     cfg,
		ch:      make(chan *Entry, cfg.Capacity),
		pending: make(map[string]*Entry, cfg.Capacity),
	}, nil
}

// Enqueue accepts msg, assigns sequencing metadata, and returns the entry as
// the caller's correlation token.
//
// On a full queue it blocks until space is available when cfg.BlockOnFull is
// set (respecting ctx), otherwise it fails immediately with ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, msg *types.Message) (*Entry, error) {
	q.mu.Lock()
	if _, dup := q.pending[msg.ID]; dup {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	q.seq++
	e := &Entry{Msg: msg, Seq: q.seq, Attempt: 1}
	q.pending[msg.ID] = e
	q.mu.Unlock()

	if err := q.send(ctx, e); err != nil {
		q.mu.Lock()
		delete(q.pending, msg.ID)
		q.mu.Unlock()
		return nil, err
	}
	return e, nil
}

// Requeue returns a previously dequeued entry to the tail of the queue for
// another attempt. The caller must have incremented e.Attempt already.
// Requeue always blocks on a full queue — a retry is never dropped for
// backpressure.
func (q *Queue) Requeue(ctx context.Context, e *Entry) error {
	q.mu.Lock()
	if _, dup := q.pending[e.Msg.ID]; dup {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.Msg.ID)
	}
	q.pending[e.Msg.ID] = e
	q.mu.Unlock()

	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, e.Msg.ID)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// send places e into the channel according to the configured capacity policy.
func (q *Queue) send(ctx context.Context, e *Entry) error {
	if q.cfg.BlockOnFull {
		select {
		case q.ch <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return fmt.Errorf("%w (%d entries)", ErrQueueFull, q.cfg.Capacity)
	}
}

// Dequeue blocks until an entry is available or ctx is cancelled. Ownership
// of the returned entry transfers exclusively to the caller.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	select {
	case e := <-q.ch:
		q.mu.Lock()
		delete(q.pending, e.Msg.ID)
		q.mu.Unlock()
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel marks the still-pending message id as cancelled. The entry stays in
// FIFO position; the dispatcher finalises it as cancelled on dequeue without
// touching the remote API. Returns ErrNotQueued if id is not pending here.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	e, ok := q.pending[id]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	e.MarkCancelled()
	return nil
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int { return q.cfg.Capacity }
