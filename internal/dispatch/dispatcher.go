// Package dispatch is the central orchestrator for pressq.
//
// The Dispatcher accepts validated submissions into the queue, runs a fixed
// pool of worker loops that execute queued messages against the remote
// article API, classifies failures as retryable or terminal, and records
// every status transition in the Status/Metrics Aggregator.
//
// Data flow:
//
//	Submitter → Dispatcher.Submit → queue.Queue
//	Worker    → queue.Dequeue → action.Registry → devto.Client
//	          → finalise → store.Store + metrics.Aggregator + event bus
//
// Retry flow: a retryable failure re-enters the queue after an exponential
// backoff delay driven by the backoff.Timer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pressq/pressq/internal/action"
	"github.com/pressq/pressq/internal/backoff"
	"github.com/pressq/pressq/internal/devto"
	"github.com/pressq/pressq/internal/ident"
	"github.com/pressq/pressq/internal/metrics"
	"github.com/pressq/pressq/internal/queue"
	"github.com/pressq/pressq/internal/store"
	"github.com/pressq/pressq/internal/types"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrUnknownMessage is returned when an id matches no live message and no
	// retained result.
	ErrUnknownMessage = errors.New("dispatch: unknown message id")

	// ErrAlreadyTerminal is returned by Cancel when the message has already
	// reached a terminal state.
	ErrAlreadyTerminal = errors.New("dispatch: message already terminal")
)

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds the dispatcher's worker and retry tunables.
type Config struct {
	// Workers is the number of concurrent worker loops.
	Workers int

	// MaxRetries is the maximum number of attempts per message.
	MaxRetries int

	// BackoffBase is the delay before the first retry; each further retry
	// doubles it, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns production-safe dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

// ─── Dispatcher ──────────────────────────────────────────────────────────────

// Dispatcher wires the queue, registry, adapter, result store, and aggregator
// into the routing core. All methods are safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	q        *queue.Queue
	registry *action.Registry
	client   *devto.Client
	results  *store.Store
	agg      *metrics.Aggregator

	timer *backoff.Timer

	// requeueCh moves due retries from the timer goroutine to a dedicated
	// requeue goroutine, so the timer callback never blocks on a full queue.
	requeueCh chan *queue.Entry

	mu       sync.Mutex
	inFlight map[string]*queue.Entry // id → entry exclusively owned by a worker
	waiting  map[string]*queue.Entry // id → entry awaiting its backoff delay

	// Event bus: terminal results are broadcast to all subscribers.
	subMu  sync.Mutex
	subSeq int
	subs   map[int]chan *types.ActionResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Dispatcher. Call Start to launch the workers.
func New(cfg Config, q *queue.Queue, reg *action.Registry, client *devto.Client, results *store.Store, agg *metrics.Aggregator) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}

	d := &Dispatcher{
		cfg:       cfg,
		q:         q,
		registry:  reg,
		client:    client,
		results:   results,
		agg:       agg,
		timer:     backoff.New(),
		requeueCh: make(chan *queue.Entry, cfg.Workers),
		inFlight:  make(map[string]*queue.Entry),
		waiting:   make(map[string]*queue.Entry),
		subs:      make(map[int]chan *types.ActionResult),
	}
	if agg != nil {
		agg.SetDepthFn(q.Len)
	}
	return d
}

// Start launches the worker pool, the retry timer, and the requeue goroutine.
// Start must be called exactly once; Stop shuts everything down.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.timer.Start(ctx, d.onRetryDue)

	d.wg.Add(1)
	go d.requeueLoop(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx, i)
	}
}

// Stop cancels all workers and waits for them to exit. In-flight remote calls
// are abandoned (their contexts are cancelled).
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.timer.Stop()
	d.wg.Wait()
}

// ─── Submit ──────────────────────────────────────────────────────────────────

// Submit validates an inbound request and enqueues it. Registry and
// validation errors are returned synchronously and the message never enters
// the queue; a full queue surfaces queue.ErrQueueFull (or blocks, per queue
// config). On success the accepted Message is returned for correlation.
func (d *Dispatcher) Submit(ctx context.Context, actionName string, data map[string]any) (*types.Message, error) {
	h, err := d.registry.Resolve(actionName)
	if err != nil {
		d.agg.RecordRejected(actionName, "unknown_action")
		return nil, err
	}
	if _, err := d.registry.Validate(h, data); err != nil {
		d.agg.RecordRejected(actionName, "validation")
		return nil, err
	}

	id, err := ident.NewID()
	if err != nil {
		return nil, fmt.Errorf("dispatch: generate message id: %w", err)
	}
	msg := &types.Message{
		ID:          id,
		Action:      h.Action(),
		Payload:     data,
		SubmittedAt: time.Now().UnixMilli(),
		Status:      types.StatusPending,
	}

	if _, err := d.q.Enqueue(ctx, msg); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			d.agg.RecordRejected(actionName, "queue_full")
		}
		return nil, err
	}

	d.agg.RecordSubmitted(msg.Action)
	slog.Debug("message accepted", "id", msg.ID, "action", msg.Action)
	return msg, nil
}

// ─── Lookup / Cancel ─────────────────────────────────────────────────────────

// Lookup reports the current status of id and, when terminal, its retained
// ActionResult. Returns ErrUnknownMessage if the id matches nothing live and
// nothing retained.
func (d *Dispatcher) Lookup(id string) (types.Status, *types.ActionResult, error) {
	if res, err := d.results.Get(id); err == nil {
		if res.Outcome.Success {
			return types.StatusSucceeded, res, nil
		}
		return types.StatusFailed, res, nil
	}

	d.mu.Lock()
	_, flying := d.inFlight[id]
	_, delayed := d.waiting[id]
	d.mu.Unlock()

	if flying {
		return types.StatusInFlight, nil, nil
	}
	if delayed || d.q.Contains(id) {
		return types.StatusPending, nil, nil
	}
	return 0, nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
}

// Cancel requests cancellation of id.
//
//   - Pending in the queue: the entry is flagged; it finalises as
//     Failed(Cancelled) when a worker dequeues it, without any remote call.
//   - Awaiting a retry delay: finalised as Failed(Cancelled) immediately.
//   - In flight: advisory only — the remote call completes, its result is
//     discarded, and the message finalises as Failed(Cancelled).
func (d *Dispatcher) Cancel(id string) error {
	// Awaiting backoff: remove from the timer and finalise now.
	d.mu.Lock()
	if e, ok := d.waiting[id]; ok {
		delete(d.waiting, id)
		d.mu.Unlock()
		d.timer.Cancel(id)
		d.finalize(e, types.StatusPending, types.Outcome{
			Kind:   types.KindCancelled,
			Detail: "cancelled while awaiting retry",
		})
		return nil
	}
	if e, ok := d.inFlight[id]; ok {
		d.mu.Unlock()
		e.MarkCancelled()
		slog.Info("advisory cancel of in-flight message", "id", id)
		return nil
	}
	d.mu.Unlock()

	if err := d.q.Cancel(id); err == nil {
		return nil
	}

	if _, err := d.results.Get(id); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
	}
	return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
}

// ─── Event bus ───────────────────────────────────────────────────────────────

// Subscribe registers a listener for terminal ActionResults. The returned
// cancel function must be called to release the subscription. Slow consumers
// miss events rather than blocking a worker.
func (d *Dispatcher) Subscribe() (<-chan *types.ActionResult, func()) {
	ch := make(chan *types.ActionResult, 64)

	d.subMu.Lock()
	d.subSeq++
	id := d.subSeq
	d.subs[id] = ch
	d.subMu.Unlock()

	cancel := func() {
		d.subMu.Lock()
		if _, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(ch)
		}
		d.subMu.Unlock()
	}
	return ch, cancel
}

func (d *Dispatcher) broadcast(res *types.ActionResult) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- res:
		default:
			// Subscriber is not keeping up — drop rather than block a worker.
		}
	}
}

// ─── Worker loop ─────────────────────────────────────────────────────────────

func (d *Dispatcher) workerLoop(ctx context.Context, n int) {
	defer d.wg.Done()

	for {
		e, err := d.q.Dequeue(ctx)
		if err != nil {
			return // context cancelled: shutdown
		}
		d.process(ctx, e, n)
	}
}

// process executes one dequeued entry. The entry is exclusively owned by this
// worker from dequeue until it is finalised or requeued.
func (d *Dispatcher) process(ctx context.Context, e *queue.Entry, worker int) {
	msg := e.Msg

	// Cancelled while pending: finalise without touching the remote API.
	if e.Cancelled() {
		d.finalize(e, types.StatusPending, types.Outcome{
			Kind:   types.KindCancelled,
			Detail: "cancelled before dispatch",
		})
		return
	}

	d.transition(e, types.StatusPending, types.StatusInFlight, "")
	d.mu.Lock()
	d.inFlight[msg.ID] = e
	d.mu.Unlock()

	h, err := d.registry.Resolve(string(msg.Action))
	if err != nil {
		// Unreachable for messages admitted through Submit; kept so a queue
		// entry can never wedge a worker.
		d.finalize(e, types.StatusInFlight, types.Outcome{
			Kind:   types.KindUnknownRemote,
			Detail: err.Error(),
		})
		return
	}
	payload, err := d.registry.Validate(h, msg.Payload)
	if err != nil {
		d.finalize(e, types.StatusInFlight, types.Outcome{
			Kind:   types.KindRemoteValidation,
			Detail: err.Error(),
		})
		return
	}

	start := time.Now()
	data, err := h.Invoke(ctx, d.client, payload)
	elapsed := time.Since(start)

	// Advisory cancellation: the remote call was allowed to complete, but its
	// result is discarded.
	if e.Cancelled() {
		d.finalize(e, types.StatusInFlight, types.Outcome{
			Kind:   types.KindCancelled,
			Detail: "cancelled while in flight; remote result discarded",
		})
		return
	}

	if err == nil {
		slog.Debug("dispatch succeeded",
			"id", msg.ID, "action", msg.Action, "worker", worker,
			"attempt", e.Attempt, "duration_ms", elapsed.Milliseconds())
		d.finalize(e, types.StatusInFlight, types.Outcome{Success: true, Data: data})
		return
	}

	kind, detail := devto.Classify(err)
	if kind.Retryable() && e.Attempt < d.cfg.MaxRetries {
		d.scheduleRetry(e, kind, detail)
		return
	}

	if kind.Retryable() {
		// Retryable kind but the attempt budget is spent.
		d.finalize(e, types.StatusInFlight, types.Outcome{
			Kind:   types.KindRetriesExhausted,
			Detail: fmt.Sprintf("%d attempts failed; last: %s: %s", e.Attempt, kind, detail),
		})
		return
	}

	// Terminal failure: no retry, no backoff.
	d.finalize(e, types.StatusInFlight, types.Outcome{Kind: kind, Detail: detail})
}

// scheduleRetry moves the entry back to Pending and registers it with the
// backoff timer. The delay grows strictly with each retry: base, 2*base,
// 4*base, … capped at BackoffMax.
func (d *Dispatcher) scheduleRetry(e *queue.Entry, kind types.FailureKind, detail string) {
	msg := e.Msg
	e.Attempt++
	delay := backoff.Delay(d.cfg.BackoffBase, d.cfg.BackoffMax, e.Attempt-1)

	d.transition(e, types.StatusInFlight, types.StatusPending, "")
	d.mu.Lock()
	delete(d.inFlight, msg.ID)
	d.waiting[msg.ID] = e
	d.mu.Unlock()

	slog.Info("retrying message",
		"id", msg.ID, "action", msg.Action, "attempt", e.Attempt,
		"delay_ms", delay.Milliseconds(), "kind", kind, "detail", detail)
	d.timer.Schedule(msg.ID, time.Now().Add(delay).UnixMilli())
}

// onRetryDue runs on the timer goroutine when a retry delay elapses. It hands
// the entry to the requeue goroutine so this callback never blocks.
func (d *Dispatcher) onRetryDue(id string) {
	d.mu.Lock()
	e, ok := d.waiting[id]
	if ok {
		delete(d.waiting, id)
	}
	d.mu.Unlock()
	if !ok {
		return // cancelled in the meantime
	}
	d.requeueCh <- e
}

// requeueLoop re-inserts due retries at the queue tail. Requeue blocks on a
// full queue — a retry is never dropped for backpressure.
func (d *Dispatcher) requeueLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.requeueCh:
			if err := d.q.Requeue(ctx, e); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("requeue failed", "id", e.Msg.ID, "err", err)
			}
		}
	}
}

// ─── Transitions ─────────────────────────────────────────────────────────────

// transition applies a non-terminal status change and records it.
func (d *Dispatcher) transition(e *queue.Entry, from, to types.Status, kind types.FailureKind) {
	if !queue.ValidTransition(from, to) {
		slog.Error("illegal status transition", "id", e.Msg.ID, "from", from, "to", to)
	}
	e.Msg.Status = to
	d.agg.RecordTransition(e.Msg, from, to, kind)
}

// finalize moves the entry to its terminal status, persists the ActionResult,
// records the transition, and broadcasts the result. Every terminal state
// passes through here — no outcome is ever silently swallowed.
func (d *Dispatcher) finalize(e *queue.Entry, from types.Status, outcome types.Outcome) {
	msg := e.Msg

	to := types.StatusFailed
	if outcome.Success {
		to = types.StatusSucceeded
	}
	if !queue.ValidTransition(from, to) {
		slog.Error("illegal status transition", "id", msg.ID, "from", from, "to", to)
	}
	msg.Status = to

	d.mu.Lock()
	delete(d.inFlight, msg.ID)
	d.mu.Unlock()

	res := &types.ActionResult{
		MessageID:   msg.ID,
		Action:      msg.Action,
		Outcome:     outcome,
		Attempts:    e.Attempt,
		CompletedAt: time.Now().UnixMilli(),
	}
	if err := d.results.Put(res); err != nil {
		slog.Error("persist result failed", "id", msg.ID, "err", err)
	}

	d.agg.RecordTransition(msg, from, to, outcome.Kind)

	if !outcome.Success {
		slog.Info("message failed",
			"id", msg.ID, "action", msg.Action, "kind", outcome.Kind,
			"attempts", e.Attempt, "detail", outcome.Detail)
	}

	d.broadcast(res)
}
