package backoff

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Delay computes the exponential backoff delay for the given 1-based attempt:
// base * 2^(attempt-1), capped at max. Attempt 1 returns base.
func Delay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Timer fires a callback when a message's retry delay has elapsed.
//
// Usage:
//
//	t := New()
//	t.Start(ctx, func(id string) {
//	    // re-enqueue the message for another attempt
//	})
//	defer t.Stop()
//
//	t.Schedule("01...", time.Now().Add(delay).UnixMilli())
//
// All methods are safe for concurrent use.
type Timer struct {
	mu   sync.Mutex
	h    minHeap
	byID map[string]*item // id → item for O(1) Cancel lookup

	// notify is a buffered channel of capacity 1.
	// Schedule() sends a signal whenever a new item is added that might be
	// earlier than the current timer deadline, prompting the goroutine to
	// re-evaluate its sleep duration.
	notify chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Timer. Call Start() to begin firing callbacks.
func New() *Timer {
	h := make(minHeap, 0, 64)
	heap.Init(&h)
	return &Timer{
		h:      h,
		byID:   make(map[string]*item),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Schedule registers id to fire at readyAt (UTC milliseconds). If readyAt is
// already past, readyFn fires promptly on the next tick of the goroutine.
//
// Scheduling an id that is already registered replaces the old entry cleanly.
// Schedule must not be called after Stop().
func (t *Timer) Schedule(id string, readyAt int64) {
	t.mu.Lock()

	if prev, ok := t.byID[id]; ok {
		prev.cancelled = true
		t.h.remove(prev.heapIdx)
		delete(t.byID, id)
	}

	it := &item{id: id, readyAt: readyAt}
	heap.Push(&t.h, it)
	t.byID[id] = it

	t.mu.Unlock()

	// Signal the goroutine to re-evaluate. Non-blocking: if a signal is
	// already pending (channel full), no-op — the goroutine will wake soon.
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Cancel removes a scheduled id so its callback never fires.
// It is a no-op if the id is not currently scheduled.
func (t *Timer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.byID[id]
	if !ok {
		return
	}
	it.cancelled = true
	t.h.remove(it.heapIdx)
	delete(t.byID, id)
}

// Contains reports whether id is currently scheduled.
func (t *Timer) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byID[id]
	return ok
}

// Len returns the number of currently scheduled (non-cancelled) ids.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Start launches the background delivery goroutine.
// readyFn is called from that goroutine for each due id — it must not block
// for long. Start must be called exactly once.
func (t *Timer) Start(ctx context.Context, readyFn func(id string)) {
	t.wg.Add(1)
	go t.run(ctx, readyFn)
}

// Stop shuts down the background goroutine and waits for it to exit.
// Any ids still in the heap are silently abandoned.
func (t *Timer) Stop() {
	select {
	case <-t.done:
		// already stopped
	default:
		close(t.done)
	}
	t.wg.Wait()
}

// ─── delivery goroutine ───────────────────────────────────────────────────────

func (t *Timer) run(ctx context.Context, readyFn func(id string)) {
	defer t.wg.Done()

	// tm is lazily allocated when there's something to wait for.
	var tm *time.Timer
	defer func() {
		if tm != nil {
			tm.Stop()
		}
	}()

	for {
		t.mu.Lock()
		next := t.peekReady() // nil if heap is empty
		t.mu.Unlock()

		if next == nil {
			// Heap is empty — wait for a new item or shutdown.
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-t.notify:
				// An item was scheduled; loop around to re-evaluate.
			}
			continue
		}

		delay := time.Until(time.UnixMilli(next.readyAt))
		if delay <= 0 {
			// Already due — pop and fire without sleeping.
			t.mu.Lock()
			it := t.popAndRemove()
			t.mu.Unlock()
			if it != nil && !it.cancelled {
				readyFn(it.id)
			}
			continue
		}

		// Sleep until the next item is due, but stay responsive to new items
		// (notify) and shutdown signals.
		if tm == nil {
			tm = time.NewTimer(delay)
		} else {
			tm.Reset(delay)
		}

		select {
		case <-ctx.Done():
			tm.Stop()
			return
		case <-t.done:
			tm.Stop()
			return
		case <-t.notify:
			// A new item may be due sooner — re-evaluate from the top.
			tm.Stop()
			// Drain the timer channel if it fired between Reset and Stop.
			select {
			case <-tm.C:
			default:
			}
			tm = nil
		case <-tm.C:
			tm = nil
			t.mu.Lock()
			it := t.popAndRemove()
			t.mu.Unlock()
			if it != nil && !it.cancelled {
				readyFn(it.id)
			}
		}
	}
}

// peekReady returns the root item without removing it, or nil if heap is
// empty. MUST be called with t.mu held.
func (t *Timer) peekReady() *item {
	for t.h.Len() > 0 {
		root := t.h[0]
		if root.cancelled {
			// Drain lazily-cancelled items from the root.
			heap.Pop(&t.h)
			delete(t.byID, root.id)
			continue
		}
		return root
	}
	return nil
}

// popAndRemove removes the root item and returns it (or nil if empty).
// MUST be called with t.mu held.
func (t *Timer) popAndRemove() *item {
	for t.h.Len() > 0 {
		it := heap.Pop(&t.h).(*item)
		delete(t.byID, it.id)
		if it.cancelled {
			continue
		}
		return it
	}
	return nil
}
