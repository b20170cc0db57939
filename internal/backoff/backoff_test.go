package backoff

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	base := 500 * time.Millisecond
	max := 30 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond}, // clamped to 1
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{7, 32 * time.Second}, // would be 32s, capped
	}
	for _, c := range cases {
		got := Delay(base, max, c.attempt)
		want := c.want
		if want > max {
			want = max
		}
		if got != want {
			t.Errorf("Delay(attempt=%d) = %v, want %v", c.attempt, got, want)
		}
	}
}

func TestDelayStrictlyIncreasesBelowCap(t *testing.T) {
	base := 10 * time.Millisecond
	max := time.Hour
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := Delay(base, max, attempt)
		if d <= prev {
			t.Fatalf("Delay(attempt=%d) = %v, not greater than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

// collector records fired ids in order.
type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) add(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTimerFiresInOrder(t *testing.T) {
	tm := New()
	var c collector
	tm.Start(context.Background(), c.add)
	defer tm.Stop()

	now := time.Now()
	tm.Schedule("late", now.Add(60*time.Millisecond).UnixMilli())
	tm.Schedule("early", now.Add(20*time.Millisecond).UnixMilli())

	waitFor(t, time.Second, func() bool { return len(c.snapshot()) == 2 })

	got := c.snapshot()
	if got[0] != "early" || got[1] != "late" {
		t.Errorf("fire order = %v, want [early late]", got)
	}
	if tm.Len() != 0 {
		t.Errorf("Len after firing = %d, want 0", tm.Len())
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	tm := New()
	var c collector
	tm.Start(context.Background(), c.add)
	defer tm.Stop()

	tm.Schedule("doomed", time.Now().Add(30*time.Millisecond).UnixMilli())
	tm.Cancel("doomed")
	if tm.Contains("doomed") {
		t.Error("cancelled id still reported as scheduled")
	}

	time.Sleep(80 * time.Millisecond)
	if ids := c.snapshot(); len(ids) != 0 {
		t.Errorf("cancelled id fired: %v", ids)
	}
}

func TestTimerRescheduleReplaces(t *testing.T) {
	tm := New()
	var c collector
	tm.Start(context.Background(), c.add)
	defer tm.Stop()

	// Schedule far out, then pull the same id closer. Only one fire expected.
	tm.Schedule("x", time.Now().Add(10*time.Second).UnixMilli())
	tm.Schedule("x", time.Now().Add(20*time.Millisecond).UnixMilli())

	waitFor(t, time.Second, func() bool { return len(c.snapshot()) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if ids := c.snapshot(); len(ids) != 1 {
		t.Errorf("rescheduled id fired %d times: %v", len(ids), ids)
	}
}

func TestTimerPastDeadlineFiresPromptly(t *testing.T) {
	tm := New()
	var c collector
	tm.Start(context.Background(), c.add)
	defer tm.Stop()

	tm.Schedule("overdue", time.Now().Add(-time.Second).UnixMilli())
	waitFor(t, time.Second, func() bool { return len(c.snapshot()) == 1 })
}
