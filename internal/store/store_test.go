package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressq/pressq/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(id string, completedAt int64) *types.ActionResult {
	return &types.ActionResult{
		MessageID:   id,
		Action:      types.ActionCreateArticle,
		Outcome:     types.Outcome{Success: true, Data: []byte(`{"id":1}`)},
		Attempts:    1,
		CompletedAt: completedAt,
	}
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	if err := s.Put(result("01AAA", now)); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("01AAA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageID != "01AAA" || !got.Outcome.Success || got.Attempts != 1 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if string(got.Outcome.Data) != `{"id":1}` {
		t.Errorf("outcome data = %s", got.Outcome.Data)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPutIsImmutable(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	if err := s.Put(result("01BBB", now)); err != nil {
		t.Fatalf("first put: %v", err)
	}

	// A terminal outcome must never be overwritten.
	dup := result("01BBB", now)
	dup.Outcome = types.Outcome{Kind: types.KindCancelled}
	if err := s.Put(dup); err == nil {
		t.Fatal("second put for same id accepted")
	}

	got, _ := s.Get("01BBB")
	if !got.Outcome.Success {
		t.Error("original outcome was overwritten")
	}
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	old := result("01OLD", now.Add(-2*time.Hour).UnixMilli())
	fresh := result("01NEW", now.UnixMilli())
	if err := s.Put(old); err != nil {
		t.Fatalf("put old: %v", err)
	}
	if err := s.Put(fresh); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	evicted, err := s.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}

	if _, err := s.Get("01OLD"); !errors.Is(err, ErrNotFound) {
		t.Error("expired result still present after sweep")
	}
	if _, err := s.Get("01NEW"); err != nil {
		t.Errorf("fresh result evicted: %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestReopenKeepsResults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(result("01PERSIST", time.Now().UnixMilli())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Results survive a process restart.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get("01PERSIST"); err != nil {
		t.Errorf("result lost across reopen: %v", err)
	}
}

func TestSweeperGoroutine(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		r := result(fmt.Sprintf("01SWEEP%d", i), time.Now().Add(-time.Hour).UnixMilli())
		if err := s.Put(r); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	s.StartSweeper(time.Minute, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.Count(); n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, _ := s.Count()
	t.Fatalf("sweeper left %d results after deadline", n)
}
