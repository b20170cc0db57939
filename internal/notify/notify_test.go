package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pressq/pressq/internal/types"
)

func testResult(action types.Action) *types.ActionResult {
	return &types.ActionResult{
		MessageID:   "01RESULT",
		Action:      action,
		Outcome:     types.Outcome{Success: true, Data: []byte(`{"id":1}`)},
		Attempts:    1,
		CompletedAt: time.Now().UnixMilli(),
	}
}

type delivery struct {
	body      []byte
	signature string
	event     string
	messageID string
}

func startManager(t *testing.T) (*Manager, chan *types.ActionResult) {
	t.Helper()
	m := NewManager()
	events := make(chan *types.ActionResult, 8)
	m.Start(context.Background(), events)
	t.Cleanup(m.Stop)
	return m, events
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager()

	if _, err := m.Register("ftp://example.com/hook", "", nil); err == nil {
		t.Error("ftp scheme accepted")
	}
	if _, err := m.Register("not a url", "", nil); err == nil {
		t.Error("garbage url accepted")
	}
	if _, err := m.Register("https://example.com/hook", "", []types.Action{"publish_podcast"}); err == nil {
		t.Error("unknown action filter accepted")
	}

	sub, err := m.Register("https://example.com/hook", "s3cret", []types.Action{types.ActionCreateArticle})
	if err != nil {
		t.Fatalf("valid registration rejected: %v", err)
	}
	if sub.ID == "" {
		t.Error("subscription has no id")
	}
	if len(m.List()) != 1 {
		t.Errorf("List() = %d subs, want 1", len(m.List()))
	}
}

func TestDeregister(t *testing.T) {
	m := NewManager()
	sub, _ := m.Register("https://example.com/hook", "", nil)

	if err := m.Deregister(sub.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := m.Deregister(sub.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("double deregister: want ErrSubscriptionNotFound, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("subscription still listed after deregister")
	}
}

func TestDeliverySignedAndTagged(t *testing.T) {
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{
			body:      body,
			signature: r.Header.Get("X-Pressq-Signature"),
			event:     r.Header.Get("X-Pressq-Event"),
			messageID: r.Header.Get("X-Pressq-Message-Id"),
		}
	}))
	defer srv.Close()

	m, events := startManager(t)
	if _, err := m.Register(srv.URL, "hook-secret", nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := testResult(types.ActionCreateArticle)
	events <- res

	var d delivery
	select {
	case d = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never called")
	}

	if d.event != "create_article" || d.messageID != "01RESULT" {
		t.Errorf("headers = event %q, id %q", d.event, d.messageID)
	}

	// The signature is an HMAC-SHA256 over the exact body bytes.
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(d.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if d.signature != want {
		t.Errorf("signature = %q, want %q", d.signature, want)
	}

	var decoded types.ActionResult
	if err := json.Unmarshal(d.body, &decoded); err != nil {
		t.Fatalf("body not a result: %v", err)
	}
	if decoded.MessageID != res.MessageID || !decoded.Outcome.Success {
		t.Errorf("delivered result = %+v", decoded)
	}
}

func TestActionFilter(t *testing.T) {
	calls := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- r.Header.Get("X-Pressq-Event")
	}))
	defer srv.Close()

	m, events := startManager(t)
	if _, err := m.Register(srv.URL, "", []types.Action{types.ActionDeleteArticle}); err != nil {
		t.Fatalf("register: %v", err)
	}

	events <- testResult(types.ActionCreateArticle) // filtered out
	events <- testResult(types.ActionDeleteArticle) // delivered

	select {
	case event := <-calls:
		if event != "delete_article" {
			t.Errorf("delivered event = %q, want delete_article", event)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("matching event never delivered")
	}

	select {
	case event := <-calls:
		t.Errorf("filtered event %q was delivered", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFailingEndpointDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, events := startManager(t)
	if _, err := m.Register(srv.URL, "", nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A failing endpoint must not wedge the event loop.
	for i := 0; i < 5; i++ {
		select {
		case events <- testResult(types.ActionCreateArticle):
		case <-time.After(time.Second):
			t.Fatal("event loop blocked by failing endpoint")
		}
	}
}
