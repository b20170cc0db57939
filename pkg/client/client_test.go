package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeServer records the last request and replies with a canned response.
type fakeServer struct {
	method string
	path   string
	query  string
	body   []byte
	apiKey string

	status int
	reply  string
}

func (f *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.method = r.Method
		f.path = r.URL.Path
		f.query = r.URL.RawQuery
		f.body, _ = io.ReadAll(r.Body)
		f.apiKey = r.Header.Get("X-Api-Key")

		w.Header().Set("Content-Type", "application/json")
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		if f.reply != "" {
			w.Write([]byte(f.reply))
		}
	}
}

func newFake(t *testing.T, f *fakeServer, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, opts...)
}

func TestSubmit(t *testing.T) {
	f := &fakeServer{status: http.StatusAccepted, reply: `{"status":"accepted","message_id":"01MSG"}`}
	c := newFake(t, f, WithAPIKey("key123"))

	id, err := c.Submit(context.Background(), "create_article", map[string]any{"title": "t", "content": "c"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "01MSG" {
		t.Errorf("id = %q", id)
	}
	if f.method != http.MethodPost || f.path != "/messages" {
		t.Errorf("request = %s %s", f.method, f.path)
	}
	if f.apiKey != "key123" {
		t.Errorf("X-Api-Key = %q", f.apiKey)
	}

	var sent struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal(f.body, &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent.Action != "create_article" || sent.Data["title"] != "t" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestTypedHelpers(t *testing.T) {
	f := &fakeServer{status: http.StatusAccepted, reply: `{"message_id":"01MSG"}`}
	c := newFake(t, f)
	ctx := context.Background()

	if _, err := c.CreateArticle(ctx, ArticleDraft{Title: "t", Content: "c", Published: true}); err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	var sent struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	_ = json.Unmarshal(f.body, &sent)
	if sent.Action != "create_article" || sent.Data["published"] != true {
		t.Errorf("create sent = %+v", sent)
	}

	title := "new"
	if _, err := c.UpdateArticle(ctx, "7", ArticlePatch{Title: &title}); err != nil {
		t.Fatalf("UpdateArticle: %v", err)
	}
	sent.Data = nil
	_ = json.Unmarshal(f.body, &sent)
	if sent.Action != "update_article" || sent.Data["article_id"] != "7" || sent.Data["title"] != "new" {
		t.Errorf("update sent = %+v", sent)
	}
	if _, present := sent.Data["content"]; present {
		t.Error("unset patch field was sent")
	}

	if _, err := c.DeleteArticle(ctx, "7"); err != nil {
		t.Fatalf("DeleteArticle: %v", err)
	}
	sent.Data = nil
	_ = json.Unmarshal(f.body, &sent)
	if sent.Action != "delete_article" {
		t.Errorf("delete sent = %+v", sent)
	}
}

func TestResult(t *testing.T) {
	f := &fakeServer{reply: `{
		"message_id": "01MSG",
		"status": "succeeded",
		"action": "create_article",
		"attempts": 2,
		"outcome": {"success": true, "data": {"id": 42}}
	}`}
	c := newFake(t, f)

	st, err := c.Result(context.Background(), "01MSG")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if f.path != "/messages/01MSG" {
		t.Errorf("path = %s", f.path)
	}
	if st.Status != StatusSucceeded || st.Attempts != 2 || st.Outcome == nil || !st.Outcome.Success {
		t.Errorf("status = %+v", st)
	}
}

func TestCancel(t *testing.T) {
	f := &fakeServer{status: http.StatusAccepted, reply: `{"status":"cancellation_requested"}`}
	c := newFake(t, f)

	if err := c.Cancel(context.Background(), "01MSG"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if f.method != http.MethodDelete || f.path != "/messages/01MSG" {
		t.Errorf("request = %s %s", f.method, f.path)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	f := &fakeServer{status: http.StatusNotFound, reply: `{"error":"dispatch: unknown message id"}`}
	c := newFake(t, f)

	_, err := c.Result(context.Background(), "01NOPE")
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("want *APIError, got %v", err)
	}
	if ae.StatusCode != http.StatusNotFound || ae.Message != "dispatch: unknown message id" {
		t.Errorf("APIError = %+v", ae)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound = false")
	}
	if IsQueueFull(err) {
		t.Error("IsQueueFull = true for a 404")
	}
}

func TestWaitForResult(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte(`{"message_id":"01MSG","status":"pending"}`))
			return
		}
		w.Write([]byte(`{"message_id":"01MSG","status":"succeeded"}`))
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL)

	st, err := c.WaitForResult(context.Background(), "01MSG", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if st.Status != StatusSucceeded || calls < 3 {
		t.Errorf("status = %s after %d polls", st.Status, calls)
	}
}

func TestWaitForResultHonoursContext(t *testing.T) {
	f := &fakeServer{reply: `{"message_id":"01MSG","status":"pending"}`}
	c := newFake(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.WaitForResult(ctx, "01MSG", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}

func TestStatusAndHealth(t *testing.T) {
	f := &fakeServer{reply: `{"queue_depth":3,"pending":3,"succeeded":10}`}
	c := newFake(t, f)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.QueueDepth != 3 || st.Succeeded != 10 {
		t.Errorf("status = %+v", st)
	}

	f.reply = `{"status":"ok","server_id":"01SRV","version":"1.0.0"}`
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.ServerID != "01SRV" {
		t.Errorf("health = %+v", h)
	}
}

func TestSubscribe(t *testing.T) {
	f := &fakeServer{status: http.StatusCreated, reply: `{"id":"01SUB","url":"https://example.com/hook"}`}
	c := newFake(t, f)

	id, err := c.Subscribe(context.Background(), "https://example.com/hook", "secret", "create_article")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if id != "01SUB" {
		t.Errorf("id = %q", id)
	}

	var sent map[string]any
	_ = json.Unmarshal(f.body, &sent)
	if sent["url"] != "https://example.com/hook" || sent["secret"] != "secret" {
		t.Errorf("sent = %v", sent)
	}

	f.status = http.StatusNoContent
	f.reply = ""
	if err := c.Unsubscribe(context.Background(), "01SUB"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if f.method != http.MethodDelete || f.path != "/subscriptions/01SUB" {
		t.Errorf("request = %s %s", f.method, f.path)
	}
}

func TestArticlesReadThrough(t *testing.T) {
	f := &fakeServer{reply: `[{"id":1}]`}
	c := newFake(t, f)

	raw, err := c.Articles(context.Background(), "go", "", 2)
	if err != nil {
		t.Fatalf("Articles: %v", err)
	}
	if f.path != "/articles" || f.query != "page=2&tag=go" {
		t.Errorf("request = %s?%s", f.path, f.query)
	}
	if string(raw) != `[{"id":1}]` {
		t.Errorf("raw = %s", raw)
	}
}
