package devto

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pressq/pressq/internal/types"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestCreateArticleSendsEnvelope(t *testing.T) {
	var gotBody map[string]any
	var gotKey, gotMethod, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":123,"title":"Hello"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("sekrit"))
	data, err := c.CreateArticle(context.Background(), ArticleFields{
		Title:        strPtr("Hello"),
		BodyMarkdown: strPtr("# hi"),
		Published:    boolPtr(true),
	})
	if err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/articles" {
		t.Errorf("request = %s %s, want POST /articles", gotMethod, gotPath)
	}
	if gotKey != "sekrit" {
		t.Errorf("api-key header = %q, want sekrit", gotKey)
	}

	article, ok := gotBody["article"].(map[string]any)
	if !ok {
		t.Fatalf("body missing article envelope: %v", gotBody)
	}
	if article["title"] != "Hello" || article["body_markdown"] != "# hi" || article["published"] != true {
		t.Errorf("unexpected article fields: %v", article)
	}

	var rec struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(data, &rec); err != nil || rec.ID != 123 {
		t.Errorf("returned record = %s", data)
	}
}

func TestUpdateArticleOmitsUnsetFields(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.UpdateArticle(context.Background(), "77", ArticleFields{Title: strPtr("new")}); err != nil {
		t.Fatalf("UpdateArticle: %v", err)
	}

	article := gotBody["article"].(map[string]any)
	if article["title"] != "new" {
		t.Errorf("title = %v, want new", article["title"])
	}
	for _, absent := range []string{"body_markdown", "tags", "published"} {
		if _, ok := article[absent]; ok {
			t.Errorf("unset field %q was sent: %v", absent, article)
		}
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   types.FailureKind
	}{
		{http.StatusUnauthorized, types.KindAuthError},
		{http.StatusForbidden, types.KindAuthError},
		{http.StatusNotFound, types.KindNotFound},
		{http.StatusTooManyRequests, types.KindRateLimited},
		{http.StatusUnprocessableEntity, types.KindRemoteValidation},
		{http.StatusInternalServerError, types.KindUnknownRemote},
		{http.StatusBadGateway, types.KindUnknownRemote},
		{http.StatusConflict, types.KindUnknownRemote},
	}

	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))

		client := New(srv.URL)
		_, err := client.GetArticle(context.Background(), "1")
		srv.Close()

		var ae *APIError
		if !errors.As(err, &ae) {
			t.Errorf("status %d: want *APIError, got %v", c.status, err)
			continue
		}
		if ae.Kind != c.want {
			t.Errorf("status %d: kind = %s, want %s", c.status, ae.Kind, c.want)
		}
		if ae.StatusCode != c.status {
			t.Errorf("status %d: StatusCode = %d", c.status, ae.StatusCode)
		}
		if ae.Message != "nope" {
			t.Errorf("status %d: message = %q, want remote error detail", c.status, ae.Message)
		}

		kind, detail := Classify(err)
		if kind != c.want || detail != "nope" {
			t.Errorf("Classify(status %d) = %s %q", c.status, kind, detail)
		}
	}
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.GetArticle(context.Background(), "1")
	if err == nil {
		t.Fatal("want timeout error")
	}

	kind, detail := Classify(err)
	if kind != types.KindNetworkError {
		t.Errorf("kind = %s, want %s", kind, types.KindNetworkError)
	}
	if detail != "timeout" {
		t.Errorf("detail = %q, want timeout", detail)
	}
}

func TestConnectionRefusedIsNetworkError(t *testing.T) {
	// Reserve a port, then close the listener so the address refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New(addr)
	_, err := c.GetArticle(context.Background(), "1")
	kind, _ := Classify(err)
	if kind != types.KindNetworkError {
		t.Errorf("kind = %s, want %s", kind, types.KindNetworkError)
	}
}

func TestListArticlesQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.ListArticles(context.Background(), ListOptions{Tag: "go", Page: 2}); err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if gotQuery != "page=2&tag=go" {
		t.Errorf("query = %q, want page=2&tag=go", gotQuery)
	}
}

func TestEmptyBodyBecomesEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.DeleteArticle(context.Background(), "9")
	if err != nil {
		t.Fatalf("DeleteArticle: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("empty body normalised to %q, want {}", data)
	}
}
