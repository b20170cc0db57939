// Package devto is the capability-typed client for the Forem (dev.to) REST
// API. It is the only pressq component that performs network I/O against the
// remote system.
//
// The client performs no retries of its own: every call makes exactly one
// attempt within a bounded timeout and surfaces a classified *APIError on
// failure. Retry policy lives entirely in the dispatcher, which keeps the
// retryable-vs-terminal decision in one place.
package devto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pressq/pressq/internal/types"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the remote API responds with a non-2xx status or
// the call fails at the transport level.
type APIError struct {
	// StatusCode is the HTTP status, or 0 for transport-level failures.
	StatusCode int
	// Kind is the failure classification derived from the status code.
	Kind types.FailureKind
	// Message is the error detail from the response body, or the transport
	// error string.
	Message string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("devto: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("devto: remote returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// Classify maps any error returned by a Client operation to a FailureKind and
// detail string. Timeouts and transport errors become KindNetworkError.
func Classify(err error) (types.FailureKind, string) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind, ae.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindNetworkError, "timeout"
	}
	return types.KindNetworkError, err.Error()
}

// kindForStatus maps an HTTP status code to a FailureKind.
func kindForStatus(code int) types.FailureKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.KindAuthError
	case code == http.StatusNotFound:
		return types.KindNotFound
	case code == http.StatusTooManyRequests:
		return types.KindRateLimited
	case code == http.StatusUnprocessableEntity:
		return types.KindRemoteValidation
	default:
		return types.KindUnknownRemote
	}
}

// ─── Client options ───────────────────────────────────────────────────────────

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the credential sent in every request's api-key header.
// Required for create/update/delete; reads work without it.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. The default is 10 seconds.
// Exceeding it surfaces as an *APIError with KindNetworkError.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client talks to a Forem-compatible article API. It is safe for concurrent
// use; a single http.Client is shared so connections are reused across
// dispatch workers.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client for the API at baseURL (e.g. "https://dev.to/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Request payloads ────────────────────────────────────────────────────────

// ArticleFields carries the writable fields of an article. Pointer fields
// distinguish "not provided" from zero values on update.
type ArticleFields struct {
	Title        *string `json:"title,omitempty"`
	BodyMarkdown *string `json:"body_markdown,omitempty"`
	Tags         *string `json:"tags,omitempty"`
	Published    *bool   `json:"published,omitempty"`
}

// articleEnvelope matches the Forem write API body shape: {"article": {...}}.
type articleEnvelope struct {
	Article ArticleFields `json:"article"`
}

// ListOptions filters ListArticles.
type ListOptions struct {
	Tag      string
	Username string
	Page     int
}

// ─── Operations ──────────────────────────────────────────────────────────────

// CreateArticle creates a new article and returns the remote record.
func (c *Client) CreateArticle(ctx context.Context, fields ArticleFields) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/articles", articleEnvelope{Article: fields})
}

// UpdateArticle updates the article identified by id. Only non-nil fields are
// sent, so unspecified fields keep their remote values.
func (c *Client) UpdateArticle(ctx context.Context, id string, fields ArticleFields) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/articles/"+url.PathEscape(id), articleEnvelope{Article: fields})
}

// DeleteArticle removes the article identified by id.
func (c *Client) DeleteArticle(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, "/articles/"+url.PathEscape(id), nil)
}

// GetArticle fetches the article identified by id.
func (c *Client) GetArticle(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/articles/"+url.PathEscape(id), nil)
}

// ListArticles fetches articles matching opts. Read-only; not routed through
// the queue.
func (c *Client) ListArticles(ctx context.Context, opts ListOptions) (json.RawMessage, error) {
	q := url.Values{}
	if opts.Tag != "" {
		q.Set("tag", opts.Tag)
	}
	if opts.Username != "" {
		q.Set("username", opts.Username)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	path := "/articles"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

// GetUser fetches the profile for username.
func (c *Client) GetUser(ctx context.Context, username string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username), nil)
}

// ─── Internals ───────────────────────────────────────────────────────────────

// do issues one request and returns the raw response body on 2xx.
// Non-2xx responses and transport failures return an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("devto: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("devto: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		msg := err.Error()
		// Client-side timeouts are the canonical NetworkError case.
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timeout"
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			msg = "timeout"
		}
		return nil, &APIError{Kind: types.KindNetworkError, Message: msg}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &APIError{Kind: types.KindNetworkError, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       kindForStatus(resp.StatusCode),
			Message:    remoteErrorMessage(data, resp.StatusCode),
		}
	}

	if len(data) == 0 {
		data = []byte("{}")
	}
	return json.RawMessage(data), nil
}

// remoteErrorMessage extracts the "error" field from a Forem error body,
// falling back to the status text.
func remoteErrorMessage(body []byte, code int) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return http.StatusText(code)
}
