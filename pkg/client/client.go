// Package client is the official Go SDK for pressq.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Submit an article creation for asynchronous dispatch
//	id, err := c.CreateArticle(ctx, client.ArticleDraft{
//	    Title:   "Hello",
//	    Content: "# Hello\nworld",
//	    Tags:    "go,writing",
//	})
//
//	// Poll for the outcome
//	st, err := c.Result(ctx, id)
//	if st.Status == client.StatusSucceeded {
//	    fmt.Println(string(st.Outcome.Data))
//	}
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Use errors.As to inspect the HTTP status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

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
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the pressq server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pressq: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsQueueFull reports whether the submission was rejected for backpressure.
func IsQueueFull(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusTooManyRequests
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the pressq API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the pressq server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("http://pressq.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Status values reported for a submitted message.
const (
	StatusPending   = "pending"
	StatusInFlight  = "in_flight"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Outcome is the final disposition of a message.
type Outcome struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// MessageStatus is the server's view of one submitted message.
type MessageStatus struct {
	MessageID   string   `json:"message_id"`
	Status      string   `json:"status"`
	Action      string   `json:"action,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
	Outcome     *Outcome `json:"outcome,omitempty"`
	CompletedAt int64    `json:"completed_at,omitempty"`
}

// ServerStatus is the aggregate snapshot returned by /status.
type ServerStatus struct {
	QueueDepth   int64   `json:"queue_depth"`
	Pending      int64   `json:"pending"`
	InFlight     int64   `json:"in_flight"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	Retried      int64   `json:"retried"`
	Cancelled    int64   `json:"cancelled"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

// ArticleDraft carries the fields for creating an article.
type ArticleDraft struct {
	Title     string
	Content   string
	Tags      string
	Published bool
}

// ArticlePatch carries the optional fields for updating an article.
// Nil fields keep their remote values.
type ArticlePatch struct {
	Title     *string
	Content   *string
	Tags      *string
	Published *bool
}

// ─── Message operations ───────────────────────────────────────────────────────

// Submit sends an arbitrary action with its payload and returns the assigned
// message ID. Prefer the typed helpers (CreateArticle etc.) unless you need to
// construct payloads dynamically.
func (c *Client) Submit(ctx context.Context, action string, data map[string]any) (string, error) {
	req := map[string]any{"action": action, "data": data}
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// CreateArticle submits a create_article message.
func (c *Client) CreateArticle(ctx context.Context, draft ArticleDraft) (string, error) {
	data := map[string]any{
		"title":   draft.Title,
		"content": draft.Content,
	}
	if draft.Tags != "" {
		data["tags"] = draft.Tags
	}
	if draft.Published {
		data["published"] = true
	}
	return c.Submit(ctx, "create_article", data)
}

// UpdateArticle submits an update_article message for articleID.
func (c *Client) UpdateArticle(ctx context.Context, articleID string, patch ArticlePatch) (string, error) {
	data := map[string]any{"article_id": articleID}
	if patch.Title != nil {
		data["title"] = *patch.Title
	}
	if patch.Content != nil {
		data["content"] = *patch.Content
	}
	if patch.Tags != nil {
		data["tags"] = *patch.Tags
	}
	if patch.Published != nil {
		data["published"] = *patch.Published
	}
	return c.Submit(ctx, "update_article", data)
}

// DeleteArticle submits a delete_article message for articleID.
func (c *Client) DeleteArticle(ctx context.Context, articleID string) (string, error) {
	return c.Submit(ctx, "delete_article", map[string]any{"article_id": articleID})
}

// GetArticle submits a get_article message for articleID. The fetched record
// arrives in the message's Outcome.Data.
func (c *Client) GetArticle(ctx context.Context, articleID string) (string, error) {
	return c.Submit(ctx, "get_article", map[string]any{"article_id": articleID})
}

// Result returns the current status of a submitted message, including its
// outcome once terminal.
func (c *Client) Result(ctx context.Context, messageID string) (*MessageStatus, error) {
	var st MessageStatus
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(messageID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel requests cancellation of a submitted message. Cancellation is
// advisory once the message is in flight.
func (c *Client) Cancel(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// WaitForResult polls until the message reaches a terminal status or ctx is
// done. interval controls the poll cadence; zero defaults to 250ms.
func (c *Client) WaitForResult(ctx context.Context, messageID string, interval time.Duration) (*MessageStatus, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Result(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if st.Status == StatusSucceeded || st.Status == StatusFailed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ─── Server state ─────────────────────────────────────────────────────────────

// Status returns the aggregate dispatch snapshot.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var st ServerStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var h HealthInfo
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ─── Webhook subscriptions ────────────────────────────────────────────────────

// Subscribe registers a webhook for terminal results and returns its ID.
// secret, when non-empty, makes the server HMAC-sign each delivery. actions
// restricts delivery; empty means all actions.
func (c *Client) Subscribe(ctx context.Context, webhookURL, secret string, actions ...string) (string, error) {
	req := map[string]any{"url": webhookURL}
	if secret != "" {
		req["secret"] = secret
	}
	if len(actions) > 0 {
		req["actions"] = actions
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/subscriptions", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Unsubscribe removes a webhook subscription.
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil, nil)
}

// ─── Read-through article access ──────────────────────────────────────────────

// Articles fetches published articles synchronously (never queued).
// tag, username, and page filter the listing; zero values are omitted.
func (c *Client) Articles(ctx context.Context, tag, username string, page int) (json.RawMessage, error) {
	q := url.Values{}
	if tag != "" {
		q.Set("tag", tag)
	}
	if username != "" {
		q.Set("username", username)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	path := "/articles"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Article fetches one article synchronously by ID.
func (c *Client) Article(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/articles/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// User fetches a user profile synchronously by username.
func (c *Client) User(ctx context.Context, username string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("pressq: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("pressq: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pressq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	// Success without body
	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("pressq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("pressq: decode response: %w", err)
		}
	}
	return nil
}
