// Package notify pushes terminal action results to registered webhook
// endpoints. Submitters that do not want to poll the status endpoint register
// a URL and receive a signed JSON POST for every matching result.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pressq/pressq/internal/ident"
	"github.com/pressq/pressq/internal/types"
)

var ErrSubscriptionNotFound = errors.New("notify: subscription not found")

// Subscription is one registered webhook endpoint.
type Subscription struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Actions   []types.Action `json:"actions,omitempty"` // empty = all actions
	CreatedAt int64          `json:"created_at"`

	secret string
}

// wants reports whether the subscription matches results for action.
func (s *Subscription) wants(action types.Action) bool {
	if len(s.Actions) == 0 {
		return true
	}
	for _, a := range s.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Manager fans terminal results out to all matching subscriptions. Deliveries
// are fire-and-forget: a failing endpoint is logged and skipped, never
// retried, so a dead webhook cannot back up the dispatch pipeline.
type Manager struct {
	client *http.Client

	mu   sync.RWMutex
	subs map[string]*Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager with a 10 second delivery timeout per webhook.
func NewManager() *Manager {
	return &Manager{
		client: &http.Client{Timeout: 10 * time.Second},
		subs:   make(map[string]*Subscription),
	}
}

// Start consumes terminal results from events until the channel closes or ctx
// is cancelled. events is typically the channel returned by the dispatcher's
// Subscribe.
func (m *Manager) Start(ctx context.Context, events <-chan *types.ActionResult) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-events:
				if !ok {
					return
				}
				m.fanOut(ctx, res)
			}
		}
	}()
}

// Stop cancels the delivery loop and waits for in-flight deliveries.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Register adds a webhook for rawURL. secret, when non-empty, is used to
// HMAC-sign every delivery body. actions restricts delivery to the named
// actions; empty means all.
func (m *Manager) Register(rawURL, secret string, actions []types.Action) (*Subscription, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("notify: invalid webhook url %q", rawURL)
	}
	for _, a := range actions {
		if _, known := knownActions[a]; !known {
			return nil, fmt.Errorf("notify: unknown action filter %q", a)
		}
	}

	id, err := ident.NewID()
	if err != nil {
		return nil, fmt.Errorf("notify: generate subscription id: %w", err)
	}
	sub := &Subscription{
		ID:        id,
		URL:       rawURL,
		Actions:   actions,
		CreatedAt: time.Now().UnixMilli(),
		secret:    secret,
	}

	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()

	slog.Info("webhook registered", "id", id, "url", rawURL, "actions", actions)
	return sub, nil
}

// Deregister removes the subscription with id.
func (m *Manager) Deregister(id string) error {
	m.mu.Lock()
	_, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	slog.Info("webhook deregistered", "id", id)
	return nil
}

// List returns all current subscriptions.
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out
}

// fanOut delivers res to every matching subscription concurrently.
func (m *Manager) fanOut(ctx context.Context, res *types.ActionResult) {
	m.mu.RLock()
	targets := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.wants(res.Action) {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		m.wg.Add(1)
		go func(sub *Subscription) {
			defer m.wg.Done()
			if err := deliver(ctx, m.client, sub, res); err != nil {
				slog.Warn("webhook delivery failed", "sub", sub.ID, "url", sub.URL, "err", err)
			}
		}(sub)
	}
}

var knownActions = func() map[types.Action]struct{} {
	set := make(map[types.Action]struct{})
	for _, a := range types.Actions() {
		set[a] = struct{}{}
	}
	return set
}()
