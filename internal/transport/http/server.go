// Package http provides the HTTP transport layer for pressq.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /status
//	POST   /messages
//	GET    /messages/{id}
//	DELETE /messages/{id}
//	POST   /subscriptions
//	GET    /subscriptions
//	DELETE /subscriptions/{id}
//	GET    /articles
//	GET    /articles/{id}
//	GET    /users/{username}
//	GET    /events
//	GET    /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/pressq/pressq/internal/config"
	"github.com/pressq/pressq/internal/devto"
	"github.com/pressq/pressq/internal/dispatch"
	"github.com/pressq/pressq/internal/metrics"
	"github.com/pressq/pressq/internal/notify"
	transportws "github.com/pressq/pressq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with pressq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server around the dispatcher and its collaborators.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(d *dispatch.Dispatcher, agg *metrics.Aggregator, nm *notify.Manager, dc *devto.Client, cfg *config.Config, serverID string) *Server {
	h := &Handler{
		dispatcher: d,
		agg:        agg,
		notifier:   nm,
		devto:      dc,
		serverID:   serverID,
	}
	ws := &transportws.Handler{Source: d}

	mux := http.NewServeMux()

	// Health / status
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /status", h.status)

	// Messages
	mux.HandleFunc("POST /messages", h.submitMessage)
	mux.HandleFunc("GET /messages/{id}", h.getMessage)
	mux.HandleFunc("DELETE /messages/{id}", h.cancelMessage)

	// Webhook subscriptions
	mux.HandleFunc("POST /subscriptions", h.createSubscription)
	mux.HandleFunc("GET /subscriptions", h.listSubscriptions)
	mux.HandleFunc("DELETE /subscriptions/{id}", h.deleteSubscription)

	// Read-through article endpoints (never queued)
	mux.HandleFunc("GET /articles", h.listArticles)
	mux.HandleFunc("GET /articles/{id}", h.getArticle)
	mux.HandleFunc("GET /users/{username}", h.getUser)

	// WebSocket result stream
	mux.Handle("GET /events", ws)

	// Metrics (Prometheus text format)
	var reg *metrics.Registry
	if agg != nil {
		reg = agg.Registry()
	}
	if cfg.Metrics.Enabled && reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(reg),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.Limits.RPS, cfg.Limits.Burst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
