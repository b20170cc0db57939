// Package websocket streams terminal action results to connected clients.
//
// Clients open a WebSocket connection to:
//
//	GET /events?action=create_article
//
// Every terminal ActionResult is pushed as a JSON frame the moment the
// dispatcher finalises it. The optional action query parameter restricts the
// stream to one action; omitted means all results.
//
// Server → client frame:
//
//	{"type":"result","message_id":"<ULID>","action":"...","outcome":{...},"attempts":1,"completed_at":...}
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	gorillaws "github.com/gorilla/websocket"

	"github.com/pressq/pressq/internal/types"
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin upgrade requests. A request is
	// same-origin when its Origin host matches the Host header
	// (scheme-agnostic). Requests without an Origin header (native clients,
	// curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// ResultSource is the subscription surface the handler needs from the
// dispatcher.
type ResultSource interface {
	Subscribe() (<-chan *types.ActionResult, func())
}

// Handler serves the result stream endpoint.
type Handler struct {
	Source ResultSource
}

// serverFrame is the JSON structure the server sends to the client.
type serverFrame struct {
	Type string `json:"type"` // "result"
	*types.ActionResult
}

// ServeHTTP upgrades the connection and streams results until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := types.Action(r.URL.Query().Get("action"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Source.Subscribe()
	defer cancel()

	// Drain client frames so ping/pong and close frames are processed; the
	// stream is one-way otherwise.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return // client disconnected
		case res, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && res.Action != filter {
				continue
			}
			data, _ := json.Marshal(serverFrame{Type: "result", ActionResult: res})
			if writeErr := conn.WriteMessage(gorillaws.TextMessage, data); writeErr != nil {
				return
			}
		}
	}
}
