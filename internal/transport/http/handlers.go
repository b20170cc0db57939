package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pressq/pressq/internal/action"
	"github.com/pressq/pressq/internal/devto"
	"github.com/pressq/pressq/internal/dispatch"
	"github.com/pressq/pressq/internal/metrics"
	"github.com/pressq/pressq/internal/notify"
	"github.com/pressq/pressq/internal/queue"
	"github.com/pressq/pressq/internal/types"
)

// Handler groups all HTTP request handlers around the dispatcher.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	agg        *metrics.Aggregator
	notifier   *notify.Manager
	devto      *devto.Client
	serverID   string
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type submitReq struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

type submitResp struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Action    string `json:"action"`
}

type messageResp struct {
	MessageID string         `json:"message_id"`
	Status    string         `json:"status"`
	Action    types.Action   `json:"action,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	Outcome   *types.Outcome `json:"outcome,omitempty"`
	Completed int64          `json:"completed_at,omitempty"`
}

type subscribeReq struct {
	URL     string         `json:"url"`
	Secret  string         `json:"secret"`
	Actions []types.Action `json:"actions"`
}

type healthResp struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

var startTime = time.Now()

// ─── Health / status ──────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		ServerID: h.serverID,
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  "1.0.0",
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agg.Snapshot())
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (h *Handler) submitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	msg, err := h.dispatcher.Submit(r.Context(), req.Action, req.Data)
	if err != nil {
		var verr *action.ValidationError
		switch {
		case errors.Is(err, action.ErrUnknownAction):
			writeError(w, http.StatusNotFound, err)
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": verr.Error(),
				"field": verr.Field,
			})
		case errors.Is(err, queue.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitResp{
		Status:    "accepted",
		MessageID: msg.ID,
		Action:    string(msg.Action),
	})
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, res, err := h.dispatcher.Lookup(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	resp := messageResp{MessageID: id, Status: status.String()}
	if res != nil {
		resp.Action = res.Action
		resp.Attempts = res.Attempts
		resp.Outcome = &res.Outcome
		resp.Completed = res.CompletedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.dispatcher.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation_requested"})
	case errors.Is(err, dispatch.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusNotFound, err)
	}
}

// ─── Subscriptions (webhook) ──────────────────────────────────────────────────

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscribeReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	sub, err := h.notifier.Register(req.URL, req.Secret, req.Actions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.notifier.Deregister(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.notifier.List()
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// ─── Read-through article endpoints ───────────────────────────────────────────
//
// Reads are served synchronously against the remote API. They never touch the
// queue: there is nothing to retry and the caller wants the current record.

func (h *Handler) listArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := devto.ListOptions{
		Tag:      q.Get("tag"),
		Username: q.Get("username"),
	}
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page must be a positive integer"})
			return
		}
		opts.Page = n
	}
	h.proxyRead(w, func() (json.RawMessage, error) {
		return h.devto.ListArticles(r.Context(), opts)
	})
}

func (h *Handler) getArticle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.proxyRead(w, func() (json.RawMessage, error) {
		return h.devto.GetArticle(r.Context(), id)
	})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	h.proxyRead(w, func() (json.RawMessage, error) {
		return h.devto.GetUser(r.Context(), username)
	})
}

// proxyRead runs a remote read and relays the body, mapping remote failures
// onto sensible gateway codes.
func (h *Handler) proxyRead(w http.ResponseWriter, call func() (json.RawMessage, error)) {
	data, err := call()
	if err != nil {
		var ae *devto.APIError
		if errors.As(err, &ae) && ae.StatusCode != 0 {
			writeJSON(w, ae.StatusCode, map[string]string{"error": ae.Message})
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
