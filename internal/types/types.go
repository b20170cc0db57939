// Package types contains the core domain types shared across all pressq
// internal packages. It deliberately has zero imports of other pressq packages
// so that the queue, dispatch, and store layers can all import from it without
// creating import cycles.
package types

import "encoding/json"

// Status is the lifecycle state of a message inside the routing core.
type Status uint8

const (
	// StatusPending means the message is queued and waiting for a worker.
	StatusPending Status = iota
	// StatusInFlight means a dispatch worker has exclusive ownership of the
	// message and the remote call may be in progress.
	StatusInFlight
	// StatusSucceeded means the remote operation completed successfully.
	// Terminal.
	StatusSucceeded
	// StatusFailed means the message ended in failure: a terminal remote
	// error, exhausted retries, or cancellation. Terminal.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in_flight"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Action is one of the supported article operations. The set is closed:
// handlers are bound at initialisation time, never looked up dynamically.
type Action string

const (
	ActionCreateArticle Action = "create_article"
	ActionUpdateArticle Action = "update_article"
	ActionDeleteArticle Action = "delete_article"
	ActionGetArticle    Action = "get_article"
)

// Actions lists every supported action in registration order.
func Actions() []Action {
	return []Action{
		ActionCreateArticle,
		ActionUpdateArticle,
		ActionDeleteArticle,
		ActionGetArticle,
	}
}

// FailureKind classifies why a message ended in StatusFailed, or why a single
// adapter call failed. The dispatcher uses the kind to decide between retrying
// and finalising.
type FailureKind string

const (
	// KindNetworkError covers timeouts and transport-level failures.
	KindNetworkError FailureKind = "network_error"
	// KindAuthError means the remote rejected the credential (401/403).
	KindAuthError FailureKind = "auth_error"
	// KindNotFound means the target article does not exist remotely (404).
	KindNotFound FailureKind = "not_found"
	// KindRateLimited means the remote signalled throttling (429).
	KindRateLimited FailureKind = "rate_limited"
	// KindRemoteValidation means the remote rejected the payload (422).
	KindRemoteValidation FailureKind = "remote_validation_error"
	// KindUnknownRemote covers any other remote response, including 5xx.
	KindUnknownRemote FailureKind = "unknown_remote_error"
	// KindRetriesExhausted means every allowed attempt failed retryably.
	KindRetriesExhausted FailureKind = "retries_exhausted"
	// KindCancelled means the submitter cancelled the message.
	KindCancelled FailureKind = "cancelled"
)

// Retryable reports whether a single adapter failure of this kind is eligible
// for another attempt. Transport problems and rate limiting are transient;
// 5xx responses are treated as transient too. Everything else is final.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindNetworkError, KindRateLimited, KindUnknownRemote:
		return true
	}
	return false
}

// Message is a single inbound action request with its payload and lifecycle
// status. Created on submission; status is mutated only by the dispatcher.
//
// All timestamps are UTC milliseconds since Unix epoch. IDs are ULID strings:
// time-sortable and unique, so an id is never reused within any retention
// window by construction.
type Message struct {
	// ID uniquely identifies this message for its lifetime in the system.
	ID string `json:"id"`

	// Action names the operation to dispatch.
	Action Action `json:"action"`

	// Payload is the raw field→value mapping supplied by the submitter.
	// It has already passed registry validation before entering the queue.
	Payload map[string]any `json:"payload"`

	// SubmittedAt is the UTC millisecond when the message was accepted.
	SubmittedAt int64 `json:"submitted_at"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// Outcome is the final disposition of a message: either success with the
// remote record, or a classified failure.
type Outcome struct {
	Success bool `json:"success"`

	// Data holds the raw remote record on success (nil otherwise).
	Data json.RawMessage `json:"data,omitempty"`

	// Kind and Detail describe the failure (empty on success).
	Kind   FailureKind `json:"kind,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// ActionResult is the immutable record produced when a message reaches a
// terminal status. The dispatcher produces it; the result store and the
// submitter consume it.
type ActionResult struct {
	MessageID   string  `json:"message_id"`
	Action      Action  `json:"action"`
	Outcome     Outcome `json:"outcome"`
	Attempts    int     `json:"attempts"`
	CompletedAt int64   `json:"completed_at"`
}
