// Package action maps inbound action names to typed handlers and validates
// payloads before they are allowed into the queue.
//
// The action set is a closed enumeration: every handler is bound when the
// Registry is built, so dispatch is a plain map lookup with no reflection
// beyond struct-tag validation.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pressq/pressq/internal/devto"
	"github.com/pressq/pressq/internal/types"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

// ErrUnknownAction is returned by Resolve for an action name outside the
// closed set. Messages with unknown actions are rejected before enqueue.
var ErrUnknownAction = errors.New("action: unknown action")

// ValidationError describes a single bad payload field. Returned synchronously
// to the submitter; a message failing validation never enters the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("action: invalid field %q: %s", e.Field, e.Reason)
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler binds one action to its payload shape and its adapter operation.
type Handler interface {
	// Action returns the name this handler is registered under.
	Action() types.Action

	// NewPayload returns a fresh pointer to this action's payload struct.
	// The struct's validate tags declare the required fields and types.
	NewPayload() any

	// Invoke executes the validated payload against the remote API and
	// returns the raw remote record.
	Invoke(ctx context.Context, client *devto.Client, payload any) (json.RawMessage, error)
}

// ─── Registry ────────────────────────────────────────────────────────────────

// Registry resolves action names to handlers and validates payloads.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	handlers map[types.Action]Handler
	validate *validator.Validate
}

// NewRegistry builds the registry with the four article handlers bound.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[types.Action]Handler, 4),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, h := range []Handler{
		createArticleHandler{},
		updateArticleHandler{},
		deleteArticleHandler{},
		getArticleHandler{},
	} {
		r.handlers[h.Action()] = h
	}
	return r
}

// Resolve returns the handler for name, or ErrUnknownAction.
func (r *Registry) Resolve(name string) (Handler, error) {
	h, ok := r.handlers[types.Action(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return h, nil
}

// Validate checks data against h's payload shape and returns the typed,
// validated payload. Pure: no side effects, no I/O.
//
// Unknown fields are rejected so typos surface at submission time rather than
// being silently dropped.
func (r *Registry) Validate(h Handler, data map[string]any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &ValidationError{Field: "data", Reason: "not serialisable: " + err.Error()}
	}

	payload := h.NewPayload()
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, decodeError(err)
	}

	if err := r.validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &ValidationError{
				Field:  fieldName(fe),
				Reason: reasonFor(fe),
			}
		}
		return nil, &ValidationError{Field: "data", Reason: err.Error()}
	}
	return payload, nil
}

// decodeError converts a json decoding failure into a ValidationError with
// the offending field where the decoder can name it.
func decodeError(err error) error {
	var tyErr *json.UnmarshalTypeError
	if errors.As(err, &tyErr) {
		return &ValidationError{
			Field:  tyErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", tyErr.Type, tyErr.Value),
		}
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return &ValidationError{Field: field, Reason: "unknown field"}
	}
	return &ValidationError{Field: "data", Reason: msg}
}

// fieldName returns the json name of the failed field, derived from the
// struct field name (snake_case json tags mirror the Go names used here).
func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Title":
		return "title"
	case "Content":
		return "content"
	case "ArticleID":
		return "article_id"
	default:
		return strings.ToLower(fe.Field())
	}
}

// reasonFor renders a stable human-readable reason for a validator failure.
func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing or empty"
	case "min":
		return "value is too short"
	default:
		return "failed " + fe.Tag() + " constraint"
	}
}
