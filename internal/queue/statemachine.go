package queue

// statemachine.go — message lifecycle state transition rules.
//
// State diagram:
//
//	PENDING ──────────► IN_FLIGHT
//	   ▲                    │
//	   │ (retry requeue)    │
//	   └────────────────────┼────────────┐
//	                        ▼            ▼
//	                    SUCCEEDED     FAILED
//	                                (terminal error, retries
//	                                 exhausted, or cancelled)
//
// A still-pending message may also move straight to FAILED when cancelled
// before dispatch. Terminal states never transition out; eviction removes the
// record entirely after the retention window.

import "github.com/pressq/pressq/internal/types"

// ValidTransition reports whether from → to is a legal state change.
// The dispatcher checks every transition against this table before recording
// it, so an invariant violation surfaces as a loud log line instead of a
// silently skewed gauge.
func ValidTransition(from, to types.Status) bool {
	switch from {
	case types.StatusPending:
		// PENDING moves to IN_FLIGHT on dequeue, or directly to FAILED when
		// cancelled before dispatch.
		return to == types.StatusInFlight || to == types.StatusFailed
	case types.StatusInFlight:
		// IN_FLIGHT can:
		//   → SUCCEEDED — remote call succeeded
		//   → FAILED    — terminal failure, retries exhausted, or cancelled
		//   → PENDING   — retryable failure re-queued with backoff
		return to == types.StatusSucceeded || to == types.StatusFailed || to == types.StatusPending
	case types.StatusSucceeded, types.StatusFailed:
		// Terminal. Nothing transitions out; eviction is not a transition.
		return false
	}
	return false
}
