// api/schemas/results.go
package schemas

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies an action failure so callers can decide whether to
// retry, recreate the session, or change their input. The taxonomy is
// deliberately small; callers should not need to parse error strings.
type ErrorKind string

const (
	// ErrKindNone marks a successful result.
	ErrKindNone ErrorKind = ""

	// PolicyRejection: rate limit, security screener, or URL policy said no.
	// Recoverable by the caller; retrying the same input will not help.
	ErrKindPolicyRejection ErrorKind = "policy_rejection"

	// InvalidAction: the action failed structural validation before any
	// screening or dispatch took place.
	ErrKindInvalidAction ErrorKind = "invalid_action"

	// SessionFault kinds. Recoverable by creating a new session.
	ErrKindSessionNotFound ErrorKind = "session_not_found"
	ErrKindSessionClosed   ErrorKind = "session_closed"

	// ActionFault kinds. SelectorNotFound will not resolve on retry;
	// ActionTimeout is safe to retry.
	ErrKindSelectorNotFound ErrorKind = "selector_not_found"
	ErrKindEvaluateFailed   ErrorKind = "evaluate_failed"
	ErrKindActionTimeout    ErrorKind = "action_timeout"

	// Internal: driver crash or other unexpected fault. The session is torn
	// down but the process stays alive.
	ErrKindInternal ErrorKind = "internal"
)

// Retryable reports whether retrying the same action on the same session is
// worthwhile.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindActionTimeout
}

// ActionResult is the uniform envelope returned for every executed action,
// successful or not. Failures are data, not panics; the caller inspects
// ErrorKind rather than the error string.
type ActionResult struct {
	SessionID string     `json:"sessionId"`
	Kind      ActionKind `json:"kind"`
	Success   bool       `json:"success"`

	// Data holds the action's payload on success: the final URL for
	// navigate, base64 PNG bytes for screenshot, extracted text for
	// extract, the script's JSON value for evaluate.
	Data json.RawMessage `json:"data,omitempty"`

	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Error     string    `json:"error,omitempty"`

	// MatchedPatterns identifies the injection signatures that rejected the
	// action. Pattern ids only; the raw signatures are never exposed.
	MatchedPatterns []string `json:"matchedPatterns,omitempty"`

	// SecurityWarnings carries non-fatal observations, e.g. the page ending
	// up on a different host than requested mid-action.
	SecurityWarnings []string `json:"securityWarnings,omitempty"`

	// CreditsCharged is the fixed cost of the action when it succeeded and 0
	// otherwise. The billing collaborator debits this amount.
	CreditsCharged int `json:"creditsCharged"`

	Elapsed time.Duration `json:"elapsedNs"`
}

// ActionLogEntry is what the persistence collaborator records per executed
// action, fire-and-forget.
type ActionLogEntry struct {
	SessionID  string     `json:"sessionId"`
	UserID     string     `json:"userId"`
	Kind       ActionKind `json:"kind"`
	Success    bool       `json:"success"`
	ErrorKind  ErrorKind  `json:"errorKind,omitempty"`
	Credits    int        `json:"credits"`
	OccurredAt time.Time  `json:"occurredAt"`
}
