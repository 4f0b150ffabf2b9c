// api/schemas/security.go
package schemas

import "time"

// Finding is the result of screening one string for prompt-injection
// signatures. A positive finding is a normal value, not an error: the caller
// turns it into a rejected action plus a logged incident.
type Finding struct {
	IsInjection     bool     `json:"isInjection"`
	MatchedPatterns []string `json:"matchedPatterns,omitempty"`
}

// URLCheck is the result of validating a navigation URL against the
// allow/deny policy. Reason is human-readable and safe to show to the user.
type URLCheck struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// SecurityIncident is what gets persisted when screening rejects input. The
// matched pattern identifiers are for audit only; user-facing messages stay
// generic so the signature list is not leaked.
type SecurityIncident struct {
	SessionID       string    `json:"sessionId,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	Source          string    `json:"source"` // e.g. "action_param", "page_content", "agent_goal"
	MatchedPatterns []string  `json:"matchedPatterns"`
	Excerpt         string    `json:"excerpt,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}
