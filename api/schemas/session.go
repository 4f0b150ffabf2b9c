// api/schemas/session.go
package schemas

import "time"

// SessionStatus tracks the lifecycle of a browser session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionClosed SessionStatus = "closed"
	// SessionSynced marks sessions whose cookie jar was imported from the
	// browser extension rather than started fresh.
	SessionSynced SessionStatus = "synced"
)

// SessionMeta is the durable description of a session. It survives process
// restarts; the live page handle behind it does not, so a restart orphans the
// session and the user must create a new one.
type SessionMeta struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	CurrentURL        string        `json:"currentUrl,omitempty"`
	Title             string        `json:"title,omitempty"`
	Status            SessionStatus `json:"status"`
	ChatEnabled       bool          `json:"chatEnabled"`
	NavigationEnabled bool          `json:"navigationEnabled"`
	CreditsUsed       int           `json:"creditsUsed"`
	CreatedAt         time.Time     `json:"createdAt"`
	ClosedAt          *time.Time    `json:"closedAt,omitempty"`
}

// Cookie is one entry of a stored cookie jar, used to seed extension-synced
// sessions into the fresh browser context.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// Persona defines the browser characteristics a session emulates to reduce
// automation fingerprinting.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Timezone  string   `json:"timezone"`
	Locale    string   `json:"locale"`
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}
