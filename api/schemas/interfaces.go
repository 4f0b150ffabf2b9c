// api/schemas/interfaces.go
package schemas

import (
	"context"
	"encoding/json"
)

// SessionHandle is the contract a live browser session exposes to the action
// executor and the agent. The concrete implementation lives in
// internal/browser; tests substitute fakes.
//
// All page operations combine the session's lifecycle context with the
// caller's context, so either cancelling the call or closing the session
// aborts the operation. Every method returns ErrSessionClosed once the
// session has been closed.
type SessionHandle interface {
	ID() string
	UserID() string

	// Last-known page state, updated after each successful operation.
	CurrentURL() string
	Title() string

	NavigateTo(ctx context.Context, url string) error
	ClickSelector(ctx context.Context, selector string) error
	TypeInto(ctx context.Context, selector, value string) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	ExtractText(ctx context.Context, selector string) (string, error)
	EvaluateScript(ctx context.Context, code string) (json.RawMessage, error)

	// AddCredits accumulates the session's consumed credit total.
	AddCredits(n int)
	CreditsUsed() int

	Close(ctx context.Context) error
}
