// api/schemas/errors.go
package schemas

import "errors"

// Sentinel errors shared between the session registry and the executor. The
// executor maps these onto ErrorKind values; callers outside the core only
// ever see the structured ActionResult.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrSelectorNotFound = errors.New("selector not found")
)

// ClassifyError maps a dispatch error onto the error taxonomy. Unrecognized
// errors land in ErrKindInternal.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrKindNone
	case errors.Is(err, ErrSessionNotFound):
		return ErrKindSessionNotFound
	case errors.Is(err, ErrSessionClosed):
		return ErrKindSessionClosed
	case errors.Is(err, ErrSelectorNotFound):
		return ErrKindSelectorNotFound
	default:
		return ErrKindInternal
	}
}
