// api/schemas/errors_test.go
package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil error", nil, ErrKindNone},
		{"session not found", ErrSessionNotFound, ErrKindSessionNotFound},
		{"wrapped session not found", fmt.Errorf("session %q: %w", "abc", ErrSessionNotFound), ErrKindSessionNotFound},
		{"session closed", fmt.Errorf("session abc: %w", ErrSessionClosed), ErrKindSessionClosed},
		{"selector not found", fmt.Errorf("%w: %q", ErrSelectorNotFound, "#gone"), ErrKindSelectorNotFound},
		{"unrecognized error", errors.New("websocket: bad handshake"), ErrKindInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		ErrKindNone:             false,
		ErrKindPolicyRejection:  false,
		ErrKindInvalidAction:    false,
		ErrKindSessionNotFound:  false,
		ErrKindSessionClosed:    false,
		ErrKindSelectorNotFound: false,
		ErrKindEvaluateFailed:   false,
		ErrKindActionTimeout:    true,
		ErrKindInternal:         false,
	}
	for kind, want := range retryable {
		assert.Equal(t, want, kind.Retryable(), "kind %q", kind)
	}
}
