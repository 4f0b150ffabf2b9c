// internal/browser/session_test.go
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// newTestSession builds a session around a fake driver, no Chrome involved.
func newTestSession(t *testing.T, run runFunc) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           "test-session",
		userID:       "user-1",
		ctx:          ctx,
		cancel:       cancel,
		run:          run,
		logger:       zap.NewNop(),
		selectorWait: 50 * time.Millisecond,
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func okRunner(context.Context, ...chromedp.Action) error { return nil }

func TestSessionClose(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		var closes atomic.Int32
		s := newTestSession(t, okRunner)
		s.onClose = func() { closes.Add(1) }

		require.NoError(t, s.Close(context.Background()))
		require.NoError(t, s.Close(context.Background()))
		require.NoError(t, s.Close(context.Background()))

		assert.Equal(t, int32(1), closes.Load())
	})

	t.Run("rejects operations after close", func(t *testing.T) {
		s := newTestSession(t, okRunner)
		require.NoError(t, s.Close(context.Background()))

		err := s.NavigateTo(context.Background(), "https://example.com")
		assert.ErrorIs(t, err, schemas.ErrSessionClosed)

		_, err = s.CaptureScreenshot(context.Background())
		assert.ErrorIs(t, err, schemas.ErrSessionClosed)

		_, err = s.ExtractText(context.Background(), "body")
		assert.ErrorIs(t, err, schemas.ErrSessionClosed)
	})

	t.Run("converts driver errors from a mid-action close", func(t *testing.T) {
		var s *Session
		s = newTestSession(t, func(ctx context.Context, actions ...chromedp.Action) error {
			// The page dies while the action is in flight.
			_ = s.Close(context.Background())
			return errors.New("websocket: close 1006")
		})

		err := s.TypeInto(context.Background(), "#q", "hello")
		assert.ErrorIs(t, err, schemas.ErrSessionClosed)
	})
}

func TestSessionAwaitSelector(t *testing.T) {
	t.Run("missing element reports selector not found", func(t *testing.T) {
		blocking := func(ctx context.Context, actions ...chromedp.Action) error {
			<-ctx.Done()
			return ctx.Err()
		}
		s := newTestSession(t, blocking)

		err := s.ClickSelector(context.Background(), "#does-not-exist")
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrSelectorNotFound)
		assert.Contains(t, err.Error(), "#does-not-exist")
	})

	t.Run("caller cancellation is not misreported as a missing element", func(t *testing.T) {
		blocking := func(ctx context.Context, actions ...chromedp.Action) error {
			<-ctx.Done()
			return ctx.Err()
		}
		s := newTestSession(t, blocking)
		s.selectorWait = 10 * time.Second

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := s.ClickSelector(ctx, "#slow")
		require.Error(t, err)
		assert.NotErrorIs(t, err, schemas.ErrSelectorNotFound)
	})
}

// TestSessionSerializesDispatch verifies that two concurrent actions against
// the same session never overlap on the driver.
func TestSessionSerializesDispatch(t *testing.T) {
	var inflight, peak atomic.Int32
	slow := func(ctx context.Context, actions ...chromedp.Action) error {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return nil
	}
	s := newTestSession(t, slow)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CaptureScreenshot(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "dispatches for one session must be serialized")
}

func TestSessionCredits(t *testing.T) {
	s := newTestSession(t, okRunner)

	assert.Equal(t, 0, s.CreditsUsed())
	s.AddCredits(10)
	s.AddCredits(15)
	assert.Equal(t, 25, s.CreditsUsed())
}

func TestCombineContext(t *testing.T) {
	t.Run("cancelled when the secondary context dies", func(t *testing.T) {
		primary := context.Background()
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := combineContext(primary, secondary)
		defer cancel()

		cancelSecondary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe secondary cancellation")
		}
	})

	t.Run("cancelled when the primary context dies", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		secondary := context.Background()

		combined, cancel := combineContext(primary, secondary)
		defer cancel()

		cancelPrimary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe primary cancellation")
		}
	})
}
