// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// runFunc executes chromedp actions against a tab context. Production binds
// chromedp.Run; tests substitute a fake so no Chrome process is needed.
type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// Session owns one live browser page. It implements schemas.SessionHandle.
//
// All page operations for one session are serialized by dispatchMu: a second
// action for the same session waits until the first finishes, so two actions
// can never race on the same DOM. Operations on different sessions run
// concurrently.
type Session struct {
	id     string
	userID string

	// ctx is the chromedp tab context; cancelling it destroys the page.
	ctx    context.Context
	cancel context.CancelFunc

	run          runFunc
	logger       *zap.Logger
	selectorWait time.Duration

	dispatchMu sync.Mutex

	// Last-known page state, guarded separately so reads don't wait on a
	// dispatch in flight.
	stateMu    sync.RWMutex
	currentURL string
	title      string

	credits atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	onClose   func()
}

var _ schemas.SessionHandle = (*Session)(nil)

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// CurrentURL returns the last-known page URL.
func (s *Session) CurrentURL() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.currentURL
}

// Title returns the last-known page title.
func (s *Session) Title() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.title
}

// AddCredits accumulates the session's consumed credit total.
func (s *Session) AddCredits(n int) { s.credits.Add(int64(n)) }

// CreditsUsed returns the cumulative credits consumed by this session.
func (s *Session) CreditsUsed() int { return int(s.credits.Load()) }

// Close tears down the underlying page. Idempotent: closing an already
// closed session is a no-op, not an error.
func (s *Session) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.logger.Info("Closing session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// guard rejects operations on a closed session before they reach the driver.
func (s *Session) guard() error {
	if s.closed.Load() {
		return fmt.Errorf("session %s: %w", s.id, schemas.ErrSessionClosed)
	}
	return nil
}

// runActions executes chromedp actions under a context that dies when either
// the caller gives up or the session is closed. The combined context must
// descend from the tab context because chromedp resolves its target from it.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	err := s.run(combined, actions...)
	if err != nil && s.closed.Load() {
		// The page went away mid-action; report the session fault rather
		// than whatever the driver surfaced.
		return fmt.Errorf("session %s: %w", s.id, schemas.ErrSessionClosed)
	}
	return err
}

// NavigateTo loads a URL and waits for the page to settle.
func (s *Session) NavigateTo(ctx context.Context, url string) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.logger.Info("Navigating", zap.String("url", url))
	err := s.runActions(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %q failed: %w", url, err)
	}

	return s.refreshState(ctx)
}

// ClickSelector clicks the first visible element matching the CSS selector.
// The wait for the element is bounded; a missing element is reported as
// ErrSelectorNotFound, which will not resolve on retry.
func (s *Session) ClickSelector(ctx context.Context, selector string) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if err := s.awaitSelector(ctx, selector); err != nil {
		return err
	}
	if err := s.runActions(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}

	// A click may have triggered a navigation; refresh the cached state.
	return s.refreshState(ctx)
}

// TypeInto focuses the element matching the selector and types the value.
func (s *Session) TypeInto(ctx context.Context, selector, value string) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if err := s.awaitSelector(ctx, selector); err != nil {
		return err
	}
	err := s.runActions(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("typing into %q failed: %w", selector, err)
	}
	return nil
}

// CaptureScreenshot captures the current viewport as PNG bytes.
func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// ExtractText reads the visible text content of the element matching the
// selector.
func (s *Session) ExtractText(ctx context.Context, selector string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if err := s.awaitSelector(ctx, selector); err != nil {
		return "", err
	}
	var text string
	if err := s.runActions(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract from %q failed: %w", selector, err)
	}
	return text, nil
}

// EvaluateScript runs a script against the page and returns its JSON value.
// Promises are awaited; exceptions surface as errors.
func (s *Session) EvaluateScript(ctx context.Context, code string) (json.RawMessage, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	var res json.RawMessage
	err := s.runActions(ctx,
		chromedp.Evaluate(code, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return res, nil
}

// awaitSelector waits for the selector to become visible within the bounded
// selector wait. When the bound fires while the caller's context is still
// alive, the element is genuinely absent.
func (s *Session) awaitSelector(ctx context.Context, selector string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.selectorWait)
	defer cancel()

	err := s.runActions(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && waitCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %q", schemas.ErrSelectorNotFound, selector)
	}
	return err
}

// refreshState re-reads the page URL and title into the cached state.
func (s *Session) refreshState(ctx context.Context) error {
	var loc, title string
	err := s.runActions(ctx,
		chromedp.Location(&loc),
		chromedp.Title(&title),
	)
	if err != nil {
		return fmt.Errorf("failed to read page state: %w", err)
	}

	s.stateMu.Lock()
	s.currentURL = loc
	s.title = title
	s.stateMu.Unlock()

	s.logger.Debug("Session state updated", zap.String("url", loc), zap.String("title", title))
	return nil
}

// seedCookies imports a stored cookie jar into the fresh browser context,
// used for extension-synced sessions.
func (s *Session) seedCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	return s.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(orDefault(c.Path, "/")).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %q for %q: %w", c.Name, c.Domain, err)
			}
		}
		return nil
	}))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// combineContext creates a child of primary that is additionally cancelled
// when secondary is done. The result carries primary's values, which is what
// lets chromedp find its target on the combined context.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
