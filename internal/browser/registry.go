// internal/browser/registry.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser/stealth"
	"github.com/webpilot-ai/webpilot/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// CreateOptions configures a new session.
type CreateOptions struct {
	// URL, when set, is navigated to immediately after the page is ready.
	// The caller is responsible for having validated it.
	URL               string
	ChatEnabled       bool
	NavigationEnabled bool
	// Cookies seeds the fresh browser context, for extension-synced sessions.
	Cookies []schemas.Cookie
	// Persona overrides the default stealth profile.
	Persona *schemas.Persona
}

// Registry maps session ids to live browser pages. It owns the shared
// browser allocator, caps how many pages are open at once, and guarantees
// that a session id is never reused after close.
//
// The registry holds only in-process state. Persisting session metadata is
// the surrounding application's job; after a restart every live handle is
// gone and callers must create new sessions.
type Registry struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// Allocator state; initialization is deferred until the first session.
	allocCtx    context.Context
	allocCancel context.CancelFunc
	initOnce    sync.Once
	initErr     error

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	sem      *semaphore.Weighted

	// Injection points for tests: newTab spawns a page context off the
	// allocator, runner executes chromedp actions.
	newTab func(parent context.Context) (context.Context, context.CancelFunc)
	runner runFunc
}

// NewRegistry creates a session registry. The browser process is not
// launched until the first session is requested.
func NewRegistry(cfg config.BrowserConfig, logger *zap.Logger) *Registry {
	r := &Registry{
		cfg:      cfg,
		logger:   logger.Named("registry"),
		sessions: make(map[string]*Session),
		sem:      semaphore.NewWeighted(cfg.MaxPages),
		runner:   chromedp.Run,
	}
	r.newTab = func(parent context.Context) (context.Context, context.CancelFunc) {
		return chromedp.NewContext(parent)
	}
	r.logger.Info("Session registry created (browser launch deferred).")
	return r
}

// initialize launches the shared exec allocator exactly once. A configured
// executable that cannot be found fails here, before any page slot is taken,
// and the failure is sticky for the registry's lifetime.
func (r *Registry) initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		if r.cfg.ExecPath != "" {
			if _, err := exec.LookPath(r.cfg.ExecPath); err != nil && !errors.Is(err, exec.ErrDot) {
				r.initErr = fmt.Errorf("browser executable %q not usable: %w", r.cfg.ExecPath, err)
				return
			}
		}

		r.logger.Info("Launching browser allocator.",
			zap.Bool("headless", r.cfg.Headless),
			zap.Int64("max_pages", r.cfg.MaxPages),
		)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", r.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.NoSandbox,
		)
		if r.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
		}
		if r.cfg.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		for _, arg := range r.cfg.Args {
			name, value, ok := parseFlag(arg)
			if !ok {
				r.logger.Warn("Skipping malformed browser argument.", zap.String("arg", arg))
				continue
			}
			opts = append(opts, chromedp.Flag(name, value))
		}

		// The allocator lives for the registry's lifetime, detached from the
		// creation call's deadline.
		r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return r.initErr
}

// CreateSession launches a new page, applies the stealth persona, seeds
// cookies if provided, and registers the session under a fresh random id.
func (r *Registry) CreateSession(ctx context.Context, userID string, opts CreateOptions) (*Session, error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}

	// Bound concurrently open pages. Waiting respects the caller's deadline.
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free page slot: %w", err)
	}

	id := uuid.NewString()
	tabCtx, tabCancel := r.newTab(r.allocCtx)

	s := &Session{
		id:           id,
		userID:       userID,
		ctx:          tabCtx,
		cancel:       tabCancel,
		run:          r.runner,
		logger:       r.logger.With(zap.String("session_id", id), zap.String("user_id", userID)),
		selectorWait: r.cfg.SelectorWait,
	}

	r.wg.Add(1)
	s.onClose = func() {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		r.sem.Release(1)
		r.wg.Done()
		r.logger.Debug("Session removed from registry.", zap.String("session_id", id))
	}

	if err := r.setupSession(ctx, s, opts); err != nil {
		// Release resources via the normal close path; the session never
		// became visible so nothing else can be holding it.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Close(cleanupCtx)
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Info("New session created.", zap.String("session_id", id), zap.String("user_id", userID))
	return s, nil
}

// setupSession applies per-session configuration before the session becomes
// visible to lookups.
func (r *Registry) setupSession(ctx context.Context, s *Session, opts CreateOptions) error {
	if r.cfg.Stealth {
		persona := schemas.DefaultPersona
		if opts.Persona != nil {
			persona = *opts.Persona
		}
		if err := s.runActions(ctx, stealth.Apply(persona, s.logger)); err != nil {
			return fmt.Errorf("failed to apply stealth persona: %w", err)
		}
	}

	if err := s.seedCookies(ctx, opts.Cookies); err != nil {
		return err
	}

	if opts.URL != "" {
		if err := s.NavigateTo(ctx, opts.URL); err != nil {
			return err
		}
	}
	return nil
}

// Lookup resolves a session id to its live handle. Closed sessions have been
// deregistered, so both "never existed" and "already closed" surface as
// ErrSessionNotFound.
func (r *Registry) Lookup(sessionID string) (schemas.SessionHandle, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, schemas.ErrSessionNotFound)
	}
	return s, nil
}

// CloseSession closes the session with the given id. Closing an unknown or
// already-closed session is a no-op.
func (r *Registry) CloseSession(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// ActiveSessions returns how many sessions are currently live.
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown closes every session, waits for them to drain, and tears down the
// browser allocator.
func (r *Registry) Shutdown(ctx context.Context) error {
	ctx, cancel := shutdownContext(ctx)
	defer cancel()

	r.logger.Info("Shutting down session registry.")

	r.mu.RLock()
	toClose := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		toClose = append(toClose, s)
	}
	r.mu.RUnlock()

	for _, s := range toClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				r.logger.Warn("Error closing session during shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("All sessions closed gracefully.")
	case <-ctx.Done():
		r.logger.Warn("Timeout waiting for sessions to close; proceeding with forced shutdown.", zap.Error(ctx.Err()))
	}

	if r.allocCancel != nil {
		r.allocCancel()
	}

	r.logger.Info("Session registry shutdown complete.")
	return nil
}

// shutdownContext bounds a shutdown context by the grace period when the
// caller supplied no deadline of its own, so Shutdown(context.Background())
// cannot hang on a wedged page.
func shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, shutdownGracePeriod)
}

// parseFlag splits a raw "--name=value" or "--name" browser argument into a
// chromedp flag pair.
func parseFlag(arg string) (string, interface{}, bool) {
	trimmed := strings.TrimPrefix(arg, "--")
	if trimmed == "" {
		return "", nil, false
	}
	if name, value, found := strings.Cut(trimmed, "="); found {
		if name == "" {
			return "", nil, false
		}
		return name, value, true
	}
	return trimmed, true, true
}
