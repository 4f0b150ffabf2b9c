// internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/ratelimit"
	"github.com/webpilot-ai/webpilot/internal/security"
)

// ErrRateLimited is returned when a user has exhausted the session budget
// for the current window. Recoverable: wait for the window to roll over.
var ErrRateLimited = errors.New("rate limit exceeded")

// Persister records session metadata durably. Calls must not block the
// request path; the store's async wrapper satisfies this.
type Persister interface {
	SaveSession(meta schemas.SessionMeta)
	MarkSessionClosed(sessionID string, credits int)
}

// NopPersister is used when no database is configured.
type NopPersister struct{}

func (NopPersister) SaveSession(schemas.SessionMeta) {}
func (NopPersister) MarkSessionClosed(string, int)   {}

// Service is the library boundary the surrounding application calls. It
// wires the rate limiter, security screener, session registry, and action
// executor together; the HTTP layer above it owns status-code mapping and
// billing.
type Service struct {
	limiter   *ratelimit.Limiter
	registry  *browser.Registry
	executor  *executor.Executor
	screener  *security.Screener
	persister Persister
	denyHosts []string
	logger    *zap.Logger
}

// New assembles the core from configuration. The audit sink and persister
// are injected so tests (and database-less deployments) can pass no-ops.
func New(cfg *config.Config, audit executor.AuditSink, persister Persister, logger *zap.Logger) *Service {
	screener := security.NewScreener(logger)
	registry := browser.NewRegistry(cfg.Browser, logger)

	return &Service{
		limiter:   ratelimit.New(cfg.Limits.SessionsPerWindow, cfg.Limits.Window, logger),
		registry:  registry,
		executor:  executor.New(registry, screener, audit, cfg.Limits, cfg.Security, logger),
		screener:  screener,
		persister: persister,
		denyHosts: cfg.Security.DenyHosts,
		logger:    logger.Named("service"),
	}
}

// CreateSession consumes one unit of the user's session budget, validates
// the optional initial URL, and launches a new browser session. Returns the
// new session id.
func (s *Service) CreateSession(ctx context.Context, userID string, opts browser.CreateOptions) (string, error) {
	if res := s.limiter.Check(userID); !res.Allowed {
		s.logger.Info("Session creation rate limited", zap.String("user_id", userID))
		return "", fmt.Errorf("user %q: %w", userID, ErrRateLimited)
	}

	if opts.URL != "" {
		if check := s.screener.ValidateURL(opts.URL, s.denyHosts); !check.Valid {
			return "", fmt.Errorf("initial URL rejected: %s", check.Reason)
		}
	}

	session, err := s.registry.CreateSession(ctx, userID, opts)
	if err != nil {
		return "", err
	}

	status := schemas.SessionActive
	if len(opts.Cookies) > 0 {
		status = schemas.SessionSynced
	}
	s.persister.SaveSession(schemas.SessionMeta{
		ID:                session.ID(),
		UserID:            userID,
		CurrentURL:        session.CurrentURL(),
		Title:             session.Title(),
		Status:            status,
		ChatEnabled:       opts.ChatEnabled,
		NavigationEnabled: opts.NavigationEnabled,
		CreatedAt:         time.Now().UTC(),
	})

	return session.ID(), nil
}

// ExecuteAction runs one action against a session and returns the
// structured result. Billing of CreditsCharged is the caller's job.
func (s *Service) ExecuteAction(ctx context.Context, sessionID string, action schemas.Action) schemas.ActionResult {
	return s.executor.Execute(ctx, sessionID, action)
}

// CloseSession closes a session, recording its final credit total.
// Idempotent: closing an unknown or already-closed session succeeds.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	credits := 0
	if handle, err := s.registry.Lookup(sessionID); err == nil {
		credits = handle.CreditsUsed()
	}

	if err := s.registry.CloseSession(ctx, sessionID); err != nil {
		return err
	}
	s.persister.MarkSessionClosed(sessionID, credits)
	return nil
}

// CheckRateLimit reports the user's remaining session budget without
// consuming it.
func (s *Service) CheckRateLimit(userID string) ratelimit.Result {
	return s.limiter.Peek(userID)
}

// Screener exposes the shared injection screener so collaborators (the AI
// planner in particular) use the same signature corpus.
func (s *Service) Screener() *security.Screener {
	return s.screener
}

// DetectPromptInjection exposes the screener to the surrounding application,
// which also screens chat input before its own AI calls.
func (s *Service) DetectPromptInjection(text string) schemas.Finding {
	return s.screener.DetectPromptInjection(text)
}

// ValidateURL exposes the navigation URL policy.
func (s *Service) ValidateURL(raw string) schemas.URLCheck {
	return s.screener.ValidateURL(raw, s.denyHosts)
}

// Shutdown drains and closes all live sessions.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.registry.Shutdown(ctx)
}
