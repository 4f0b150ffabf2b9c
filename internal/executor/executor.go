// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/security"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// genericSecurityMessage is what end users see when the screener rejects
// input. The matched pattern ids travel separately for audit; the raw
// signatures never leave the security package.
const genericSecurityMessage = "action blocked for security reasons"

// Resolver maps a session id to its live handle. Satisfied by
// *browser.Registry; tests substitute fakes.
type Resolver interface {
	Lookup(sessionID string) (schemas.SessionHandle, error)
}

// Executor runs validated, screened actions against live sessions. Every
// action walks the same state machine: Validated, then Screened, then
// Dispatched, ending in Succeeded or Failed(kind). No action skips from
// Validated straight to Dispatched.
type Executor struct {
	resolver  Resolver
	screener  *security.Screener
	audit     AuditSink
	logger    *zap.Logger
	denyHosts []string

	// pacer smooths dispatch across all sessions; nil disables pacing.
	pacer   *rate.Limiter
	timeout time.Duration

	now func() time.Time
}

// New wires an executor from its collaborators and the policy constants.
func New(
	resolver Resolver,
	screener *security.Screener,
	audit AuditSink,
	limits config.LimitsConfig,
	secCfg config.SecurityConfig,
	logger *zap.Logger,
) *Executor {
	var pacer *rate.Limiter
	if limits.ActionsPerSecond > 0 {
		burst := limits.ActionBurst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(limits.ActionsPerSecond), burst)
	}

	return &Executor{
		resolver:  resolver,
		screener:  screener,
		audit:     audit,
		logger:    logger.Named("executor"),
		denyHosts: secCfg.DenyHosts,
		pacer:     pacer,
		timeout:   limits.ActionTimeout,
		now:       time.Now,
	}
}

// Execute runs one action against one session and always returns a
// structured result; driver faults are converted into the error taxonomy
// rather than propagated as crashes.
func (e *Executor) Execute(ctx context.Context, sessionID string, action schemas.Action) schemas.ActionResult {
	started := e.now()
	res := schemas.ActionResult{SessionID: sessionID, Kind: action.Kind}

	// 1. Validate. Unknown kinds and malformed parameters never reach the
	// screener, let alone the browser.
	if err := action.Validate(); err != nil {
		return e.finish(nil, res, started, schemas.ErrKindInvalidAction, err.Error())
	}

	// 2. Resolve the session.
	session, err := e.resolver.Lookup(sessionID)
	if err != nil {
		return e.finish(nil, res, started, schemas.ClassifyError(err), err.Error())
	}

	// 3. Screen every free-form parameter. A flagged action fails here, with
	// the incident recorded for audit and a generic message for the user.
	if finding := e.screener.ScreenAll(action.FreeTextFields()); finding.IsInjection {
		e.audit.RecordIncident(schemas.SecurityIncident{
			SessionID:       sessionID,
			UserID:          session.UserID(),
			Source:          "action_param",
			MatchedPatterns: finding.MatchedPatterns,
			OccurredAt:      e.now().UTC(),
		})
		res.MatchedPatterns = finding.MatchedPatterns
		return e.finish(session, res, started, schemas.ErrKindPolicyRejection, genericSecurityMessage)
	}

	// 4. Navigation URLs additionally pass the URL policy.
	if action.Kind == schemas.ActionNavigate {
		if check := e.screener.ValidateURL(action.Navigate.URL, e.denyHosts); !check.Valid {
			return e.finish(session, res, started, schemas.ErrKindPolicyRejection, check.Reason)
		}
	}

	// 5. Pace dispatch so a burst of sessions cannot stampede the browser.
	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			return e.finish(session, res, started, schemas.ErrKindInternal, fmt.Sprintf("cancelled while pacing: %v", err))
		}
	}

	// 6. Dispatch under the action timeout. The combined session/call
	// context inside the session cancels the underlying browser operation
	// when the deadline fires.
	dispatchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	hostBefore := hostOf(session.CurrentURL())
	data, err := e.dispatch(dispatchCtx, session, action)
	if err != nil {
		kind := e.classifyDispatchError(dispatchCtx, action, err)
		return e.finish(session, res, started, kind, err.Error())
	}

	// 7. Success. Flag non-fatal drift to an unexpected host, charge the
	// fixed cost, and report the outcome.
	res.SecurityWarnings = e.driftWarnings(action, hostBefore, session.CurrentURL())
	res.Success = true
	res.Data = data
	res.CreditsCharged = action.Cost()
	session.AddCredits(res.CreditsCharged)

	return e.finish(session, res, started, schemas.ErrKindNone, "")
}

// dispatch routes the action to the matching page primitive and shapes its
// payload.
func (e *Executor) dispatch(ctx context.Context, session schemas.SessionHandle, action schemas.Action) ([]byte, error) {
	switch action.Kind {
	case schemas.ActionNavigate:
		if err := session.NavigateTo(ctx, action.Navigate.URL); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{
			"url":   session.CurrentURL(),
			"title": session.Title(),
		})

	case schemas.ActionClick:
		if err := session.ClickSelector(ctx, action.Click.Target); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"url": session.CurrentURL()})

	case schemas.ActionType:
		if err := session.TypeInto(ctx, action.Type.Target, action.Type.Value); err != nil {
			return nil, err
		}
		return nil, nil

	case schemas.ActionScreenshot:
		png, err := session.CaptureScreenshot(ctx)
		if err != nil {
			return nil, err
		}
		// []byte marshals to base64, which is what the HTTP layer wants.
		return json.Marshal(map[string][]byte{"screenshot": png})

	case schemas.ActionExtract:
		text, err := session.ExtractText(ctx, action.Extract.Target)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"text": text})

	case schemas.ActionEvaluate:
		value, err := session.EvaluateScript(ctx, action.Evaluate.Code)
		if err != nil {
			return nil, err
		}
		return value, nil
	}

	// Validate() makes this unreachable; keep the executor total anyway.
	return nil, fmt.Errorf("unknown action kind %q", action.Kind)
}

// classifyDispatchError maps a dispatch failure onto the taxonomy, treating
// the bounded-deadline case as a retryable timeout.
func (e *Executor) classifyDispatchError(dispatchCtx context.Context, action schemas.Action, err error) schemas.ErrorKind {
	if kind := schemas.ClassifyError(err); kind != schemas.ErrKindInternal {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) || dispatchCtx.Err() == context.DeadlineExceeded {
		return schemas.ErrKindActionTimeout
	}
	if action.Kind == schemas.ActionEvaluate {
		// The script itself threw; the session is fine.
		return schemas.ErrKindEvaluateFailed
	}
	return schemas.ErrKindInternal
}

// driftWarnings reports when an action left the page on a different host
// than expected. Non-fatal: the result still succeeds, the caller decides
// what to do with the warning.
func (e *Executor) driftWarnings(action schemas.Action, hostBefore, finalURL string) []string {
	finalHost := hostOf(finalURL)
	if finalHost == "" {
		return nil
	}

	switch action.Kind {
	case schemas.ActionNavigate:
		if requested := hostOf(action.Navigate.URL); requested != "" && requested != finalHost {
			return []string{fmt.Sprintf("navigation requested host %q but landed on %q", requested, finalHost)}
		}
	case schemas.ActionClick:
		if hostBefore != "" && hostBefore != finalHost {
			return []string{fmt.Sprintf("click navigated from host %q to %q", hostBefore, finalHost)}
		}
	}
	return nil
}

// finish stamps the result, logs it, and fans it out to the audit sink.
func (e *Executor) finish(session schemas.SessionHandle, res schemas.ActionResult, started time.Time, kind schemas.ErrorKind, errMsg string) schemas.ActionResult {
	res.Elapsed = e.now().Sub(started)
	if kind != schemas.ErrKindNone {
		res.Success = false
		res.ErrorKind = kind
		res.Error = errMsg
	}

	userID := ""
	if session != nil {
		userID = session.UserID()
	}

	if res.Success {
		e.logger.Info("Action succeeded",
			zap.String("session_id", res.SessionID),
			zap.String("kind", string(res.Kind)),
			zap.Int("credits", res.CreditsCharged),
			zap.Duration("elapsed", res.Elapsed),
		)
	} else {
		e.logger.Warn("Action failed",
			zap.String("session_id", res.SessionID),
			zap.String("kind", string(res.Kind)),
			zap.String("error_kind", string(res.ErrorKind)),
			zap.String("error", res.Error),
		)
	}

	e.audit.RecordAction(schemas.ActionLogEntry{
		SessionID:  res.SessionID,
		UserID:     userID,
		Kind:       res.Kind,
		Success:    res.Success,
		ErrorKind:  res.ErrorKind,
		Credits:    res.CreditsCharged,
		OccurredAt: e.now().UTC(),
	})

	return res
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
