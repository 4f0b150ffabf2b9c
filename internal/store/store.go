// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL persistence collaborator. It records session
// metadata and security incidents; the core treats all of it as
// fire-and-forget through the Async wrapper.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// SaveSession upserts the durable session metadata. The live page handle is
// never persisted; after a restart the row remains but the session is
// orphaned until the user creates a new one.
func (s *Store) SaveSession(ctx context.Context, meta schemas.SessionMeta) error {
	sql := `
        INSERT INTO browser_sessions (id, user_id, current_url, title, status, chat_enabled, navigation_enabled, credits_used, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            current_url = EXCLUDED.current_url,
            title = EXCLUDED.title,
            status = EXCLUDED.status,
            credits_used = EXCLUDED.credits_used;
    `
	_, err := s.pool.Exec(ctx, sql,
		meta.ID, meta.UserID, meta.CurrentURL, meta.Title, string(meta.Status),
		meta.ChatEnabled, meta.NavigationEnabled, meta.CreditsUsed, meta.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", meta.ID, err)
	}
	return nil
}

// MarkSessionClosed finalizes a session row with its credit total.
func (s *Store) MarkSessionClosed(ctx context.Context, sessionID string, credits int) error {
	sql := `
        UPDATE browser_sessions
        SET status = $2, credits_used = $3, closed_at = $4
        WHERE id = $1;
    `
	_, err := s.pool.Exec(ctx, sql, sessionID, string(schemas.SessionClosed), credits, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	return nil
}

// RecordIncident appends one security incident for later audit.
func (s *Store) RecordIncident(ctx context.Context, incident schemas.SecurityIncident) error {
	sql := `
        INSERT INTO security_incidents (session_id, user_id, source, matched_patterns, excerpt, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	_, err := s.pool.Exec(ctx, sql,
		incident.SessionID, incident.UserID, incident.Source,
		incident.MatchedPatterns, incident.Excerpt, incident.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record security incident: %w", err)
	}
	return nil
}

// RecordAction appends one action outcome to the audit log.
func (s *Store) RecordAction(ctx context.Context, entry schemas.ActionLogEntry) error {
	sql := `
        INSERT INTO action_log (session_id, user_id, kind, success, error_kind, credits, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	_, err := s.pool.Exec(ctx, sql,
		entry.SessionID, entry.UserID, string(entry.Kind),
		entry.Success, string(entry.ErrorKind), entry.Credits, entry.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record action log entry: %w", err)
	}
	return nil
}
