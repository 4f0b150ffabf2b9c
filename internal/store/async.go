// internal/store/async.go
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

const writeTimeout = 5 * time.Second

// Async turns the store into a fire-and-forget sink: each write runs in its
// own goroutine with its own deadline, and failures are logged, never
// returned. The core must not block on persistence succeeding.
//
// It satisfies both executor.AuditSink and service.Persister.
type Async struct {
	store *Store
	log   *zap.Logger
	wg    sync.WaitGroup
}

// NewAsync wraps a store for use on the request path.
func NewAsync(store *Store, logger *zap.Logger) *Async {
	return &Async{
		store: store,
		log:   logger.Named("store_async"),
	}
}

func (a *Async) submit(what string, fn func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.log.Warn("Background persistence write failed.", zap.String("op", what), zap.Error(err))
		}
	}()
}

func (a *Async) SaveSession(meta schemas.SessionMeta) {
	a.submit("save_session", func(ctx context.Context) error {
		return a.store.SaveSession(ctx, meta)
	})
}

func (a *Async) MarkSessionClosed(sessionID string, credits int) {
	a.submit("mark_session_closed", func(ctx context.Context) error {
		return a.store.MarkSessionClosed(ctx, sessionID, credits)
	})
}

func (a *Async) RecordIncident(incident schemas.SecurityIncident) {
	a.submit("record_incident", func(ctx context.Context) error {
		return a.store.RecordIncident(ctx, incident)
	})
}

func (a *Async) RecordAction(entry schemas.ActionLogEntry) {
	a.submit("record_action", func(ctx context.Context) error {
		return a.store.RecordAction(ctx, entry)
	})
}

// Drain blocks until all in-flight writes have finished. Called on shutdown
// and by tests.
func (a *Async) Drain() {
	a.wg.Wait()
}
