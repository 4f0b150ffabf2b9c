// internal/executor/audit.go
package executor

import "github.com/webpilot-ai/webpilot/api/schemas"

// AuditSink receives security incidents and per-action outcomes after the
// executor has decided success or failure. Implementations must not block:
// persistence is fire-and-forget from the core's point of view, and a sink
// failure never fails an action.
type AuditSink interface {
	RecordIncident(incident schemas.SecurityIncident)
	RecordAction(entry schemas.ActionLogEntry)
}

// NopSink discards everything. Used in tests and when no database is
// configured.
type NopSink struct{}

func (NopSink) RecordIncident(schemas.SecurityIncident) {}
func (NopSink) RecordAction(schemas.ActionLogEntry)     {}
