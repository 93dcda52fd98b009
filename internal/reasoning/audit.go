package reasoning

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/northhollow/keel/internal/db"
)

// AuditEntry describes one reasoning call for the audit trail. It carries
// the template id and the context size, never the rendered content or any
// credential material.
type AuditEntry struct {
	ID           string
	Template     TemplateKind
	ContextRunes int
	Outcome      string // "ok", "unavailable", "parse_error", "fatal"
	Attempts     int
	Latency      time.Duration
}

// AuditSink records reasoning calls. Implementations must be safe for
// concurrent use; recording failures are logged, never propagated.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// StoreSink persists audit entries to the reasoning_audit table
type StoreSink struct {
	store *db.Store
}

// NewStoreSink creates a SQLite-backed audit sink
func NewStoreSink(store *db.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements AuditSink
func (s *StoreSink) Record(ctx context.Context, entry AuditEntry) {
	log.Debug().
		Str("template", string(entry.Template)).
		Str("outcome", entry.Outcome).
		Int("context_runes", entry.ContextRunes).
		Int("attempts", entry.Attempts).
		Dur("latency", entry.Latency).
		Msg("reasoning call")

	err := s.store.InsertReasoningAudit(ctx, entry.ID, string(entry.Template),
		entry.ContextRunes, entry.Outcome, entry.Attempts, entry.Latency)
	if err != nil {
		log.Warn().Err(err).Msg("recording reasoning audit entry")
	}
}
