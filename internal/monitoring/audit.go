package monitoring

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hengadev/credhub"
)

// SlogAuditSink writes audit events to a structured logger. Failed operations
// are logged at warn level.
type SlogAuditSink struct {
	logger *slog.Logger
}

func NewSlogAuditSink(logger *slog.Logger) *SlogAuditSink {
	return &SlogAuditSink{logger: logger.With(slog.String("log_type", "audit"))}
}

func (s *SlogAuditSink) Record(ctx context.Context, event credhub.AuditEvent) {
	attrs := []slog.Attr{
		slog.String("operation", event.Operation),
		slog.String("outcome", event.Outcome),
	}
	if event.Name != "" {
		attrs = append(attrs, slog.String("name", event.Name))
	}
	for _, id := range []struct {
		key   string
		value uuid.UUID
	}{
		{"version_id", event.VersionID},
		{"source_version_id", event.SourceVersionID},
		{"key_id", event.KeyID},
	} {
		if id.value != uuid.Nil {
			attrs = append(attrs, slog.String(id.key, id.value.String()))
		}
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	level := slog.LevelInfo
	if event.Outcome == credhub.OutcomeFailure {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "audit event", attrs...)
}
