// Package logsink writes audit events as structured log lines.
package logsink

import (
	"context"
	"log/slog"

	audit "relief/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.logger.InfoContext(ctx, "audit",
		"event_id", event.ID,
		"action", event.Action,
		"subject", event.Subject,
		"actor_id", event.ActorID,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
	return nil
}
