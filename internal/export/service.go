package export

import (
	"context"
	"log/slog"

	"relief/internal/beneficiary/models"
	dErrors "relief/pkg/domain-errors"
	audit "relief/pkg/platform/audit"
	"relief/pkg/requestcontext"
)

// Kinds of export; they double as filename prefixes.
const (
	KindMasterlist = "masterlist"
	KindCleanList  = "clean-list"
)

type Store interface {
	Export(ctx context.Context, f models.ExportFilter) ([]*models.Beneficiary, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service loads the records behind each export, newest first.
type Service struct {
	store   Store
	logger  *slog.Logger
	auditor AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Masterlist returns every record matching the name search.
func (s *Service) Masterlist(ctx context.Context, search string) ([]*models.Beneficiary, error) {
	return s.load(ctx, KindMasterlist, models.ExportFilter{Search: search})
}

// CleanList returns records not marked as duplicates, optionally limited to one
// municipality.
func (s *Service) CleanList(ctx context.Context, municipality string) ([]*models.Beneficiary, error) {
	return s.load(ctx, KindCleanList, models.ExportFilter{Municipality: municipality, ExcludeMarked: true})
}

func (s *Service) load(ctx context.Context, kind string, f models.ExportFilter) ([]*models.Beneficiary, error) {
	records, err := s.store.Export(ctx, f)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load export",
			"request_id", requestcontext.RequestID(ctx),
			"kind", kind,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load export")
	}
	if s.auditor != nil {
		err := s.auditor.Emit(ctx, audit.Event{
			Action:  audit.ActionRegistryExported,
			Subject: "registry",
			Details: map[string]any{"kind": kind, "rows": len(records), "search": f.Search, "municipality": f.Municipality},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to emit audit event", "action", audit.ActionRegistryExported, "error", err)
		}
	}
	return records, nil
}
