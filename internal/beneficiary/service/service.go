// Package service implements beneficiary intake: online creation, offline sync with
// idempotent replay, listing and the duplicate flag.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relief/internal/beneficiary/metrics"
	"relief/internal/beneficiary/models"
	"relief/internal/beneficiary/store"
	dErrors "relief/pkg/domain-errors"
	audit "relief/pkg/platform/audit"
	"relief/pkg/requestcontext"
)

// PerPage is the listing page size.
const PerPage = 20

// DuplicateIdentityMessage is reported on first_name when the identity already exists.
const DuplicateIdentityMessage = "A beneficiary with this name and birth date already exists."

type Store interface {
	Create(ctx context.Context, b *models.Beneficiary) error
	ExistsByIdentity(ctx context.Context, id models.Identity) (bool, error)
	ExistsByOfflineID(ctx context.Context, offlineID string) (bool, error)
	FindByID(ctx context.Context, id int64) (*models.Beneficiary, error)
	List(ctx context.Context, search string, page, perPage int) ([]models.Summary, int, error)
	SetMarkedAsDuplicate(ctx context.Context, id int64, marked bool) error
	Delete(ctx context.Context, id int64) error
}

// TxRunner runs fn in one unit of work.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// SyncResult is the offline-sync response body.
type SyncResult struct {
	Synced    bool `json:"synced"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type Service struct {
	store   Store
	tx      TxRunner
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(st Store, tx TxRunner, opts ...Option) *Service {
	s := &Service{store: st, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a validated request. An existing identity is reported as a field
// error on first_name.
func (s *Service) Create(ctx context.Context, req *models.CreateRequest) (*models.Beneficiary, error) {
	start := time.Now()
	b := req.ToBeneficiary(requestcontext.Now(ctx))

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exists, err := s.store.ExistsByIdentity(ctx, b.Identity())
		if err != nil {
			return err
		}
		if exists {
			return dErrors.FieldError("first_name", DuplicateIdentityMessage)
		}
		return s.store.Create(ctx, b)
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			if s.metrics != nil {
				s.metrics.DuplicatesRejected.Inc()
			}
			return nil, err
		}
		return nil, s.internal(ctx, err, "failed to create beneficiary")
	}

	if s.metrics != nil {
		s.metrics.Created.Inc()
		s.metrics.ObserveCreate(start)
	}
	s.emit(ctx, audit.ActionBeneficiaryCreated, b.Subject(), nil)
	return b, nil
}

// OfflineSync stores a queued submission. A known offline id or identity is a
// no-op answered as a duplicate; anything else is created with the offline id.
func (s *Service) OfflineSync(ctx context.Context, offlineID string, req *models.CreateRequest) (SyncResult, error) {
	b := req.ToBeneficiary(requestcontext.Now(ctx))
	b.OfflineID = offlineID

	duplicate := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if offlineID != "" {
			seen, err := s.store.ExistsByOfflineID(ctx, offlineID)
			if err != nil {
				return err
			}
			if seen {
				duplicate = true
				return nil
			}
		}
		exists, err := s.store.ExistsByIdentity(ctx, b.Identity())
		if err != nil {
			return err
		}
		if exists {
			duplicate = true
			return nil
		}
		return s.store.Create(ctx, b)
	})
	if errors.Is(err, store.ErrOfflineIDTaken) {
		// a concurrent replay committed first
		duplicate, err = true, nil
	}
	if err != nil {
		return SyncResult{}, s.internal(ctx, err, "failed to sync beneficiary")
	}

	if duplicate {
		s.logger.InfoContext(ctx, "offline submission already stored",
			"request_id", requestcontext.RequestID(ctx),
			"offline_id", offlineID,
		)
		s.incrementSynced(metrics.OutcomeDuplicate)
		return SyncResult{Synced: true, Duplicate: true}, nil
	}

	s.incrementSynced(metrics.OutcomeCreated)
	s.emit(ctx, audit.ActionBeneficiarySynced, b.Subject(), map[string]any{"offline_id": offlineID})
	return SyncResult{Synced: true}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Beneficiary, error) {
	b, err := s.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "beneficiary not found")
	}
	if err != nil {
		return nil, s.internal(ctx, err, "failed to load beneficiary")
	}
	return b, nil
}

// List returns one page of summaries, newest first.
func (s *Service) List(ctx context.Context, search string, page int) (*models.Page[models.Summary], error) {
	page = models.ClampPage(page)
	rows, total, err := s.store.List(ctx, search, page, PerPage)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to list beneficiaries")
	}
	return &models.Page[models.Summary]{
		Data:        rows,
		CurrentPage: page,
		LastPage:    models.LastPageFor(total, PerPage),
		PerPage:     PerPage,
		Total:       total,
	}, nil
}

// SetMarked flags or unflags a record as a duplicate for clean exports.
func (s *Service) SetMarked(ctx context.Context, id int64, marked bool) error {
	err := s.store.SetMarkedAsDuplicate(ctx, id, marked)
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "beneficiary not found")
	}
	if err != nil {
		return s.internal(ctx, err, "failed to update duplicate flag")
	}
	action := audit.ActionDuplicateUnmarked
	if marked {
		action = audit.ActionDuplicateMarked
	}
	s.emit(ctx, action, models.Subject(id), nil)
	return nil
}

// Delete removes a record and its member rows.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "beneficiary not found")
	}
	if err != nil {
		return s.internal(ctx, err, "failed to delete beneficiary")
	}
	s.emit(ctx, audit.ActionBeneficiaryDeleted, models.Subject(id), nil)
	return nil
}

func (s *Service) internal(ctx context.Context, err error, msg string) error {
	if dErrors.HasCode(err, dErrors.CodeTimeout) {
		return err
	}
	s.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) incrementSynced(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementSynced(outcome)
	}
}

// emit logs the change and forwards it to the audit publisher. Audit failures never
// undo a committed change.
func (s *Service) emit(ctx context.Context, action audit.Action, subject string, details map[string]any) {
	s.logger.InfoContext(ctx, string(action),
		"request_id", requestcontext.RequestID(ctx),
		"subject", subject,
		"log_type", "audit",
	)
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Event{Action: action, Subject: subject, Details: details}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", action,
			"subject", subject,
			"error", err,
		)
	}
}
