// Package merge consolidates duplicate records into one kept record. Each merge is
// one transaction: member rows move to the kept record and the removed records are
// deleted, or nothing changes.
package merge

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relief/internal/beneficiary/models"
	"relief/internal/dedup/grouping"
	"relief/internal/dedup/metrics"
	dErrors "relief/pkg/domain-errors"
	audit "relief/pkg/platform/audit"
	"relief/pkg/requestcontext"
)

// KeepInRemoveMessage is reported on keep_id when the kept id is also being removed.
const KeepInRemoveMessage = "The kept record cannot also be in the removed list."

type Store interface {
	Exists(ctx context.Context, id int64) (bool, error)
	ReassignMembers(ctx context.Context, from []int64, to int64) (models.MemberCounts, error)
	DeleteByIDs(ctx context.Context, ids []int64) ([]int64, error)
	DuplicateIdentities(ctx context.Context, search string) ([]models.Identity, error)
	FindByIdentities(ctx context.Context, ids []models.Identity) ([]*models.Beneficiary, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Result describes one committed merge. Removed lists the ids actually deleted;
// ids already gone are left out.
type Result struct {
	KeepID     int64               `json:"keep_id"`
	Removed    []int64             `json:"removed"`
	Reassigned models.MemberCounts `json:"reassigned"`
}

// Failure is a group merge-all could not merge.
type Failure struct {
	Key    string `json:"key"`
	KeepID int64  `json:"keep_id"`
	Error  string `json:"error"`
}

// AllResult summarises a merge-all run.
type AllResult struct {
	Groups   int       `json:"groups"`
	Merged   []Result  `json:"merged"`
	Failures []Failure `json:"failures"`
}

type Engine struct {
	store   Store
	tx      TxRunner
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Engine) { e.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func New(st Store, tx TxRunner, opts ...Option) *Engine {
	e := &Engine{store: st, tx: tx, logger: slog.Default(), tracer: otel.Tracer("relief/dedup/merge")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks a merge request. keepID 0 means absent.
func Validate(keepID int64, removeIDs []int64) error {
	var fields dErrors.FieldErrors
	if keepID == 0 {
		fields.Add("keep_id", "The keep id field is required.")
	}
	if len(removeIDs) == 0 {
		fields.Add("remove_ids", "The remove ids field is required.")
	}
	if keepID != 0 && slices.Contains(removeIDs, keepID) {
		fields.Add("keep_id", KeepInRemoveMessage)
	}
	return dErrors.Validation(&fields)
}

// Merge moves the member rows of removeIDs to keepID and deletes removeIDs in one
// transaction. A missing keep record is NotFound; missing remove ids are ignored.
func (e *Engine) Merge(ctx context.Context, keepID int64, removeIDs []int64) (*Result, error) {
	if err := Validate(keepID, removeIDs); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.Int64("merge.keep_id", keepID),
		attribute.Int("merge.remove_count", len(removeIDs)),
	))
	defer span.End()

	res, err := e.mergeTx(ctx, keepID, uniqueIDs(removeIDs))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		return nil, err
	}
	return res, nil
}

// MergeAll merges every exact duplicate group into its earliest-created record.
// Groups are merged in separate transactions; a failing group is reported and the
// run continues.
func (e *Engine) MergeAll(ctx context.Context) (*AllResult, error) {
	ctx, span := e.tracer.Start(ctx, "merge.MergeAll")
	defer span.End()

	keys, err := e.store.DuplicateIdentities(ctx, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing duplicate keys failed")
		return nil, e.internal(ctx, err, "failed to list duplicate keys")
	}

	out := &AllResult{Groups: len(keys), Merged: []Result{}, Failures: []Failure{}}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return out, dErrors.Wrap(err, dErrors.CodeTimeout, "merge-all interrupted")
		}
		label := grouping.ExactLabel(key)

		records, err := e.store.FindByIdentities(ctx, []models.Identity{key})
		if err != nil {
			out.Failures = append(out.Failures, Failure{Key: label, Error: err.Error()})
			continue
		}
		if len(records) < 2 {
			continue
		}
		// the store returns members by creation time, then id
		keep := records[0].ID
		remove := make([]int64, 0, len(records)-1)
		for _, r := range records[1:] {
			remove = append(remove, r.ID)
		}

		res, err := e.mergeTx(ctx, keep, remove)
		if err != nil {
			out.Failures = append(out.Failures, Failure{Key: label, KeepID: keep, Error: err.Error()})
			continue
		}
		out.Merged = append(out.Merged, *res)
	}

	span.SetAttributes(
		attribute.Int("merge.groups", out.Groups),
		attribute.Int("merge.failures", len(out.Failures)),
	)
	e.emit(ctx, audit.ActionBulkMergeCompleted, "registry", map[string]any{
		"groups":   out.Groups,
		"merged":   len(out.Merged),
		"failures": len(out.Failures),
	})
	return out, nil
}

func (e *Engine) mergeTx(ctx context.Context, keepID int64, removeIDs []int64) (*Result, error) {
	res := &Result{KeepID: keepID}
	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		exists, err := e.store.Exists(ctx, keepID)
		if err != nil {
			return err
		}
		if !exists {
			return dErrors.New(dErrors.CodeNotFound, "kept record not found")
		}
		if res.Reassigned, err = e.store.ReassignMembers(ctx, removeIDs, keepID); err != nil {
			return err
		}
		res.Removed, err = e.store.DeleteByIDs(ctx, removeIDs)
		return err
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncrementMergeFailed()
		}
		if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeTimeout) {
			return nil, err
		}
		return nil, e.internal(ctx, err, "failed to merge records")
	}

	if e.metrics != nil {
		e.metrics.ObserveMerge(len(res.Removed), res.Reassigned.Siblings, res.Reassigned.Children, res.Reassigned.Relatives)
	}
	e.emit(ctx, audit.ActionRecordsMerged, models.Subject(keepID), map[string]any{
		"removed":    res.Removed,
		"reassigned": res.Reassigned,
	})
	return res, nil
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func (e *Engine) internal(ctx context.Context, err error, msg string) error {
	e.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (e *Engine) emit(ctx context.Context, action audit.Action, subject string, details map[string]any) {
	e.logger.InfoContext(ctx, string(action),
		"request_id", requestcontext.RequestID(ctx),
		"subject", subject,
		"log_type", "audit",
	)
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Emit(ctx, audit.Event{Action: action, Subject: subject, Details: details}); err != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event",
			"action", action,
			"subject", subject,
			"error", err,
		)
	}
}
