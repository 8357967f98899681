// Package service serves the two duplicate views: exact identity groups for the
// cleansing screen and fuzzy name groups scoped to one municipality.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relief/internal/beneficiary/models"
	"relief/internal/dedup/grouping"
	"relief/internal/dedup/metrics"
	dErrors "relief/pkg/domain-errors"
	"relief/pkg/requestcontext"
)

const tracerName = "relief/dedup"

type Store interface {
	DuplicateIdentities(ctx context.Context, search string) ([]models.Identity, error)
	FindByIdentities(ctx context.Context, ids []models.Identity) ([]*models.Beneficiary, error)
	FindByMunicipality(ctx context.Context, municipality string) ([]*models.Beneficiary, error)
}

// Result is one page of duplicate groups.
type Result struct {
	Groups     []grouping.Group    `json:"groups"`
	Pagination grouping.Pagination `json:"pagination"`
}

type Engine struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func New(st Store, opts ...Option) *Engine {
	e := &Engine{store: st, logger: slog.Default(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExactDuplicates pages over duplicate identity keys, optionally filtered by a
// name substring, and loads the records of the requested page only.
func (e *Engine) ExactDuplicates(ctx context.Context, search string, page int) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "dedup.ExactDuplicates", trace.WithAttributes(
		attribute.String("dedup.search", search),
		attribute.Int("dedup.page", page),
	))
	defer span.End()
	start := time.Now()

	keys, err := e.store.DuplicateIdentities(ctx, search)
	if err != nil {
		return nil, e.fail(ctx, span, err, "failed to list duplicate keys")
	}
	pageKeys, pagination := grouping.Paginate(keys, page, grouping.PerPage)

	groups := []grouping.Group{}
	if len(pageKeys) > 0 {
		records, err := e.store.FindByIdentities(ctx, pageKeys)
		if err != nil {
			return nil, e.fail(ctx, span, err, "failed to load duplicate records")
		}
		groups = grouping.Exact(records)
	}

	span.SetAttributes(attribute.Int("dedup.groups_total", pagination.Total))
	if e.metrics != nil {
		e.metrics.ObserveGrouping(metrics.StrategyExact, start, pagination.Total)
	}
	return &Result{Groups: groups, Pagination: pagination}, nil
}

// FuzzyDuplicates groups one municipality's records by near-identical first names.
// Without a municipality nothing is loaded or compared.
func (e *Engine) FuzzyDuplicates(ctx context.Context, municipality string, page int) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "dedup.FuzzyDuplicates", trace.WithAttributes(
		attribute.String("dedup.municipality", municipality),
		attribute.Int("dedup.page", page),
	))
	defer span.End()

	if municipality == "" {
		groups, pagination := grouping.Paginate([]grouping.Group{}, page, grouping.PerPage)
		return &Result{Groups: groups, Pagination: pagination}, nil
	}
	start := time.Now()

	records, err := e.store.FindByMunicipality(ctx, municipality)
	if err != nil {
		return nil, e.fail(ctx, span, err, "failed to load municipality")
	}
	all := grouping.Fuzzy(records, municipality)
	groups, pagination := grouping.Paginate(all, page, grouping.PerPage)

	span.SetAttributes(
		attribute.Int("dedup.records", len(records)),
		attribute.Int("dedup.groups_total", len(all)),
	)
	if e.metrics != nil {
		e.metrics.ObserveGrouping(metrics.StrategyFuzzy, start, len(all))
	}
	e.logger.DebugContext(ctx, "fuzzy grouping computed",
		"request_id", requestcontext.RequestID(ctx),
		"municipality", municipality,
		"records", len(records),
		"groups", len(all),
	)
	return &Result{Groups: groups, Pagination: pagination}, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	e.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
