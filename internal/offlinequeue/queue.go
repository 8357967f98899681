// Package offlinequeue keeps beneficiary submissions captured without connectivity
// on the device and replays them to the server once it is reachable again.
package offlinequeue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"relief/internal/offlinequeue/metrics"
	"relief/internal/offlinequeue/models"
	dErrors "relief/pkg/domain-errors"
)

// User-facing messages.
const (
	SavedOfflineMessage    = "Saved offline. Will sync when connected."
	SessionExpiredMessage  = "Session expired. Refresh the page and retry."
	ValidationErrorMessage = "Validation error"
)

// Store persists entries in insertion order.
type Store interface {
	Append(ctx context.Context, e models.Entry) error
	List(ctx context.Context) ([]models.Entry, error)
	Update(ctx context.Context, e models.Entry) error
	Delete(ctx context.Context, id string) error
}

// Leaser is implemented by stores that several processes may open at once. A sync
// pass runs only while its owner holds the lease; acquiring again as the same owner
// extends it.
type Leaser interface {
	AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, owner string) error
}

// DefaultLeaseTTL bounds how long a crashed process can block other sync passes.
const DefaultLeaseTTL = 2 * time.Minute

// Submitter sends one entry to the server. A transport failure is returned as err;
// any HTTP answer, including error statuses, is returned as a Response.
type Submitter interface {
	Submit(ctx context.Context, offlineID string, payload json.RawMessage) (*models.Response, error)
}

// Notifier surfaces queue activity to the person using the device.
type Notifier interface {
	Notify(ctx context.Context, n models.Notice)
}

// Report summarises one sync pass.
type Report struct {
	// Skipped is set when another pass was already running.
	Skipped   bool `json:"skipped"`
	Synced    int  `json:"synced"`
	Rejected  int  `json:"rejected"`
	Transient int  `json:"transient"`
	// Halted is set when the pass stopped on an expired session.
	Halted bool `json:"halted"`
}

type Queue struct {
	store     Store
	submitter Submitter
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	syncing   atomic.Bool
	owner     string
	leaseTTL  time.Duration
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLeaseTTL(d time.Duration) Option {
	return func(q *Queue) { q.leaseTTL = d }
}

func New(st Store, submitter Submitter, opts ...Option) *Queue {
	q := &Queue{
		store:     st,
		submitter: submitter,
		logger:    slog.Default(),
		now:       time.Now,
		owner:     uuid.NewString(),
		leaseTTL:  DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.notifier == nil {
		q.notifier = LogNotifier{Logger: q.logger}
	}
	return q
}

// Enqueue saves payload as a pending entry. The payload must be a JSON object.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage) (models.Entry, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return models.Entry{}, dErrors.New(dErrors.CodeBadRequest, "payload must be a JSON object")
	}

	e := models.Entry{
		ID:       uuid.NewString(),
		QueuedAt: q.now().UTC(),
		Status:   models.StatusPending,
		Payload:  append(json.RawMessage(nil), trimmed...),
	}
	if err := q.store.Append(ctx, e); err != nil {
		return models.Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save entry")
	}
	if q.metrics != nil {
		q.metrics.Enqueued.Inc()
	}
	q.logger.InfoContext(ctx, "entry queued", "offline_id", e.ID)
	q.notifier.Notify(ctx, models.Notice{Text: SavedOfflineMessage, Kind: models.NoticeInfo})
	q.refreshDepth(ctx)
	return e, nil
}

// Sync submits pending entries one at a time in queue order. Only one pass runs at
// a time, across processes when the store is a Leaser; a concurrent call returns a
// skipped report straight away.
func (q *Queue) Sync(ctx context.Context) (Report, error) {
	return q.pass(ctx, false)
}

// RetryFailed moves every failed entry back to pending and runs a sync pass.
func (q *Queue) RetryFailed(ctx context.Context) (Report, error) {
	return q.pass(ctx, true)
}

func (q *Queue) pass(ctx context.Context, retryFailed bool) (Report, error) {
	if !q.syncing.CompareAndSwap(false, true) {
		return q.skipped(ctx, "sync already running in this process"), nil
	}
	defer q.syncing.Store(false)

	leaser, shared := q.store.(Leaser)
	if shared {
		held, err := leaser.AcquireLease(ctx, q.owner, q.leaseTTL)
		if err != nil {
			return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to take sync lease")
		}
		if !held {
			return q.skipped(ctx, "sync lease held by another process"), nil
		}
		defer func() {
			if err := leaser.ReleaseLease(context.WithoutCancel(ctx), q.owner); err != nil {
				q.logger.WarnContext(ctx, "failed to release sync lease", "error", err)
			}
		}()
	}

	start := time.Now()
	if q.metrics != nil {
		defer q.metrics.ObserveSync(start)
	}

	if retryFailed {
		if err := q.resetFailed(ctx); err != nil {
			return Report{}, err
		}
	}

	entries, err := q.store.List(ctx)
	if err != nil {
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read queue")
	}

	var report Report
	for _, e := range entries {
		if e.Status != models.StatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			q.finish(ctx, report)
			return report, err
		}
		if shared {
			held, err := leaser.AcquireLease(ctx, q.owner, q.leaseTTL)
			if err != nil || !held {
				q.logger.WarnContext(ctx, "sync lease lost, stopping pass", "error", err)
				q.finish(ctx, report)
				return report, nil
			}
		}

		resp, subErr := q.submitter.Submit(ctx, e.ID, e.Payload)
		outcome, reason := Classify(resp, subErr)
		if q.metrics != nil {
			q.metrics.IncrementSubmission(outcome.String())
		}

		switch outcome {
		case models.OutcomeAccepted:
			if err := q.store.Delete(ctx, e.ID); err != nil {
				q.finish(ctx, report)
				return report, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove synced entry")
			}
			report.Synced++
		case models.OutcomeRejected, models.OutcomeAuthExpired:
			e.Status = models.StatusFailed
			e.FailureReason = reason
			if err := q.store.Update(ctx, e); err != nil {
				q.finish(ctx, report)
				return report, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark entry failed")
			}
			if outcome == models.OutcomeAuthExpired {
				report.Halted = true
				q.logger.WarnContext(ctx, "sync halted, session expired", "offline_id", e.ID)
				q.finish(ctx, report)
				return report, nil
			}
			report.Rejected++
			q.logger.InfoContext(ctx, "entry rejected", "offline_id", e.ID, "reason", reason)
		default:
			report.Transient++
			q.logger.DebugContext(ctx, "entry left pending", "offline_id", e.ID, "error", subErr)
		}
	}

	q.finish(ctx, report)
	return report, nil
}

func (q *Queue) resetFailed(ctx context.Context) error {
	entries, err := q.store.List(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read queue")
	}
	for _, e := range entries {
		if e.Status != models.StatusFailed {
			continue
		}
		e.Status = models.StatusPending
		e.FailureReason = ""
		if err := q.store.Update(ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset entry")
		}
	}
	return nil
}

func (q *Queue) skipped(ctx context.Context, why string) Report {
	if q.metrics != nil {
		q.metrics.SyncSkipped.Inc()
	}
	q.logger.DebugContext(ctx, "sync pass skipped", "reason", why)
	return Report{Skipped: true}
}

// Entries returns the whole queue in order.
func (q *Queue) Entries(ctx context.Context) ([]models.Entry, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read queue")
	}
	return entries, nil
}

func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.count(ctx, models.StatusPending)
}

func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	return q.count(ctx, models.StatusFailed)
}

// Syncing reports whether a pass is in flight.
func (q *Queue) Syncing() bool {
	return q.syncing.Load()
}

func (q *Queue) count(ctx context.Context, status models.Status) (int, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n, nil
}

func (q *Queue) finish(ctx context.Context, report Report) {
	if report.Synced > 0 {
		q.notifier.Notify(ctx, models.Notice{
			Text: fmt.Sprintf("%d record(s) synced successfully.", report.Synced),
			Kind: models.NoticeSuccess,
		})
	}
	if report.Halted {
		q.notifier.Notify(ctx, models.Notice{Text: SessionExpiredMessage, Kind: models.NoticeError})
	}
	q.refreshDepth(ctx)
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	entries, err := q.store.List(ctx)
	if err != nil {
		q.logger.WarnContext(ctx, "failed to read queue depth", "error", err)
		return
	}
	pending, failed := 0, 0
	for _, e := range entries {
		if e.Status == models.StatusPending {
			pending++
		} else {
			failed++
		}
	}
	q.metrics.SetDepth(pending, failed)
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, notice models.Notice) {
	n.Logger.InfoContext(ctx, notice.Text, "notice", string(notice.Kind))
}
