package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"relief/internal/fieldsync/metrics"
	"relief/internal/offlinequeue"
)

// KeyRoutes are pre-fetched after sign-in so they open offline.
var KeyRoutes = []string{"/dashboard", "/beneficiaries", "/beneficiaries/create"}

// Syncer drains the offline queue.
type Syncer interface {
	Sync(ctx context.Context) (offlinequeue.Report, error)
}

// Coordinator starts a queue sync each time the device comes back online. At most
// one sync task exists at a time; going offline cancels it.
type Coordinator struct {
	monitor *Monitor
	queue   Syncer
	warmer  *resty.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithWarmTarget points Warm at the local proxy so fetched pages land in its cache.
func WithWarmTarget(proxyURL, token string, timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.warmer = resty.New().
			SetBaseURL(proxyURL).
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("Accept", "text/html")
		if token != "" {
			c.warmer.SetAuthToken(token)
		}
	}
}

func NewCoordinator(monitor *Monitor, queue Syncer, opts ...Option) *Coordinator {
	c := &Coordinator{monitor: monitor, queue: queue, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run watches connectivity until ctx is done. Entries left over from an earlier
// session are attempted once at start.
func (c *Coordinator) Run(ctx context.Context) {
	c.StartSync(ctx)
	c.monitor.Run(ctx, c.handle)
	c.stop()
}

func (c *Coordinator) handle(ctx context.Context, t Transition) {
	if t.Online {
		c.StartSync(ctx)
		return
	}
	c.stop()
}

// StartSync spawns a background sync unless one is already running. It reports
// whether a task was started.
func (c *Coordinator) StartSync(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return false
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		defer cancel()
		report, err := c.queue.Sync(taskCtx)
		result := "ok"
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			result = "cancelled"
		case err != nil:
			result = "error"
			c.logger.ErrorContext(taskCtx, "background sync failed", "error", err)
		case report.Skipped:
			result = "skipped"
		case report.Halted:
			result = "halted"
		}
		if c.metrics != nil {
			c.metrics.SyncRuns.WithLabelValues(result).Inc()
		}
		c.logger.InfoContext(taskCtx, "background sync finished",
			"result", result, "synced", report.Synced, "rejected", report.Rejected, "left_pending", report.Transient)
	}()
	return true
}

// Wait blocks until the current task, if any, has finished.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Coordinator) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.Wait()
}

// Warm fetches routes through the proxy so that they are cached for offline use.
// It returns how many routes were cached and the joined errors of the rest.
func (c *Coordinator) Warm(ctx context.Context, routes []string) (int, error) {
	if c.warmer == nil {
		return 0, errors.New("warm target not configured")
	}
	var (
		warmed int
		errs   []error
	)
	for _, route := range routes {
		resp, err := c.warmer.R().SetContext(ctx).Get(route)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("warm %s: %w", route, err))
		case resp.StatusCode() != http.StatusOK:
			errs = append(errs, fmt.Errorf("warm %s: status %d", route, resp.StatusCode()))
		default:
			warmed++
		}
	}
	if c.metrics != nil {
		c.metrics.Warmed.WithLabelValues("ok").Add(float64(warmed))
		c.metrics.Warmed.WithLabelValues("failed").Add(float64(len(errs)))
	}
	c.logger.InfoContext(ctx, "key routes warmed", "warmed", warmed, "failed", len(errs))
	return warmed, errors.Join(errs...)
}
