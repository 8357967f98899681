// Package fieldsync decides when the field device is online and drives the offline
// queue and cache warm-up from those transitions.
package fieldsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"relief/internal/fieldsync/metrics"
	"relief/pkg/platform/circuit"
)

// HealthPath is probed on the registry server.
const HealthPath = "/healthz"

// Prober checks whether the registry server is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber issues GET {origin}/healthz.
type HTTPProber struct {
	http *resty.Client
}

func NewHTTPProber(origin string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{http: resty.New().SetBaseURL(origin).SetTimeout(timeout).SetRetryCount(0)}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	resp, err := p.http.R().SetContext(ctx).Get(HealthPath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("probe: status %d", resp.StatusCode())
	}
	return nil
}

// Transition is a change of connectivity.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor turns individual probe results into connectivity transitions. The device
// goes offline after a run of failed probes and comes back online after a run of
// successful ones; isolated blips change nothing.
type Monitor struct {
	prober   Prober
	breaker  *circuit.Breaker
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type MonitorOption func(*Monitor)

// WithHysteresis sets the failures needed to go offline and the successes needed
// to come back.
func WithHysteresis(failures, successes int) MonitorOption {
	return func(m *Monitor) {
		m.breaker = circuit.New("origin",
			circuit.WithFailureThreshold(failures),
			circuit.WithSuccessThreshold(successes))
	}
}

func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

func WithMonitorMetrics(mt *metrics.Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = mt }
}

func NewMonitor(prober Prober, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		prober:   prober,
		breaker:  circuit.New("origin", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2)),
		interval: 10 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics != nil {
		m.metrics.SetOnline(m.Online())
	}
	return m
}

// Online reports the current belief. A new monitor starts online.
func (m *Monitor) Online() bool {
	return !m.breaker.IsOpen()
}

// Check runs one probe and returns the transition it caused, if any.
func (m *Monitor) Check(ctx context.Context) (Transition, bool) {
	err := m.prober.Probe(ctx)

	var change circuit.StateChange
	if err != nil {
		if m.metrics != nil {
			m.metrics.ProbeFailed.Inc()
		}
		m.logger.DebugContext(ctx, "probe failed", "error", err)
		_, change = m.breaker.RecordFailure()
	} else {
		_, change = m.breaker.RecordSuccess()
	}
	if !change.Opened && !change.Closed {
		return Transition{}, false
	}

	t := Transition{Online: change.Closed, At: m.now()}
	if m.metrics != nil {
		m.metrics.SetOnline(t.Online)
		m.metrics.IncrementTransition(t.Online)
	}
	m.logger.InfoContext(ctx, "connectivity changed", "online", t.Online)
	return t, true
}

// Run probes every interval until ctx is done, calling fn on each transition.
func (m *Monitor) Run(ctx context.Context, fn func(context.Context, Transition)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if t, ok := m.Check(ctx); ok {
			fn(ctx, t)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
