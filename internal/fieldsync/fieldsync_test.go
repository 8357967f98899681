package fieldsync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/fieldsync/metrics"
	"relief/internal/offlinecache"
	cachemodels "relief/internal/offlinecache/models"
	cachestore "relief/internal/offlinecache/store"
	"relief/internal/offlinequeue"
)

// scriptedProber returns the scripted results in order, then keeps returning the last.
type scriptedProber struct {
	mu      sync.Mutex
	results []error
}

func (p *scriptedProber) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return r
}

var errDown = errors.New("connection refused")

func TestMonitor_Hysteresis(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	prober := &scriptedProber{results: []error{errDown, nil, errDown, errDown, nil, errDown, nil, nil}}
	mon := NewMonitor(prober, WithHysteresis(2, 2), WithMonitorMetrics(m))
	ctx := context.Background()

	var got []bool
	for i := 0; i < 8; i++ {
		if tr, ok := mon.Check(ctx); ok {
			got = append(got, tr.Online)
		}
	}

	assert.Equal(t, []bool{false, true}, got)
	assert.True(t, mon.Online())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Online))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ProbeFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("offline")))
}

func TestHTTPProber(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, time.Second)
	assert.Error(t, p.Probe(context.Background()))
	healthy.Store(true)
	assert.NoError(t, p.Probe(context.Background()))
}

// blockingSyncer records calls and blocks each one until released or cancelled.
type blockingSyncer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	errs    chan error
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
		errs:    make(chan error, 10),
	}
}

func (s *blockingSyncer) Sync(ctx context.Context) (offlinequeue.Report, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	select {
	case <-s.release:
		return offlinequeue.Report{Synced: 1}, nil
	case <-ctx.Done():
		s.errs <- ctx.Err()
		return offlinequeue.Report{}, ctx.Err()
	}
}

func TestCoordinator_OneTaskAtATime(t *testing.T) {
	syncer := newBlockingSyncer()
	m := metrics.New(prometheus.NewRegistry())
	c := NewCoordinator(NewMonitor(&scriptedProber{results: []error{nil}}), syncer, WithMetrics(m))
	ctx := context.Background()

	require.True(t, c.StartSync(ctx))
	<-syncer.started
	assert.False(t, c.StartSync(ctx), "second task must not start while one runs")

	close(syncer.release)
	c.Wait()
	assert.True(t, c.StartSync(ctx), "a new task may start once the previous one finished")
	c.Wait()

	assert.Equal(t, int32(2), syncer.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues("ok")))
}

func TestCoordinator_OfflineCancelsTask(t *testing.T) {
	syncer := newBlockingSyncer()
	c := NewCoordinator(NewMonitor(&scriptedProber{results: []error{nil}}), syncer)
	ctx := context.Background()

	c.handle(ctx, Transition{Online: true})
	<-syncer.started
	c.handle(ctx, Transition{Online: false})

	assert.ErrorIs(t, <-syncer.errs, context.Canceled)
}

func TestCoordinator_RunSyncsOnReconnect(t *testing.T) {
	syncer := newBlockingSyncer()
	close(syncer.release)
	prober := &scriptedProber{results: []error{errDown, errDown, nil, nil}}
	mon := NewMonitor(prober, WithHysteresis(2, 2), WithInterval(time.Millisecond))
	c := NewCoordinator(mon, syncer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// once at start, once after coming back online
	for i := 0; i < 2; i++ {
		select {
		case <-syncer.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("sync %d never started", i+1)
		}
	}
	cancel()
	<-done
	assert.Equal(t, int32(2), syncer.calls.Load())
}

func TestCoordinator_WarmThroughProxy(t *testing.T) {
	var sawToken atomic.Value
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken.Store(r.Header.Get("Authorization"))
		if r.URL.Path == "/beneficiaries/create" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<div id="app" data-page="{}"></div>`)
	}))
	defer origin.Close()

	cache := cachestore.NewInMemory()
	proxy, err := offlinecache.New(origin.URL, cache)
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := NewCoordinator(NewMonitor(&scriptedProber{results: []error{nil}}), newBlockingSyncer(),
		WithWarmTarget(front.URL, "tok-9", time.Second), WithMetrics(m))

	warmed, err := c.Warm(context.Background(), KeyRoutes)
	assert.Equal(t, 2, warmed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/beneficiaries/create")
	assert.Equal(t, "Bearer tok-9", sawToken.Load())

	_, err = cache.Get(context.Background(), cachemodels.PagesCache, origin.URL+"/dashboard")
	assert.NoError(t, err)
	_, err = cache.Get(context.Background(), cachemodels.PagesCache, origin.URL+"/beneficiaries/create")
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Warmed.WithLabelValues("failed")))
}

func TestCoordinator_WarmWithoutTarget(t *testing.T) {
	c := NewCoordinator(NewMonitor(&scriptedProber{results: []error{nil}}), newBlockingSyncer())
	_, err := c.Warm(context.Background(), KeyRoutes)
	assert.Error(t, err)
}
