package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"relief/internal/fieldsync"
	syncmetrics "relief/internal/fieldsync/metrics"
	"relief/internal/offlinecache"
	cachemetrics "relief/internal/offlinecache/metrics"
	cachestore "relief/internal/offlinecache/store"
	"relief/internal/offlinequeue"
	"relief/internal/offlinequeue/client"
	queuemetrics "relief/internal/offlinequeue/metrics"
	queuestore "relief/internal/offlinequeue/store"
	"relief/internal/platform/config"
	"relief/internal/platform/redis"
)

// device is the wired field client.
type device struct {
	cfg         config.Client
	registry    *prometheus.Registry
	queue       *offlinequeue.Queue
	proxy       *offlinecache.Proxy
	coordinator *fieldsync.Coordinator
	closers     []func() error
}

func openDevice(ctx context.Context, cfg config.Client, logger *slog.Logger) (*device, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	d := &device{cfg: cfg, registry: prometheus.NewRegistry()}

	qs, err := queuestore.OpenSQLite(filepath.Join(cfg.DataDir, "queue.db"))
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	d.closers = append(d.closers, qs.Close)

	cache, err := d.openCache(ctx, cfg, logger)
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	submitter := client.New(cfg.Origin, client.WithTimeout(cfg.SubmitTimeout), client.WithToken(cfg.Token))
	d.queue = offlinequeue.New(qs, submitter,
		offlinequeue.WithLogger(logger),
		offlinequeue.WithMetrics(queuemetrics.New(d.registry)),
	)

	d.proxy, err = offlinecache.New(cfg.Origin, cache,
		offlinecache.WithLogger(logger),
		offlinecache.WithMetrics(cachemetrics.New(d.registry)),
		offlinecache.WithTimeout(cfg.FetchTimeout),
		offlinecache.WithMarkerHeader(cfg.MarkerHeader),
	)
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	sm := syncmetrics.New(d.registry)
	monitor := fieldsync.NewMonitor(fieldsync.NewHTTPProber(cfg.Origin, cfg.FetchTimeout),
		fieldsync.WithInterval(cfg.ProbeInterval),
		fieldsync.WithMonitorLogger(logger),
		fieldsync.WithMonitorMetrics(sm),
	)
	d.coordinator = fieldsync.NewCoordinator(monitor, d.queue,
		fieldsync.WithLogger(logger),
		fieldsync.WithMetrics(sm),
		fieldsync.WithWarmTarget(localURL(cfg.Listen), cfg.Token, cfg.FetchTimeout),
	)
	return d, nil
}

// openCache uses the shared gateway Redis when configured and reachable, and a
// device-local sqlite file otherwise.
func (d *device) openCache(ctx context.Context, cfg config.Client, logger *slog.Logger) (offlinecache.CacheStore, error) {
	if cfg.RedisURL != "" {
		rc, err := redis.Dial(ctx, cfg.GatewayRedis())
		if err == nil {
			d.closers = append(d.closers, rc.Close)
			return cachestore.NewRedis(rc), nil
		}
		logger.WarnContext(ctx, "cache gateway unavailable, using device cache", "error", err)
	}
	cs, err := cachestore.OpenSQLite(filepath.Join(cfg.DataDir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	d.closers = append(d.closers, cs.Close)
	return cs, nil
}

func (d *device) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// localURL turns a listen address such as ":8787" into a URL the warmer can call.
func localURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}
