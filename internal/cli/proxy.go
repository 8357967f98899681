package cli

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	queuehandler "relief/internal/offlinequeue/handler"
	"relief/internal/platform/httpserver"
	"relief/pkg/platform/middleware/request"
)

// MetricsPath serves the device metrics next to the queue routes.
const MetricsPath = "/_relief/metrics"

func NewProxyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "proxy",
		Short: "Serve the registry through the offline cache and sync on reconnect",
		Long: `Starts the caching proxy on the configured listen address, exposes the local
queue under /_relief/queue and starts a queue sync every time the registry becomes
reachable again. Stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := openDevice(ctx, cfg, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open device", err)
			}
			defer d.Close()

			if err := d.proxy.Install(ctx); err != nil {
				return WrapExitError(ExitCommandError, "install offline cache", err)
			}

			r := chi.NewRouter()
			r.Use(request.RequestID)
			queuehandler.New(d.queue, logger).Register(r)
			r.Handle(MetricsPath, promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
			r.Handle("/*", d.proxy)

			srv := httpserver.New(cfg.Listen, r)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.InfoContext(ctx, "field proxy listening", "addr", cfg.Listen, "origin", cfg.Origin)
				return httpserver.Serve(ctx, srv)
			})
			g.Go(func() error {
				d.coordinator.Run(ctx)
				return nil
			})
			return g.Wait()
		},
	}
}
