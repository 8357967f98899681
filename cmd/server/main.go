package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	beneficiaryhandler "relief/internal/beneficiary/handler"
	beneficiarymetrics "relief/internal/beneficiary/metrics"
	beneficiaryservice "relief/internal/beneficiary/service"
	beneficiarystore "relief/internal/beneficiary/store"
	deduphandler "relief/internal/dedup/handler"
	"relief/internal/dedup/merge"
	dedupmetrics "relief/internal/dedup/metrics"
	dedupservice "relief/internal/dedup/service"
	"relief/internal/export"
	jwttoken "relief/internal/jwt_token"
	"relief/internal/platform/config"
	"relief/internal/platform/httpserver"
	"relief/internal/platform/kafka"
	"relief/internal/platform/logger"
	"relief/internal/platform/metrics"
	"relief/internal/platform/postgres"
	httptransport "relief/internal/transport/http"
	audit "relief/pkg/platform/audit"
	"relief/pkg/platform/audit/publisher"
	kafkastore "relief/pkg/platform/audit/store/kafka"
	"relief/pkg/platform/audit/store/logsink"
	"relief/pkg/platform/tx"
)

// registryStore is satisfied by both the Postgres and the in-memory store.
type registryStore interface {
	beneficiaryservice.Store
	dedupservice.Store
	merge.Store
	export.Store
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(ctx, cfg, log); err != nil {
		log.Error("relief server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	var (
		store  registryStore
		runner txRunner
		checks []func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		store = beneficiarystore.NewPostgres(db)
		runner = tx.NewPostgresRunner(db, cfg.TxTimeout)
		checks = append(checks, db.PingContext)
	} else {
		log.Warn("DATABASE_URL not set, records are kept in memory")
		mem := beneficiarystore.NewInMemory()
		store, runner = mem, mem
	}

	auditor, closeAudit, err := newAuditPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	m := metrics.New()
	tracer := otel.Tracer("relief/dedup")

	beneficiaries := beneficiaryservice.New(store, runner,
		beneficiaryservice.WithLogger(log),
		beneficiaryservice.WithAuditPublisher(auditor),
		beneficiaryservice.WithMetrics(beneficiarymetrics.New(m.Registry)),
	)
	dm := dedupmetrics.New(m.Registry)
	grouper := dedupservice.New(store,
		dedupservice.WithLogger(log),
		dedupservice.WithMetrics(dm),
		dedupservice.WithTracer(tracer),
	)
	merger := merge.New(store, runner,
		merge.WithLogger(log),
		merge.WithAuditPublisher(auditor),
		merge.WithMetrics(dm),
		merge.WithTracer(tracer),
	)
	exporter := export.NewService(store,
		export.WithLogger(log),
		export.WithAuditPublisher(auditor),
	)

	jwt := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Metrics:   m,
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Operator: []httptransport.Registrar{
			beneficiaryhandler.New(beneficiaries, log),
		},
		Admin: []httptransport.Registrar{
			deduphandler.New(grouper, merger, beneficiaries, log),
			export.NewHandler(exporter, log),
		},
	})

	log.Info("relief server listening", "addr", cfg.Addr)
	return httpserver.Serve(ctx, httpserver.New(cfg.Addr, router))
}

// newAuditPublisher streams to Kafka when brokers are configured and logs otherwise.
func newAuditPublisher(ctx context.Context, cfg config.Server, log *slog.Logger) (*publisher.Publisher, func(), error) {
	var (
		st      audit.Store
		cleanup = func() {}
	)
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafka.NewProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, nil, err
		}
		if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic, 3, 1); err != nil {
			client.Close()
			return nil, nil, err
		}
		st = kafkastore.New(client, cfg.Kafka.AuditTopic)
		cleanup = client.Close
	} else {
		st = logsink.New(log)
	}

	pub := publisher.NewPublisher(st, publisher.WithLogger(log), publisher.WithAsyncBuffer(256))
	return pub, func() {
		_ = pub.Close()
		cleanup()
	}, nil
}
