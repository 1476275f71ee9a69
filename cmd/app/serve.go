package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defect-inspection/internal/config"
	"defect-inspection/internal/domain/detection"
	"defect-inspection/internal/domain/ports/adapter"
	"defect-inspection/internal/domain/ports/repository"
	"defect-inspection/internal/infra/adapters/inference"
	"defect-inspection/internal/infra/adapters/storage"
	tele "defect-inspection/internal/infra/adapters/telegram"
	"defect-inspection/internal/infra/api"
	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/infra/db/memory"
	"defect-inspection/internal/infra/i18n"
	pg "defect-inspection/internal/infra/db/postgres"
	"defect-inspection/internal/infra/logging"
	"defect-inspection/internal/infra/metrics"
	red "defect-inspection/internal/infra/redis"
	"defect-inspection/internal/infra/sched"
	"defect-inspection/internal/infra/worker"
	"defect-inspection/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inspection queue and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile, devMode)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger := logging.New(cfg.Log, cfg.Runtime.Dev)
		logging.Global = *logger
		if cfg.Runtime.Dev {
			logger.Warn().Msg("development mode enabled")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Job store ----
	var (
		jobs   repository.JobRepository
		health func(context.Context) error
	)
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		jobs = pg.NewJobRepo(pool, pg.NewTxManager(pool))
		health = pool.Ping
		g.Go(func() error {
			pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
			return nil
		})
	} else {
		logger.Warn().Msg("no database configured, jobs are kept in memory")
		jobs = memory.NewJobRepo()
	}

	// ---- Events ----
	hub := broadcast.NewHub(64, logger)
	hub.Start(gctx)
	// Notifications only see events raised by this instance's queue.
	notifyHub := broadcast.NewHub(256, logger)
	notifyHub.Start(gctx)
	events := broadcast.Fanout{hub, notifyHub}

	// ---- Redis (optional) ----
	var (
		limiter api.RateLimiter
		locker  sched.Locker
	)
	if cfg.Redis.Enabled {
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()

		jobs = red.NewCachedJobRepo(jobs, client, cfg.Redis.TTL, logger)
		relay := red.NewEventRelay(client, cfg.Redis.Channel, hub, logger)
		events = append(events, relay)
		g.Go(func() error { return relay.Run(gctx) })

		locker = red.NewLocker(client)
		if cfg.HTTP.SubmitLimit > 0 {
			limiter = red.NewRateLimiter(client, cfg.HTTP.SubmitLimit, cfg.HTTP.SubmitWindow)
		}
	}

	// ---- Adapters ----
	store, err := newStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	engine, engineName, err := newEngine(cfg.Inference)
	if err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	classes, err := detection.ParseClassTable(cfg.Detection.Classes)
	if err != nil {
		return fmt.Errorf("detection classes: %w", err)
	}
	bands := detection.SeverityBands{Medium: cfg.Detection.Medium, High: cfg.Detection.High, Critical: cfg.Detection.Critical}
	if err := bands.Validate(); err != nil {
		return fmt.Errorf("severity bands: %w", err)
	}
	logger.Info().Str("engine", engineName).Str("storage", cfg.Storage.Type).Int("classes", len(classes)).Msg("adapters ready")

	// ---- Queue & use cases ----
	proc := worker.NewInspectionProcessor(store, engine, engineName, worker.DecoderSettings{
		NMSThreshold: cfg.Detection.NMSThreshold,
		Classes:      classes,
		Bands:        bands,
	}, logger)
	aggUC := usecase.NewAggregationUseCase()

	retry := worker.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Queue.MaxAttempts
	retry.BaseDelay = cfg.Queue.BaseDelay
	retry.MaxDelay = cfg.Queue.MaxDelay
	queue := worker.NewQueue(jobs, proc, events, aggUC, worker.QueueConfig{
		Workers:        cfg.Queue.Workers,
		AttemptTimeout: cfg.Queue.AttemptTimeout,
		Retry:          retry,
	}, logger)

	inspUC := usecase.NewInspectionUseCase(jobs, queue, aggUC, logger)

	var notifier adapter.Notifier
	if cfg.Telegram.Token != "" {
		n, err := tele.NewNotifier(cfg.Telegram.Token, cfg.Telegram.FallbackChat, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifier = n
	} else {
		notifier = tele.NewNoopNotifier(logger)
	}
	catalog, err := i18n.Load(cfg.Telegram.Lang)
	if err != nil {
		return fmt.Errorf("notification catalog: %w", err)
	}
	notifUC := usecase.NewNotificationUseCase(notifier, catalog, logger)

	// ---- Background workers ----
	if err := queue.Start(gctx); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	g.Go(func() error { return sched.NewNotificationWorker(notifyHub, notifUC, logger).Run(gctx) })
	if cfg.Retention.Window > 0 {
		rw := sched.NewRetentionWorker(cfg.Retention.Interval, cfg.Retention.Window, inspUC, logger)
		if locker != nil {
			rw = rw.WithLocker(locker)
		}
		g.Go(func() error { return rw.Run(gctx) })
	}

	// ---- HTTP ----
	opts := []api.Option{api.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes)}
	if health != nil {
		opts = append(opts, api.WithHealthCheck(health))
	}
	if limiter != nil {
		opts = append(opts, api.WithSubmitLimit(limiter, red.SubmitKey))
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(inspUC, hub, logger, opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shCtx)
		queue.Stop()
		hub.Stop()
		notifyHub.Stop()
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("service stopped with error")
		return err
	}
	logger.Info().Msg("service stopped")
	return nil
}

func newStorage(cfg config.StorageConfig) (adapter.ObjectStorage, error) {
	switch cfg.Type {
	case "minio":
		return storage.NewMinioStorage(
			storage.WithEndpoint(cfg.Minio.Endpoint),
			storage.WithBucket(cfg.Minio.Bucket),
			storage.WithAccessKey(cfg.Minio.AccessKey),
			storage.WithSecretKey(cfg.Minio.SecretKey),
			storage.WithSSL(cfg.Minio.UseSSL),
		)
	default:
		return storage.NewLocalStorage(cfg.LocalRoot)
	}
}

func newEngine(cfg config.InferenceConfig) (adapter.InferenceEngine, string, error) {
	if cfg.Engine == "stub" {
		e := inference.NewStubEngine()
		return e, e.Name(), nil
	}
	e, err := inference.NewHTTPEngine(cfg.URL, cfg.Model, cfg.APIKey, cfg.Timeout)
	if err != nil {
		return nil, "", err
	}
	return e, e.Name(), nil
}
