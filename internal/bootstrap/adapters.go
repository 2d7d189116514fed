package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/quietcut/quietcut/config"
	"github.com/quietcut/quietcut/internal/adapters/ratelimit"
	"github.com/quietcut/quietcut/internal/core"
	"github.com/quietcut/quietcut/internal/data"
	"github.com/quietcut/quietcut/internal/domain/job"
	"github.com/quietcut/quietcut/internal/media"
	"github.com/quietcut/quietcut/internal/notify"
	"github.com/quietcut/quietcut/internal/notify/mailer"
	"github.com/quietcut/quietcut/internal/observability/notify/slack"
	"github.com/quietcut/quietcut/internal/observability/statsd"
	"github.com/quietcut/quietcut/internal/service"
	"github.com/quietcut/quietcut/internal/service/failurenotifier"
	"github.com/quietcut/quietcut/internal/storage"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs     *service.JobService
	JobRepo  *data.JobRepo
	Accounts *data.AccountRepo
	// Executor is nil when the worker service is disabled.
	Executor *service.Executor
	Reaper   *service.Reaper
	// Notifier wakes idle workers on queue inserts.
	Notifier *job.DefaultNotifier
	// Limiter is nil when Redis is not connected.
	Limiter       core.RateLimiter
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, adapters, and services from connections
// and configuration.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, fmt.Errorf("service dependencies and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)

	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})
	accountRepo := data.NewAccountRepo(deps.DB, nil)

	store, err := buildStore(cfg)
	if err != nil {
		return ServiceContainer{}, err
	}

	outcomeMailer := buildMailer(cfg.Mailer, logger)

	jobSvc, err := service.NewJobService(service.JobServiceOptions{
		Jobs:          jobRepo,
		Accounts:      accountRepo,
		Store:         store,
		Mailer:        outcomeMailer,
		FailureAlerts: observability.FailureNotifier,
		Metrics:       observability.MetricsSink,
		Logger:        logger,
		SignedURLTTL:  cfg.Storage.SignedURLTTL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job service: %w", err)
	}

	executor, err := buildExecutor(cfg, store, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	reaper, err := service.NewReaper(service.ReaperOptions{
		Jobs:            jobRepo,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
		RetentionMaxAge: cfg.Reaper.RetentionMaxAge,
		DeleteBatchSize: cfg.Reaper.BatchSize,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper: %w", err)
	}

	notifier, err := job.NewNotifier(job.NotifierOptions{Waiter: jobRepo})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build notifier: %w", err)
	}

	limiter, err := buildLimiter(cfg.Worker, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Jobs:          jobSvc,
		JobRepo:       jobRepo,
		Accounts:      accountRepo,
		Executor:      executor,
		Reaper:        reaper,
		Notifier:      notifier,
		Limiter:       limiter,
		Observability: observability,
	}, nil
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "quietcut",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	failureNotifier := buildFailureNotifier(obsLogger, cfg.Notifications)

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: failureNotifier,
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 1)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// buildStore connects the object store when configured. The worker cannot
// run without one; status-only deployments can.
func buildStore(cfg *config.AppConfig) (core.ObjectStore, error) {
	if cfg.Storage.URL == "" {
		if cfg.IsWorkerEnabled() {
			return nil, fmt.Errorf("worker service requires STORAGE_URL and STORAGE_SERVICE_KEY")
		}
		return nil, nil
	}
	store, err := storage.New(storage.Options{
		URL:        cfg.Storage.URL,
		ServiceKey: cfg.Storage.ServiceKey,
		Bucket:     cfg.Storage.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("build object store: %w", err)
	}
	return store, nil
}

func buildMailer(cfg config.MailerConfig, logger *slog.Logger) notify.Mailer {
	if !cfg.Enabled {
		return nil
	}
	client, err := mailer.NewClient(mailer.Config{
		Endpoint:   cfg.Endpoint,
		APIKey:     cfg.APIKey,
		From:       cfg.From,
		Timeout:    cfg.Timeout,
		RetryLimit: cfg.RetryLimit,
	})
	if err != nil {
		logger.Error("failed to initialise mailer; outcome emails disabled", "error", err)
		return nil
	}
	return client
}

func buildExecutor(cfg *config.AppConfig, store core.ObjectStore, logger *slog.Logger) (*service.Executor, error) {
	if !cfg.IsWorkerEnabled() || store == nil {
		return nil, nil
	}

	toolchain := media.New(media.Config{
		FFmpegPath:        cfg.Media.FFmpegPath,
		FFprobePath:       cfg.Media.FFprobePath,
		NoiseDB:           cfg.Media.NoiseDB,
		MinSilenceSeconds: cfg.Media.MinSilenceSeconds,
		Logger:            logger,
	})

	executor, err := service.NewExecutor(service.ExecutorOptions{
		Store:      store,
		Analyzer:   toolchain,
		Assembler:  toolchain,
		ScratchDir: cfg.Media.ScratchDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}
	return executor, nil
}

func buildLimiter(cfg config.WorkerConfig, client redis.UniversalClient, logger *slog.Logger) (core.RateLimiter, error) {
	if client == nil {
		logger.Warn("redis not connected; job start rate limiting disabled")
		return nil, nil
	}
	limiter, err := ratelimit.New(ratelimit.Options{
		Client: client,
		Limit:  cfg.RateLimit,
		Window: cfg.RateWindow,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}
	return limiter, nil
}
