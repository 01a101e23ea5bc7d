package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"FeedNotifier/internal/config"
	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/infrastructure/parser"
	"FeedNotifier/internal/infrastructure/scheduler"
	"FeedNotifier/internal/infrastructure/storage"
	"FeedNotifier/internal/infrastructure/telegram"
	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/ports"
	"FeedNotifier/internal/transport/httpapi"
	"FeedNotifier/internal/usecase"
	"FeedNotifier/pkg/logger"
)

// Service identity reported by Status.
const (
	ServiceName = "feednotifier"
	Version     = "0.1.0"
)

var errChannelNotConfigured = errors.New("delivery channel not configured: set TELEGRAM_BOT_TOKEN")

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *storage.Store
	ingestor   *usecase.Ingestor
	dispatcher *usecase.Dispatcher
	cron       *scheduler.CronScheduler
}

// Option overrides an adapter built from config.
type Option func(*options)

type options struct {
	source  ports.PostSource
	channel ports.DeliveryChannel
}

// WithSource replaces the HTTP feed source.
func WithSource(src ports.PostSource) Option {
	return func(o *options) { o.source = src }
}

// WithChannel replaces the Telegram delivery channel.
func WithChannel(ch ports.DeliveryChannel) Option {
	return func(o *options) { o.channel = ch }
}

// New opens the store and builds every adapter and use case.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := storage.Open(ctx, cfg.Database, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	source := o.source
	if source == nil {
		fetcher := parser.NewFetcher(cfg.Feed, nil)
		source = parser.NewFeedSource(fetcher, baseLogger.With("component", "feed"))
	}

	channel := o.channel
	if channel == nil && cfg.Telegram.BotToken != "" {
		tg, err := telegram.NewChannel(cfg.Telegram, baseLogger.With("component", "telegram"))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		channel = tg
	}

	a := &Application{
		cfg:    cfg,
		logger: baseLogger,
		store:  store,
		ingestor: usecase.NewIngestor(usecase.IngestorDeps{
			Source:         source,
			Posts:          store,
			Registry:       store,
			Ledger:         store,
			UnmatchedLimit: cfg.Batch.UnmatchedLimit,
			Logger:         baseLogger.With("component", "ingest"),
		}),
		cron: scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger.With("component", "cron")),
	}
	if channel != nil {
		a.dispatcher = usecase.NewDispatcher(usecase.DispatcherDeps{
			Ledger:       store,
			Registry:     store,
			Channel:      channel,
			PendingLimit: cfg.Batch.PendingLimit,
			Logger:       baseLogger.With("component", "dispatch"),
		})
	} else {
		baseLogger.Warn("telegram bot token is empty, dispatch disabled")
	}
	return a, nil
}

// Store exposes the underlying store for operator tooling.
func (a *Application) Store() *storage.Store {
	return a.store
}

// RunIngest performs one ingestion run.
func (a *Application) RunIngest(ctx context.Context) domain.RunResult {
	stats, err := a.ingestor.Run(ctx)
	if err != nil {
		a.logger.Error("ingest failed", "error", err)
		return domain.RunResult{Message: err.Error(), Stats: stats}
	}
	return domain.RunResult{
		Success: true,
		Message: fmt.Sprintf("ingested %d new posts, created %d obligations", stats.Inserted, stats.Obligations),
		Stats:   stats,
	}
}

// RunDispatch performs one dispatch run.
func (a *Application) RunDispatch(ctx context.Context) domain.RunResult {
	if a.dispatcher == nil {
		return domain.RunResult{Message: errChannelNotConfigured.Error(), Stats: domain.DispatchStats{}}
	}

	stats, err := a.dispatcher.Run(ctx)
	if err != nil {
		a.logger.Error("dispatch failed", "error", err)
		return domain.RunResult{Message: err.Error(), Stats: stats}
	}
	return domain.RunResult{
		Success: true,
		Message: fmt.Sprintf("sent %d of %d notifications", stats.Sent, stats.Attempted),
		Stats:   stats,
	}
}

// Status reports service identity, the triggerable operations and ledger counts.
func (a *Application) Status(ctx context.Context) domain.RunResult {
	status := domain.ServiceStatus{
		Service: ServiceName,
		Version: Version,
		Operations: []domain.OperationInfo{
			{Name: usecase.JobIngest, Description: "fetch the feed, store new posts and create delivery obligations for matching filters"},
			{Name: usecase.JobDispatch, Description: "send pending obligations once and record sent or failed"},
			{Name: "status", Description: "report service identity and obligation counts"},
		},
	}

	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		a.logger.Error("status failed", "error", err)
		return domain.RunResult{Message: err.Error(), Stats: status}
	}
	status.Obligations = counts
	return domain.RunResult{Success: true, Message: "ok", Stats: status}
}

// Serve runs the cron triggers and the HTTP trigger surface until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	jobs := usecase.NewScheduler(a.cron, a.ingestor, a.dispatcher, a.logger.With("component", "scheduler"))
	if err := jobs.Start(ctx, a.cfg.Scheduler.IngestCron, a.cfg.Scheduler.DispatchCron); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(a, a.logger.With("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.New(a.logger, "http"),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}
