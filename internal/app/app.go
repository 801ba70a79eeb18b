package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	r "github.com/redis/go-redis/v9"

	"tabdigest/internal/config"
	"tabdigest/internal/domain"
	"tabdigest/internal/infrastructure/classify"
	"tabdigest/internal/infrastructure/enrich"
	"tabdigest/internal/infrastructure/httpapi"
	"tabdigest/internal/infrastructure/llm"
	"tabdigest/internal/infrastructure/notify"
	"tabdigest/internal/infrastructure/redisq"
	"tabdigest/internal/infrastructure/scheduler"
	"tabdigest/internal/infrastructure/storage"
	"tabdigest/internal/logging"
	"tabdigest/internal/ports"
	"tabdigest/internal/queue"
	"tabdigest/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	rdb       *r.Client
	worker    *usecase.Worker
	scheduler *usecase.DigestScheduler
	handler   http.Handler
}

// New builds a runnable application instance. The store and queue transports
// are selected from config: Postgres and Redis when configured, in-process
// fallbacks otherwise.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	app := &Application{cfg: cfg, logger: baseLogger}

	repo, err := app.buildRepository()
	if err != nil {
		return nil, err
	}

	guard := purgeGuard(repo)
	q, pinger := app.buildQueue(guard)

	var generator ports.TextGenerator
	if cfg.ChatGPT.APIKey != "" {
		generator = llm.NewChatGPTClient(cfg.ChatGPT)
	}
	classifier := classify.NewLLMClassifier(generator, baseLogger.With("component", "classifier"))
	enricher := enrich.NewEngine(generator, baseLogger.With("component", "enricher"))

	ingestor := usecase.NewIngestor(usecase.IngestorDeps{
		Repository: repo,
		Queue:      q,
		Classifier: classifier,
		Options: queue.Options{
			MaxAttempts: cfg.Queue.MaxAttempts,
			BackoffBase: cfg.Queue.BackoffBase(),
		},
		Logger: baseLogger.With("component", "ingestor"),
	})

	app.worker = usecase.NewWorker(usecase.WorkerDeps{
		Queue:         q,
		Repository:    repo,
		Enricher:      enricher,
		PollInterval:  cfg.Worker.PollInterval(),
		EnrichTimeout: cfg.Worker.EnrichTimeout(),
		Logger:        baseLogger.With("component", "worker"),
	})

	admin := usecase.NewAdmin(q, repo, baseLogger.With("component", "admin"))

	digest := usecase.NewDigestService(usecase.DigestDeps{
		Repository: repo,
		Channels:   app.buildChannels(),
		Window:     cfg.Digest.Window(),
		Limit:      cfg.Digest.Limit,
		Logger:     baseLogger.With("component", "digest"),
	})
	app.scheduler = usecase.NewDigestScheduler(
		scheduler.NewIntervalScheduler(cfg.Digest.Interval(), false),
		digest,
		baseLogger.With("component", "digest"),
	)

	app.handler = httpapi.New(httpapi.Deps{
		Ingestor: ingestor,
		Admin:    admin,
		Digest:   digest,
		Queue:    pinger,
		Logger:   baseLogger.With("component", "http"),
	})

	return app, nil
}

func (a *Application) buildRepository() (ports.SummaryRepository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory store")
		return storage.NewMemoryRepository(), nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	return storage.NewPostgresRepository(db), nil
}

func (a *Application) buildQueue(guard queue.PurgeGuard) (queue.Queue, httpapi.Pinger) {
	if a.cfg.Redis.Addr == "" {
		a.logger.Warn("no redis address configured, using in-process queue")
		mem := queue.NewMemory(
			queue.WithPurgeGuard(guard),
			queue.WithVisibilityTimeout(a.cfg.Queue.VisibilityTimeout()),
			queue.WithBackoffCap(a.cfg.Queue.BackoffCap()),
		)
		return mem, nil
	}

	a.rdb = r.NewClient(&r.Options{Addr: a.cfg.Redis.Addr, Password: a.cfg.Redis.Password})
	rq := redisq.New(a.rdb, a.cfg.Redis.KeyPrefix,
		redisq.WithPurgeGuard(guard),
		redisq.WithVisibilityTimeout(a.cfg.Queue.VisibilityTimeout()),
		redisq.WithBackoffCap(a.cfg.Queue.BackoffCap()),
	)
	return rq, rq
}

func (a *Application) buildChannels() []ports.DigestChannel {
	var channels []ports.DigestChannel
	if url := a.cfg.Notifications.Slack.WebhookURL; url != "" {
		channels = append(channels, notify.NewSlackChannel(url))
	}
	email := a.cfg.Notifications.Email
	if email.APIKey != "" && email.From != "" && email.To != "" {
		channels = append(channels, notify.NewEmailChannel(email.Endpoint, email.APIKey, email.From, email.To))
	}
	if len(channels) == 0 {
		a.logger.Warn("no digest channels configured")
	}
	return channels
}

// purgeGuard vetoes queue cleanup of entries whose record is still pending or
// in flight, e.g. after an operator retry restarted the lineage.
func purgeGuard(repo ports.SummaryRepository) queue.PurgeGuard {
	return func(ctx context.Context, summaryID string) (bool, error) {
		sum, err := repo.Get(ctx, summaryID)
		if err != nil {
			return false, err
		}
		if sum == nil {
			return true, nil
		}
		return sum.Status != domain.StatusPending && sum.Status != domain.StatusProcessing, nil
	}
}

// Run starts the worker loop, the digest scheduler, and the HTTP server, and
// blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() { _ = a.scheduler.Stop(context.Background()) }()

	workerDone := make(chan error, 1)
	go func() { workerDone <- a.worker.Run(ctx) }()

	server := &http.Server{Addr: a.cfg.Server.Addr, Handler: a.handler}
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe() }()
	a.logger.Info("server listening", "addr", a.cfg.Server.Addr)

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown", "error", err)
	}

	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

func (a *Application) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
