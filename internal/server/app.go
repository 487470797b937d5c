// Package server wires the OutOfSight pipeline from configuration and runs the
// worker process: queue consumers, the reconciler and the health endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/outofsight/internal/cryptox"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/awsx"
	"github.com/dmitrijs2005/outofsight/internal/server/config"
	"github.com/dmitrijs2005/outofsight/internal/server/ingest"
	"github.com/dmitrijs2005/outofsight/internal/server/notify"
	"github.com/dmitrijs2005/outofsight/internal/server/processing"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
	"github.com/dmitrijs2005/outofsight/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/outofsight/internal/server/storage"
	"github.com/dmitrijs2005/outofsight/internal/server/users"
	"github.com/dmitrijs2005/outofsight/internal/server/worker"

	gs "github.com/dmitrijs2005/outofsight/internal/server/grpc"
)

var (
	ErrNoRootSecret      = errors.New("root secret is not configured")
	// ErrNoDeadLetterQueue is returned by NewApp for a non-memory worker
	// without a dead-letter queue: abandoned files would never reach "failed".
	ErrNoDeadLetterQueue = errors.New("dead-letter queue URL is not configured")
)

// Components is the wired pipeline shared by the worker and the admin tool.
type Components struct {
	Config   *config.Config
	Logger   logging.Logger
	Registry registry.Store
	Blobs    storage.Store
	Queue    queue.Queue
	Keys     *cryptox.KeyManager
	Ingest   *ingest.Orchestrator
	Users    *users.Service
	Handler  *worker.Handler

	db *sql.DB
}

// Build connects to the configured backends: Postgres, S3 and SQS, or the
// in-process equivalents in memory mode. Without a root secret everything but
// encryption and decryption works.
func Build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Keys: cryptox.NewKeyManager([]byte(cfg.RootSecret))}

	var mailer notify.Mailer
	if cfg.MemoryMode {
		c.Registry = registry.NewMemory()
		c.Blobs = storage.NewMemory()
		c.Queue = queue.NewMemory(cfg.VisibilityTimeout, cfg.ReceiveWait)
		mailer = notify.NewLogMailer(logger)
		logger.Info(ctx, "running in memory mode")
	} else {
		db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		c.db = db
		c.Registry = registry.NewPostgres(db, repomanager.NewPostgresRepositoryManager())

		awsCfg, err := awsx.Load(ctx, awsx.Options{
			Region:    cfg.S3Region,
			AccessKey: cfg.S3RootUser,
			SecretKey: cfg.S3RootPassword,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("aws config error: %w", err)
		}

		c.Blobs = storage.NewS3Store(awsCfg, cfg.S3Bucket, cfg.S3BaseEndpoint)

		sqsClient := queue.NewSQSClient(awsCfg, cfg.SQSBaseEndpoint)
		c.Queue = queue.NewSQSQueue(sqsClient, queue.SQSOptions{
			QueueURL:          cfg.QueueURL,
			DeadLetterURL:     cfg.DeadLetterURL,
			ReceiveWait:       cfg.ReceiveWait,
			VisibilityTimeout: cfg.VisibilityTimeout,
		})

		if cfg.MailQueueURL != "" {
			mailer = notify.NewSQSMailer(sqsClient, cfg.MailQueueURL, cfg.MailFrom)
		} else {
			mailer = notify.NewLogMailer(logger)
		}
	}

	c.Ingest = ingest.NewOrchestrator(c.Keys, c.Blobs, c.Registry, c.Queue, ingest.Options{
		MaxFileSize:  cfg.MaxFileSize,
		AllowedTypes: cfg.AllowedTypes,
	}, logger)

	c.Users = users.NewService(c.Registry, c.Queue, users.Options{
		TokenSecret:    []byte(cfg.TokenSecret),
		TokenTTL:       cfg.ConfirmTokenTTL,
		ConfirmBaseURL: cfg.ConfirmBaseURL,
	}, logger)

	c.Handler = worker.NewHandler(c.Registry,
		processing.NewProcessor(c.Keys, c.Blobs, logger),
		c.Queue,
		notify.NewDispatcher(mailer, logger),
		logger)

	return c, nil
}

// Migrate applies the schema. It is a no-op in memory mode.
func (c *Components) Migrate(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return repomanager.NewPostgresRepositoryManager().RunMigrations(ctx, c.db)
}

func (c *Components) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type App struct {
	config     *config.Config
	logger     logging.Logger
	components *Components
}

func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg.RootSecret == "" {
		return nil, ErrNoRootSecret
	}
	if !cfg.MemoryMode && cfg.DeadLetterURL == "" {
		return nil, ErrNoDeadLetterQueue
	}

	c, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{config: cfg, logger: logger, components: c}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc, s *gs.Server) {
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "health server", "error", err)
		cancelFunc()
	}
}

// Run blocks until a signal arrives or a component fails, then waits for the
// workers to finish their in-flight messages.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting worker", "workers", app.config.Workers)
	app.initSignalHandler(cancelFunc)

	if err := app.components.Migrate(ctx); err != nil {
		app.logger.Error(ctx, "migrations", "error", err)
		return
	}

	health := gs.NewServer(app.config.HealthAddrGRPC, app.logger)
	consumer := worker.NewConsumer(app.components.Queue, app.components.Handler, worker.Options{
		Workers:           app.config.Workers,
		MaxAttempts:       app.config.MaxAttempts,
		VisibilityTimeout: app.config.VisibilityTimeout,
	}, app.logger)
	reconciler := worker.NewReconciler(app.components.Registry, app.components.Queue,
		app.config.ReconcileInterval, app.config.StaleAfter, app.logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc, health)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	reconciler.Start(ctx)
	health.SetServing(gs.ServiceWorker, true)

	<-ctx.Done()
	health.SetServing(gs.ServiceWorker, false)

	reconciler.Wait()
	wg.Wait()

	if err := app.components.Close(); err != nil {
		app.logger.Error(context.Background(), "close", "error", err)
	}
	app.logger.Info(context.Background(), "worker stopped")
}
