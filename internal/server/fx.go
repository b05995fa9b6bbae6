// Package server provides the application composition root.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/api"
	"github.com/JakeFAU/politefetch/internal/clock/system"
	"github.com/JakeFAU/politefetch/internal/config"
	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/executor"
	collyfetcher "github.com/JakeFAU/politefetch/internal/fetcher/colly"
	"github.com/JakeFAU/politefetch/internal/id/uuid"
	"github.com/JakeFAU/politefetch/internal/logging"
	"github.com/JakeFAU/politefetch/internal/metrics"
	"github.com/JakeFAU/politefetch/internal/pipeline"
	"github.com/JakeFAU/politefetch/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/politefetch/internal/publisher/pubsub"
	"github.com/JakeFAU/politefetch/internal/robots"
	"github.com/JakeFAU/politefetch/internal/schedule"
	"github.com/JakeFAU/politefetch/internal/score"
	"github.com/JakeFAU/politefetch/internal/storage"
	gcsstorage "github.com/JakeFAU/politefetch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/politefetch/internal/storage/local"
	memorystorage "github.com/JakeFAU/politefetch/internal/storage/memory"
	pgstore "github.com/JakeFAU/politefetch/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	recorder  *metrics.Recorder
	pipeline  *pipeline.Pipeline
	apiServer *api.Server

	statusReader api.StatusReader
	pgStatus     *pgstore.StatusStore
	gcsBlobs     *gcsstorage.BlobStore
	pubsub       *pubsubpublisher.Publisher

	closeOnce sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StatusBackend  string `json:"status_backend"`
		ContentBackend string `json:"content_backend"`
	}
	logger.Info("Creating application", zap.Any("config", SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StatusBackend:  cfg.Storage.StatusBackend,
		ContentBackend: cfg.Storage.ContentBackend,
	}))
	return &App{cfg: cfg, logger: logger}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the crawl pipeline for one-shot runs.
func (a *App) Runner() api.Runner { return a.pipeline }

// Handler returns the HTTP handler the API server serves.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves the API and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases storage clients and flushes the logger. It is safe to call
// more than once.
func (a *App) Close(_ context.Context) error {
	a.closeOnce.Do(func() {
		a.closeStorage()
		a.logger.Info("shutdown complete")
		// Sync fails on stderr/stdout for some platforms; ignore that.
		_ = a.logger.Sync()
	})
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.recorder, err = metrics.NewRecorder()
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	statusSink, err := setupStatusStore(ctx, app)
	if err != nil {
		return nil, err
	}
	statusSink, err = setupPublisher(ctx, app, statusSink)
	if err != nil {
		app.closeStorage()
		return nil, err
	}
	contentSink, err := setupContentStore(ctx, app)
	if err != nil {
		app.closeStorage()
		return nil, err
	}

	app.pipeline, err = setupPipeline(app, statusSink, contentSink)
	if err != nil {
		app.closeStorage()
		return nil, err
	}

	app.apiServer, err = api.NewServer(api.Options{
		Runner:     app.pipeline,
		Statuses:   app.statusReader,
		Metrics:    app.recorder.Handler(),
		Instrument: app.recorder.Middleware,
		RunTimeout: cfg.Server.RunTimeout,
		Logger:     logger.Named("api"),
	})
	if err != nil {
		app.closeStorage()
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return app, nil
}

func (a *App) closeStorage() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.pgStatus != nil {
		a.pgStatus.Close()
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func setupStatusStore(ctx context.Context, app *App) (crawler.StatusSink, error) {
	switch app.cfg.Storage.StatusBackend {
	case "postgres":
		store, err := pgstore.NewStatusStore(ctx, pgstore.StatusStoreConfig{
			DSN:             app.cfg.DB.DSN,
			Table:           app.cfg.DB.Table,
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("status store init failed: %w", err)
		}
		if app.cfg.DB.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, fmt.Errorf("status schema init failed: %w", err)
			}
		}
		app.pgStatus = store
		app.logger.Info("status store initialized", zap.String("backend", "postgres"), zap.String("table", app.cfg.DB.Table))
		return store, nil
	default:
		store := memorystorage.NewStatusStore()
		app.statusReader = store
		app.logger.Info("status store initialized", zap.String("backend", "memory"))
		return store, nil
	}
}

// setupPublisher tees statuses to Pub/Sub when a topic is configured.
func setupPublisher(ctx context.Context, app *App, sink crawler.StatusSink) (crawler.StatusSink, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Info("no Pub/Sub topic configured, statuses are not published")
		return sink, nil
	}
	pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
		ProjectID: app.cfg.PubSub.ProjectID,
		Topic:     app.cfg.PubSub.Topic,
	}, app.logger)
	if err != nil {
		return nil, err
	}
	app.pubsub = pub
	published, err := publisher.NewStatusSink(pub, app.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("status publisher init failed: %w", err)
	}
	return storage.StatusSinks{sink, published}, nil
}

func setupContentStore(ctx context.Context, app *App) (crawler.ContentSink, error) {
	var blobs storage.BlobStore
	switch app.cfg.Storage.ContentBackend {
	case "gcs":
		app.logger.Info("using GCS content backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcsBlobs = store
		blobs = store
	case "local":
		app.logger.Info("using local content backend", zap.String("path", app.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
	case "memory":
		app.logger.Info("using in-memory content backend")
		blobs = memorystorage.NewBlobStore()
	default:
		app.logger.Info("content storage disabled")
		return nil, nil
	}
	content, err := storage.NewContentStore(blobs, app.cfg.Storage.Prefix)
	if err != nil {
		return nil, fmt.Errorf("content store init failed: %w", err)
	}
	return content, nil
}

func setupScorer(cfg config.ScoringConfig) crawler.Scorer {
	if cfg.Strategy == "staleness" {
		return score.Staleness{RefreshAfter: cfg.RefreshAfter}
	}
	return score.NewFixed(cfg.DefaultScore)
}

func setupPipeline(
	app *App,
	statusSink crawler.StatusSink,
	contentSink crawler.ContentSink,
) (*pipeline.Pipeline, error) {
	cfg := app.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetcher.UserAgent,
		MaxConnections: cfg.Fetcher.MaxConnections,
		Timeout:        cfg.Fetcher.RequestTimeout,
		MaxBodyBytes:   cfg.Fetcher.MaxBodyBytes,
		ValidMimeTypes: cfg.Fetcher.ValidMimeTypes,
	}, app.logger.Named("fetcher"))
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", fetcher.UserAgent()),
		zap.Int("max_connections", fetcher.MaxConnections()),
	)

	pipeCfg := pipeline.Config{
		Schedule: schedule.Policy{
			MaxURLsPerBatch:    cfg.Policy.MaxURLsPerBatch,
			MinRequestInterval: cfg.Policy.MinRequestInterval,
			BucketCount:        cfg.Policy.BucketCount,
		},
		Executor: executor.Config{
			MaxThreads:     cfg.Executor.MaxThreads,
			RequestTimeout: cfg.Fetcher.RequestTimeout,
			ShutdownGrace:  cfg.Executor.ShutdownGrace,
		},
		CrawlDuration: cfg.Policy.CrawlDuration,
	}
	app.logger.Info("pipeline config",
		zap.Int("max_urls_per_batch", pipeCfg.Schedule.MaxURLsPerBatch),
		zap.Duration("min_request_interval", pipeCfg.Schedule.MinRequestInterval),
		zap.Int("bucket_count", pipeCfg.Schedule.BucketCount),
		zap.Int("max_threads", pipeCfg.Executor.MaxThreads),
		zap.Duration("crawl_duration", pipeCfg.CrawlDuration),
	)

	p, err := pipeline.New(pipeline.Deps{
		Fetcher: fetcher,
		Clock:   system.New(),
		IDs:     uuid.New(),
		Scorer:  setupScorer(cfg.Scoring),
		Robots: robots.Parser{
			DefaultCrawlDelay: cfg.Robots.DefaultCrawlDelay,
			Logger:            app.logger.Named("robots"),
		},
		Metrics:     app.recorder,
		StatusSink:  statusSink,
		ContentSink: contentSink,
		Logger:      app.logger.Named("pipeline"),
	}, pipeCfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return p, nil
}
