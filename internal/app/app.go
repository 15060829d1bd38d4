// Package app builds the service graph from configuration and runs the
// HTTP server and the worker pool.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/api"
	"github.com/JakeFAU/hidden-spot/internal/backfill"
	"github.com/JakeFAU/hidden-spot/internal/clock/system"
	"github.com/JakeFAU/hidden-spot/internal/config"
	"github.com/JakeFAU/hidden-spot/internal/crawler"
	"github.com/JakeFAU/hidden-spot/internal/dispatcher"
	"github.com/JakeFAU/hidden-spot/internal/embedding"
	"github.com/JakeFAU/hidden-spot/internal/id/uuid"
	"github.com/JakeFAU/hidden-spot/internal/lake"
	"github.com/JakeFAU/hidden-spot/internal/llm/gemini"
	"github.com/JakeFAU/hidden-spot/internal/metrics"
	"github.com/JakeFAU/hidden-spot/internal/pipeline"
	"github.com/JakeFAU/hidden-spot/internal/quality"
	"github.com/JakeFAU/hidden-spot/internal/queue"
	memqueue "github.com/JakeFAU/hidden-spot/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/hidden-spot/internal/queue/pubsub"
	"github.com/JakeFAU/hidden-spot/internal/ratelimit"
	"github.com/JakeFAU/hidden-spot/internal/review"
	"github.com/JakeFAU/hidden-spot/internal/serving"
	gcsstorage "github.com/JakeFAU/hidden-spot/internal/storage/gcs"
	localstorage "github.com/JakeFAU/hidden-spot/internal/storage/local"
	memstorage "github.com/JakeFAU/hidden-spot/internal/storage/memory"
	pgstore "github.com/JakeFAU/hidden-spot/internal/storage/postgres"
	s3storage "github.com/JakeFAU/hidden-spot/internal/storage/s3"
	"github.com/JakeFAU/hidden-spot/internal/store"
	"github.com/JakeFAU/hidden-spot/internal/telemetry"
	"github.com/JakeFAU/hidden-spot/internal/worker"
)

// App holds the long-lived services shared by every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Lake       *lake.Lake
	Repo       store.Repository
	Queue      queue.Queue
	Projection *serving.Projection
	Backfill   *backfill.Backfiller

	gcsClient      *storage.Client
	headless       *crawler.HeadlessCrawler
	tracerShutdown func(context.Context) error
}

// Build creates the shared dependencies. Crawler and model clients are built
// lazily by Orchestrator since only workers need them.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
	}

	backend, err := a.setupStorage(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Lake, err = lake.New(backend, lake.Buckets{
		Bronze:    cfg.Storage.Buckets.Bronze,
		Silver:    cfg.Storage.Buckets.Silver,
		Gold:      cfg.Storage.Buckets.Gold,
		Artifacts: cfg.Storage.Buckets.Artifacts,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("lake init failed: %w", err)
	}

	if a.Repo, err = a.setupDatabase(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if a.Queue, err = a.setupQueue(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Projection = serving.New(a.Repo, serving.Config{
		ReviewWindow:      cfg.Serving.ReviewWindow,
		LowQualityMarkers: cfg.Serving.LowQualityMarkers,
		MinMarkerHits:     cfg.Quality.MinMarkerHits,
	}, logger)
	a.Backfill = backfill.New(a.Lake, a.Repo, system.New(), logger)
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) (lake.Backend, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		var opts []option.ClientOption
		if a.cfg.Storage.GCS.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(a.cfg.Storage.GCS.Endpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		a.logger.Info("using GCS storage backend")
		return gcsstorage.New(client)
	case "s3":
		a.logger.Info("using S3 storage backend", zap.String("endpoint", a.cfg.Storage.S3.EndpointURL))
		return s3storage.New(s3storage.NewClient(s3storage.Config{
			Region:          a.cfg.Storage.S3.Region,
			EndpointURL:     a.cfg.Storage.S3.EndpointURL,
			ForcePathStyle:  a.cfg.Storage.S3.ForcePathStyle,
			AccessKeyID:     a.cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: a.cfg.Storage.S3.SecretAccessKey,
		}))
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case "memory", "":
		a.logger.Info("using in-memory storage backend")
		return memstorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) setupDatabase(ctx context.Context) (store.Repository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory repository")
		return memstorage.NewRepository(), nil
	}
	repo, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DBMaxConnLifetime(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	return repo, nil
}

func (a *App) setupQueue(ctx context.Context) (queue.Queue, error) {
	switch a.cfg.Queue.Backend {
	case "pubsub":
		q, err := pubsubqueue.New(ctx, pubsubqueue.Config{
			ProjectID:      a.cfg.Queue.ProjectID,
			Topic:          a.cfg.Queue.Topic,
			Subscription:   a.cfg.Queue.Subscription,
			MaxOutstanding: a.cfg.Queue.Workers,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub queue init failed: %w", err)
		}
		a.logger.Info("using Pub/Sub job queue", zap.String("topic", a.cfg.Queue.Topic))
		return q, nil
	case "memory", "":
		a.logger.Info("using in-memory job queue", zap.Int("depth", a.cfg.Queue.Depth))
		return memqueue.NewQueue(a.cfg.Queue.Depth), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
}

// Orchestrator builds the pipeline with its crawler and model clients.
func (a *App) Orchestrator() (*pipeline.Orchestrator, error) {
	cfg := a.cfg
	crawlLimiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.PerDomainQPS})

	base, err := a.crawler(crawlLimiter)
	if err != nil {
		return nil, err
	}
	crawl := crawler.NewRetrying(base,
		crawler.NewLinearRetryPolicy(cfg.Crawler.RetryCount, cfg.CrawlRetryDelay()), a.logger)

	prompts, err := analysis.LoadPrompts(cfg.Analysis.PromptDir, cfg.Analysis.PromptVersion)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	opts := analysis.Options{
		Model:          cfg.Analysis.Model,
		FallbackModels: cfg.Analysis.FallbackModels,
		Prompts:        prompts,
		ChunkSize:      cfg.Analysis.ChunkSize,
		Concurrency:    cfg.Analysis.ChunkConcurrency,
		RequestTimeout: cfg.AnalysisTimeout(),
		Limiter:        ratelimit.New(ratelimit.Config{RPS: cfg.Analysis.RequestsPerSecond}),
		Logger:         a.logger,
	}

	var embedder pipeline.Embedder
	client, err := gemini.New(gemini.Config{
		APIKey:  cfg.Analysis.APIKey,
		BaseURL: cfg.Analysis.BaseURL,
		Timeout: cfg.AnalysisTimeout(),
	}, a.logger)
	switch {
	case errors.Is(err, gemini.ErrNoAPIKey):
		a.logger.Warn("no generative api key configured; analysis will use fallback summaries")
	case err != nil:
		return nil, fmt.Errorf("gemini client init failed: %w", err)
	default:
		opts.Generator = client
		opts.Lister = client
		if cfg.Embedding.Enabled {
			embedder = embedding.NewResolver(client, cfg.Embedding.Model, cfg.Embedding.FallbackModels, cfg.Embedding.Dimension, a.logger)
		}
	}

	return pipeline.New(pipeline.Deps{
		Repo:     a.Repo,
		Lake:     a.Lake,
		Crawler:  crawl,
		Parser:   review.NewParser(),
		Gate:     quality.New(quality.Config{Markers: cfg.Quality.BoilerplateMarkers, MinHits: cfg.Quality.MinMarkerHits}),
		Analyzer: analysis.New(opts),
		Embedder: embedder,
		Clock:    system.New(),
	}, pipeline.Config{
		CrawlerVersion: cfg.Analysis.CrawlerVersion,
		ParserVersion:  cfg.Analysis.ParserVersion,
		ReviewLogCap:   cfg.Serving.ReviewLogCap,
	}, a.logger)
}

func (a *App) crawler(limiter *ratelimit.Limiter) (crawler.Crawler, error) {
	cfg := a.cfg.Crawler
	navTimeout := time.Duration(cfg.NavTimeoutSeconds) * time.Second
	newHeadless := func() *crawler.HeadlessCrawler {
		a.headless = crawler.NewHeadless(crawler.HeadlessConfig{
			UserAgent:    cfg.UserAgent,
			NavTimeout:   navTimeout,
			ScrollRounds: cfg.ScrollRounds,
			MaxParallel:  a.cfg.Queue.Workers,
			Screenshots:  cfg.DebugScreenshots,
		}, limiter, a.logger)
		return a.headless
	}
	if cfg.Mode == "headless" || cfg.Mode == "" {
		return newHeadless(), nil
	}
	static, err := crawler.NewStatic(crawler.StaticConfig{
		UserAgent:      cfg.UserAgent,
		RequestTimeout: navTimeout,
	}, limiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("static crawler init failed: %w", err)
	}
	if cfg.Mode == "static" {
		return static, nil
	}
	return crawler.NewPromoting(static, newHeadless(), 0, a.logger), nil
}

// Dispatcher builds the worker pool around runner.
func (a *App) Dispatcher(runner worker.Runner) *dispatcher.Dispatcher {
	n := a.cfg.Queue.Workers
	if n <= 0 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(i+1, a.Queue, runner, worker.Config{
			MaxAttempts: a.cfg.Queue.MaxAttempts,
			Backoff:     a.cfg.QueueBackoff(),
			JobTimeout:  a.cfg.JobTimeout(),
		}, a.logger))
	}
	return dispatcher.New(a.Queue, workers)
}

// APIServer builds the HTTP handlers.
func (a *App) APIServer(d *dispatcher.Dispatcher) *api.Server {
	return api.NewServer(api.Deps{
		Repo:       a.Repo,
		Projection: a.Projection,
		Queue:      d,
		IDs:        uuid.New(),
		Clock:      system.New(),
		Backfill:   a.Backfill,
	}, a.cfg, a.logger)
}

// Serve runs the HTTP server, and the worker pool when withWorkers is set,
// until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context, withWorkers bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		d       *dispatcher.Dispatcher
		workers = make(chan struct{})
	)
	if withWorkers {
		orch, err := a.Orchestrator()
		if err != nil {
			return err
		}
		d = a.Dispatcher(orch)
		go func() {
			defer close(workers)
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Queue.Workers))
			d.Run(ctx)
		}()
	} else {
		d = dispatcher.New(a.Queue, nil)
		close(workers)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.APIServer(d).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-workers
	return nil
}

// RunWorkers consumes the queue until SIGINT or SIGTERM.
func (a *App) RunWorkers(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	orch, err := a.Orchestrator()
	if err != nil {
		return err
	}
	a.logger.Info("worker pool started", zap.Int("workers", a.cfg.Queue.Workers))
	a.Dispatcher(orch).Run(ctx)
	a.logger.Info("worker pool stopped")
	return nil
}

// Migrate applies the relational schema. The in-memory repository needs none.
func (a *App) Migrate(ctx context.Context) error {
	pg, ok := a.Repo.(*pgstore.Repository)
	if !ok {
		a.logger.Info("repository has no schema to migrate")
		return nil
	}
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds > 0 {
		return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.Repo != nil {
		a.Repo.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
