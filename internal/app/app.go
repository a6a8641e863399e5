// Package app initializes and holds long-lived crawler services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/api"
	"github.com/JakeFAU/vinmonopol-crawler/internal/clock/system"
	"github.com/JakeFAU/vinmonopol-crawler/internal/config"
	"github.com/JakeFAU/vinmonopol-crawler/internal/coordinator"
	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/extract"
	"github.com/JakeFAU/vinmonopol-crawler/internal/feed"
	collyfetcher "github.com/JakeFAU/vinmonopol-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/vinmonopol-crawler/internal/hash/sha256"
	"github.com/JakeFAU/vinmonopol-crawler/internal/id/uuid"
	"github.com/JakeFAU/vinmonopol-crawler/internal/metrics"
	"github.com/JakeFAU/vinmonopol-crawler/internal/normalize"
	"github.com/JakeFAU/vinmonopol-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/vinmonopol-crawler/internal/progress/sinks"
	"github.com/JakeFAU/vinmonopol-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/vinmonopol-crawler/internal/storage/gcs"
	"github.com/JakeFAU/vinmonopol-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/vinmonopol-crawler/internal/storage/postgres"
	"github.com/JakeFAU/vinmonopol-crawler/internal/store"
	"github.com/JakeFAU/vinmonopol-crawler/internal/telemetry"
	"github.com/JakeFAU/vinmonopol-crawler/internal/worker"
)

// ServiceName identifies the crawler in traces.
const ServiceName = "vinmonopol-crawler"

// Version is stamped at build time with -ldflags.
var Version = "dev"

// exportSinkTimeout bounds one end-of-run upload and notice.
const exportSinkTimeout = 2 * time.Minute

// Options tune process-wide wiring that tests need to isolate.
type Options struct {
	// Registerer receives the progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// CrawlOptions are the per-invocation knobs of a crawl.
type CrawlOptions struct {
	Resume bool
	// Workers overrides crawler.workers when positive.
	Workers int
}

// App holds the shared services of one crawler process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	fetcher *collyfetcher.Fetcher
	feed    crawler.IdentifierSource
	store   *local.RecordStore

	pool   *pgxpool.Pool
	mirror crawler.Mirror
	runs   store.RunRepository

	blobs     *gcs.BlobStore
	publisher *pubsub.Publisher
	tracing   *sdktrace.TracerProvider

	tracker *progress.Tracker
	hub     *progress.Hub
	server  *api.Server
}

// New creates the services described by cfg. It fails fast when a configured
// dependency cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, clock: system.New()}

	if cfg.Telemetry.GCPProjectID != "" {
		tp, err := telemetry.InitTracing(ctx, telemetry.Config{
			ServiceName: ServiceName,
			Version:     Version,
			ProjectID:   cfg.Telemetry.GCPProjectID,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracing = tp
	}

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:       cfg.Source.BaseURL,
		UserAgent:     cfg.Source.UserAgent,
		APIKey:        cfg.Source.APIKey,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	a.fetcher = fetcher
	a.feed = feed.New(feed.Config{
		APIBaseURL:   cfg.Source.APIBaseURL,
		MinProductID: cfg.Source.MinProductID,
	}, fetcher, logger.Named("feed"))

	a.store, err = local.New(local.Config{Path: cfg.Store.Path})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init record store: %w", err)
	}

	if cfg.Database.DSN != "" {
		if err := a.connectDatabase(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	promSink, err := progresssinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.tracker = progress.NewTracker()
	sinks := []progress.Sink{a.tracker, progresssinks.NewLogSink(logger.Named("progress")), promSink}
	if a.runs != nil {
		sinks = append(sinks, progresssinks.NewStoreSink(a.runs, logger.Named("progress")))
	}
	hubCfg := progress.HubConfig{Logger: logger.Named("progress")}
	if cfg.Export.GCSBucket != "" {
		exportSink, err := a.connectExport(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		sinks = append(sinks, exportSink)
		hubCfg.SinkTimeout = exportSinkTimeout
	}
	a.hub = progress.NewHub(hubCfg, sinks...)

	if cfg.Metrics.Addr != "" {
		a.server = api.NewServer(a.tracker, logger, api.WithRunRepository(a.runs))
		if _, err := a.server.Start(cfg.Metrics.Addr); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("start status server: %w", err)
		}
	}

	logger.Info("application services initialized",
		zap.String("store", a.store.Path()),
		zap.Bool("mirror", a.mirror != nil),
		zap.Bool("export", a.blobs != nil),
		zap.Bool("tracing", a.tracing != nil),
		zap.Bool("status_server", a.server != nil),
	)
	return a, nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: a.cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.pool = pool
	if err := pgstore.EnsureSchema(ctx, pool, a.cfg.Database.Table); err != nil {
		a.closePool()
		return fmt.Errorf("init database schema: %w", err)
	}
	mirror, err := pgstore.NewProductMirror(pool, a.cfg.Database.Table)
	if err != nil {
		a.closePool()
		return fmt.Errorf("init product mirror: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		a.closePool()
		return fmt.Errorf("init run store: %w", err)
	}
	a.mirror = mirror
	a.runs = runs
	return nil
}

// connectExport opens the bucket and, when a topic is configured, the
// notification publisher, and returns the sink that drives them.
func (a *App) connectExport(ctx context.Context) (*progresssinks.ExportSink, error) {
	exp := a.cfg.Export
	blobs, err := gcs.Open(ctx, gcs.Config{Bucket: exp.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("init export bucket: %w", err)
	}
	a.blobs = blobs

	var pub progresssinks.Publisher
	if exp.PubSubTopic != "" {
		publisher, err := pubsub.Open(ctx, exp.PubSubProject, exp.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("init export publisher: %w", err)
		}
		a.publisher = publisher
		pub = publisher
	}

	sink, err := progresssinks.NewExportSink(progresssinks.ExportConfig{
		StorePath: a.store.Path(),
		Prefix:    exp.Prefix,
		Hasher:    sha256.New(),
	}, blobs, pub, a.logger.Named("export"))
	if err != nil {
		return nil, fmt.Errorf("init export sink: %w", err)
	}
	return sink, nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Progress exposes the live snapshot of the current run.
func (a *App) Progress() progress.Source {
	return a.tracker
}

// Crawl lists identifiers from the catalog feed and runs one crawl over them.
func (a *App) Crawl(ctx context.Context, opts CrawlOptions) (coordinator.Summary, error) {
	workers := a.cfg.Crawler.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	if workers > config.MaxWorkers {
		return coordinator.Summary{}, fmt.Errorf("workers must be between 1 and %d", config.MaxWorkers)
	}

	normalizer, err := normalize.New(a.cfg.Source.BaseURL, a.clock)
	if err != nil {
		return coordinator.Summary{}, fmt.Errorf("init normalizer: %w", err)
	}
	coord, err := coordinator.New(coordinator.Config{
		CheckpointEvery:  a.cfg.Crawler.CheckpointEvery,
		RetryDelay:       a.storeRetryDelay(),
		MaxWriteAttempts: a.cfg.Store.MaxWriteAttempts,
	}, coordinator.Deps{
		Store: a.store,
		Pipeline: worker.Deps{
			Fetcher:    a.fetcher,
			Extractor:  extract.New(),
			Normalizer: normalizer,
			Pacer:      ratelimit.New(ratelimit.Config{MinDelay: a.cfg.Crawler.Delay}),
			Retry: crawler.NewExponentialRetryPolicy(
				a.cfg.Crawler.MaxAttempts,
				a.cfg.Crawler.BackoffInitial,
				a.cfg.Crawler.BackoffMax,
			),
		},
		Mirror:   a.mirror,
		Progress: a.hub,
		Clock:    a.clock,
		IDs:      uuid.New(),
	}, a.logger)
	if err != nil {
		return coordinator.Summary{}, fmt.Errorf("init coordinator: %w", err)
	}

	ids, err := a.feed.ListIdentifiers(ctx)
	if err != nil {
		return coordinator.Summary{}, fmt.Errorf("list identifiers: %w", err)
	}
	return coord.Run(ctx, ids, workers, opts.Resume)
}

// storeRetryDelay maps a configured zero delay onto the coordinator's
// "no pause" value.
func (a *App) storeRetryDelay() time.Duration {
	if a.cfg.Store.RetryDelay == 0 {
		return -1
	}
	return a.cfg.Store.RetryDelay
}

// Close shuts the services down. The status server stops first, then the
// progress hub drains so queued events reach the run store and the export
// sink, and only then are the clients those sinks use released.
func (a *App) Close(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("export publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("export bucket close failed", zap.Error(err))
		}
		a.blobs = nil
	}
	a.closePool()
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracing = nil
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closePool() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
