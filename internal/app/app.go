// Package app builds the crawl run's dependencies from configuration and
// drives it to a summary.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/api"
	"github.com/JakeFAU/storefront-crawler/internal/clock/system"
	"github.com/JakeFAU/storefront-crawler/internal/config"
	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/dedup"
	"github.com/JakeFAU/storefront-crawler/internal/detector"
	"github.com/JakeFAU/storefront-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/storefront-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/storefront-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/storefront-crawler/internal/hash/sha256"
	"github.com/JakeFAU/storefront-crawler/internal/id/uuid"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-crawler/internal/persist"
	"github.com/JakeFAU/storefront-crawler/internal/policy/politeness"
	"github.com/JakeFAU/storefront-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/storefront-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/storefront-crawler/internal/publisher/pubsub"
	workqueue "github.com/JakeFAU/storefront-crawler/internal/queue/memory"
	"github.com/JakeFAU/storefront-crawler/internal/router"
	badgerjournal "github.com/JakeFAU/storefront-crawler/internal/storage/badger"
	gcsstorage "github.com/JakeFAU/storefront-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/storefront-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/storefront-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/storefront-crawler/internal/storage/postgres"
	"github.com/JakeFAU/storefront-crawler/internal/worker"
)

const (
	summaryObject   = "summary.json"
	shutdownTimeout = 10 * time.Second
)

// Option customizes New.
type Option func(*options)

type options struct {
	browser crawler.Browser
	out     io.Writer
	clock   crawler.Clock
}

// WithBrowser replaces the configured automation engine.
func WithBrowser(b crawler.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithOutput sets where the summary JSON is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App holds the long-lived services for one crawl run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
	clock  crawler.Clock
	out    io.Writer

	browser   crawler.Browser
	journal   crawler.Journal
	queue     *workqueue.Queue
	pgStore   *pgstore.Store
	agg       *metrics.Aggregator
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	dispatch  *dispatcher.Dispatcher

	gcpPublisher *gcppublisher.Publisher
	closers      []func() error
}

// New wires every collaborator named by cfg. Resources acquired before a
// failure are released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{out: os.Stdout, clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  o.clock,
		out:    o.out,
		agg:    metrics.NewAggregator(),
	}

	var err error
	if a.runID, err = resolveRunID(cfg.Crawl.RunID, logger); err != nil {
		return nil, err
	}
	a.logger = logger.With(zap.String("run_id", a.runID))

	steps := []func(context.Context) error{
		a.setupJournal,
		a.setupStorage,
		a.setupOutput,
		a.setupPublisher,
		func(context.Context) error { return a.setupBrowser(o.browser) },
		a.setupDispatcher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// RunID returns the identifier that scopes this run.
func (a *App) RunID() string {
	return a.runID
}

func resolveRunID(configured string, logger *zap.Logger) (string, error) {
	if configured == "" {
		id, err := uuid.New().NewID()
		if err != nil {
			return "", fmt.Errorf("generate run id: %w", err)
		}
		return id, nil
	}
	if !uuid.Valid(configured) {
		logger.Info("run id is not a UUID, using it verbatim", zap.String("run_id", configured))
	}
	return configured, nil
}

func (a *App) setupJournal(context.Context) error {
	if a.cfg.Queue.JournalPath == "" {
		a.logger.Info("using in-memory work journal, pending work will not survive a restart")
		a.journal = workqueue.NewJournal()
		return nil
	}
	j, err := badgerjournal.Open(a.cfg.Queue.JournalPath, a.runID, sha256.New())
	if err != nil {
		return fmt.Errorf("journal init failed: %w", err)
	}
	a.journal = j
	a.closers = append(a.closers, j.Close)
	a.logger.Info("using badger work journal", zap.String("path", a.cfg.Queue.JournalPath))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, listings are kept in memory for this run only")
		return nil
	}
	store, err := pgstore.NewStore(ctx, pgstore.StoreConfig{
		DSN:                a.cfg.DB.DSN,
		MaxConns:           a.cfg.DB.MaxConns,
		MinConns:           a.cfg.DB.MinConns,
		MaxConnLifetime:    a.cfg.DB.MaxConnLifetime,
		EnrichmentFunction: a.cfg.DB.EnrichmentFunction,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	a.logger.Info("postgres store initialized", zap.String("enrichment_function", a.cfg.DB.EnrichmentFunction))
	return nil
}

func (a *App) setupOutput(ctx context.Context) error {
	switch {
	case a.cfg.Output.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("writing run summary to GCS", zap.String("bucket", a.cfg.Output.GCSBucket))
	case a.cfg.Output.Dir != "":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("writing run summary to local directory", zap.String("path", a.cfg.Output.Dir))
	default:
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	pub, err := gcppublisher.New(client, a.cfg.PubSub.TopicName, map[string]string{"run_id": a.runID})
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.gcpPublisher = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupBrowser(override crawler.Browser) error {
	if override != nil {
		a.browser = override
		return nil
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Browser.DomainRPS,
		DefaultBurst: a.cfg.Browser.DomainBurst,
	})
	switch a.cfg.Browser.Engine {
	case config.EngineStatic:
		a.browser = collyfetcher.New(collyfetcher.Config{
			UserAgent:   a.cfg.Browser.UserAgent,
			ProxyURL:    a.cfg.Browser.ProxyURL,
			Timeout:     a.cfg.Browser.NavTimeout,
			RateLimiter: limiter,
		}, a.logger.Named("colly"))
	default:
		b, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       a.cfg.Browser.MaxParallel,
			UserAgent:         a.cfg.Browser.UserAgent,
			NavigationTimeout: a.cfg.Browser.NavTimeout,
			Headless:          a.cfg.Browser.Headless,
			ProxyURL:          a.cfg.Browser.ProxyURL,
			RateLimiter:       limiter,
		}, a.logger.Named("headless"))
		if err != nil {
			return fmt.Errorf("headless browser init failed: %w", err)
		}
		a.browser = b
	}
	a.logger.Info("browser engine ready",
		zap.String("engine", a.cfg.Browser.Engine),
		zap.Float64("domain_rps", a.cfg.Browser.DomainRPS),
		zap.Int("max_parallel", a.cfg.Browser.MaxParallel),
	)
	return nil
}

func (a *App) setupDispatcher(context.Context) error {
	det, err := detector.New(a.cfg.Crawl.BlockURLPatterns, a.cfg.Crawl.BlockContentPatterns)
	if err != nil {
		return fmt.Errorf("block detector init failed: %w", err)
	}
	a.queue = workqueue.New(a.journal, workqueue.Options{MaxRetries: a.cfg.Crawl.MaxRetries}, a.logger.Named("queue"))

	var (
		upserter crawler.Upserter
		enrich   crawler.EnrichmentQueue
	)
	if a.pgStore != nil {
		upserter, enrich = a.pgStore, a.pgStore
	} else {
		mem := memorystorage.NewUpsertStore()
		upserter, enrich = mem, mem
	}
	tables := persist.Tables{
		Sellers:  a.cfg.DB.SellersTable,
		Products: a.cfg.DB.ProductsTable,
		Listings: a.cfg.DB.ListingsTable,
	}

	stop := worker.NewStopSignal()
	deps := worker.Deps{
		Browser: a.browser,
		Queue:   a.queue,
		Router: router.New(router.DefaultAdapters(a.cfg.Crawl.DefaultCurrency), dedup.New(), a.clock, router.Options{
			CategoryLinkCap: a.cfg.Crawl.CategoryLinkCap,
			DefaultCurrency: a.cfg.Crawl.DefaultCurrency,
		}),
		Detector: det,
		Writer:   persist.New(upserter, enrich, tables, a.logger.Named("persist")),
		Pacer:    politeness.New(a.cfg.Crawl.PolitenessMin, a.cfg.Crawl.PolitenessMax),
		Counters: a.agg,
		Stop:     stop,
	}
	workerCfg := worker.Config{
		MaxItems:      int64(a.cfg.Crawl.MaxItems),
		FetchTimeout:  a.cfg.Crawl.FetchTimeout,
		SettleTimeout: a.cfg.Crawl.SettleTimeout,
		SessionOptions: crawler.SessionOptions{
			ProxyURL:  a.cfg.Browser.ProxyURL,
			UserAgent: a.cfg.Browser.UserAgent,
		},
	}
	pool := make([]*worker.Worker, 0, a.cfg.Crawl.MaxConcurrency)
	for i := range a.cfg.Crawl.MaxConcurrency {
		pool = append(pool, worker.New(i, deps, workerCfg, a.logger))
	}

	a.dispatch = dispatcher.New(a.queue, pool, a.agg, stop, a.clock, dispatcher.Config{
		RunID:      a.runID,
		Domains:    a.cfg.Crawl.Domains,
		Categories: a.cfg.Crawl.Categories,
	}, a.logger)
	a.logger.Info("worker pool configured",
		zap.Int("workers", len(pool)),
		zap.Int("max_items", a.cfg.Crawl.MaxItems),
		zap.Int("max_retries", a.cfg.Crawl.MaxRetries),
		zap.Duration("politeness_min", a.cfg.Crawl.PolitenessMin),
		zap.Duration("politeness_max", a.cfg.Crawl.PolitenessMax),
	)
	return nil
}

// Run executes the crawl and emits the summary. The ops server, when
// enabled, lives for the duration of the call.
func (a *App) Run(ctx context.Context) (metrics.Summary, error) {
	srv := a.startServer()

	summary, runErr := a.dispatch.Run(ctx)
	a.emit(context.WithoutCancel(ctx), summary)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return summary, runErr
}

func (a *App) startServer() *http.Server {
	if a.cfg.Server.Port <= 0 {
		return nil
	}
	var checks []api.Check
	if a.pgStore != nil {
		checks = append(checks, api.Check{Name: "postgres", Pinger: a.pgStore})
	}
	handler := api.NewServer(a.runID, a.clock.Now().UTC(), a.agg, a.queue, checks, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return srv
}

// emit reports the summary to the log, the output writer, the blob store,
// and the publisher. Failures past the log line are reported but not fatal.
func (a *App) emit(ctx context.Context, summary metrics.Summary) {
	a.logger.Info("run summary",
		zap.Int64("pages_fetched", summary.PagesFetched),
		zap.Int64("listings_processed", summary.ListingsProcessed),
		zap.Int64("blocked_pages", summary.BlockedPages),
		zap.Int64("parse_errors", summary.ParseErrors),
		zap.Int64("failed_requests", summary.FailedRequests),
		zap.Int64("retries", summary.Retries),
		zap.String("success_rate", summary.SuccessRate),
		zap.Time("run_started_at", summary.RunStartedAt),
		zap.Time("run_completed_at", summary.RunCompletedAt),
	)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		a.logger.Error("marshal summary failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintln(a.out, string(data)); err != nil {
		a.logger.Warn("print summary failed", zap.Error(err))
	}

	objectPath := path.Join(a.cfg.Output.Prefix, a.runID, summaryObject)
	uri, err := a.blobs.PutObject(ctx, objectPath, "application/json", data)
	if err != nil {
		a.logger.Warn("store summary failed", zap.String("path", objectPath), zap.Error(err))
	} else {
		a.logger.Debug("summary stored", zap.String("uri", uri))
	}

	msgID, err := a.publisher.Publish(ctx, a.cfg.PubSub.TopicName, summary)
	if err != nil {
		a.logger.Warn("publish summary failed", zap.Error(err))
		return
	}
	a.logger.Debug("summary published", zap.String("message_id", msgID))
}

// Close releases every resource New acquired, in reverse order.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
