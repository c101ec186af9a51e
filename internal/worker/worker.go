// Package worker implements the per-item crawl loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	workqueue "github.com/JakeFAU/storefront-crawler/internal/queue/memory"
	"github.com/JakeFAU/storefront-crawler/internal/router"
)

const (
	defaultFetchTimeout  = 120 * time.Second
	defaultSettleTimeout = 10 * time.Second
)

// Queue is the slice of the work queue a worker consumes.
type Queue interface {
	Add(ctx context.Context, item crawler.WorkItem) (bool, error)
	Take(ctx context.Context) (crawler.WorkItem, error)
	MarkDone(ctx context.Context, item crawler.WorkItem) error
	MarkFailed(ctx context.Context, item crawler.WorkItem, cause error) (workqueue.FailureOutcome, error)
}

// Router turns a fetched page into follow-on work and records.
type Router interface {
	Route(ctx context.Context, item crawler.WorkItem, page crawler.Page) (router.Result, error)
}

// BlockChecker flags anti-bot interstitials.
type BlockChecker interface {
	Check(page crawler.Page) error
}

// RecordWriter persists one SELLER-stage bundle.
type RecordWriter interface {
	Write(ctx context.Context, rec crawler.Record) error
}

// Pacer pauses between fetches.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Counters is the run-summary sink.
type Counters interface {
	PageFetched()
	Persisted() int64
	Blocked()
	ParseError()
	FailedRequest()
	Retry()
	Duplicate()
}

// Deps bundles the collaborators shared by every worker in a run.
type Deps struct {
	Browser  crawler.Browser
	Queue    Queue
	Router   Router
	Detector BlockChecker
	Writer   RecordWriter
	Pacer    Pacer
	Counters Counters
	Stop     *StopSignal
}

// Config controls Worker behavior.
type Config struct {
	// MaxItems is the persisted-listing target. Zero disables the stop condition.
	MaxItems       int64
	FetchTimeout   time.Duration
	SettleTimeout  time.Duration
	SessionOptions crawler.SessionOptions
}

// Worker pulls items until the queue drains, closes, or the stop signal fires.
// A worker keeps one browser session across items and retires it after a
// block or a failed fetch.
type Worker struct {
	id      int
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	session crawler.Session
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Stop == nil {
		deps.Stop = NewStopSignal()
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until there is nothing left to do.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer w.retireSession()

	for {
		if w.deps.Stop.Stopped() || ctx.Err() != nil {
			return
		}
		item, err := w.deps.Queue.Take(ctx)
		if err != nil {
			switch {
			case errors.Is(err, crawler.ErrQueueDrained):
				w.logger.Debug("queue drained")
			case errors.Is(err, crawler.ErrQueueClosed):
				w.logger.Debug("queue closed")
			case ctx.Err() != nil:
			default:
				w.logger.Error("queue take failed", zap.Error(err))
			}
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.WorkItem) {
	err := w.handle(ctx, item)
	// Bookkeeping must land even when the run is being torn down.
	bookCtx := context.WithoutCancel(ctx)
	if err == nil {
		if markErr := w.deps.Queue.MarkDone(bookCtx, item); markErr != nil {
			w.logger.Warn("mark done failed", zap.String("url", item.URL), zap.Error(markErr))
		}
		metrics.ObserveItem(string(item.Label), "done")
		return
	}
	w.fail(bookCtx, item, err)
}

func (w *Worker) handle(ctx context.Context, item crawler.WorkItem) error {
	session, err := w.acquireSession(ctx)
	if err != nil {
		return err
	}
	if w.deps.Pacer != nil {
		if err := w.deps.Pacer.Wait(ctx); err != nil {
			return fmt.Errorf("politeness wait: %w", err)
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	res, err := session.Fetch(fetchCtx, crawler.FetchRequest{URL: item.URL, SettleTimeout: w.cfg.SettleTimeout})
	cancel()
	if err != nil {
		w.retireSession()
		return fmt.Errorf("fetch %s: %w", item.URL, err)
	}

	site := metrics.SanitizeSite(item.URL)
	w.deps.Counters.PageFetched()
	metrics.ObservePage(site, string(item.Label))
	if !res.Settled {
		w.logger.Warn("page did not settle before timeout",
			zap.String("url", item.URL),
			zap.Duration("settle_timeout", w.cfg.SettleTimeout),
		)
	}

	if w.deps.Detector != nil {
		if err := w.deps.Detector.Check(res.Page); err != nil {
			w.retireSession()
			return err
		}
	}

	result, err := w.deps.Router.Route(ctx, item, res.Page)
	if err != nil {
		return err
	}
	if result.Duplicate {
		w.deps.Counters.Duplicate()
		metrics.ObserveItem(string(item.Label), "duplicate")
		w.logger.Debug("listing already seen", zap.String("url", item.URL))
	}
	w.enqueue(ctx, result.Items)

	if result.Record == nil {
		return nil
	}
	if err := w.deps.Writer.Write(ctx, *result.Record); err != nil {
		return fmt.Errorf("write listing %s: %w", result.Record.Listing.ID, err)
	}
	total := w.deps.Counters.Persisted()
	metrics.ObserveListing(site)
	w.logger.Info("listing persisted",
		zap.String("listing_id", result.Record.Listing.ID),
		zap.Int64("listings", total),
	)
	if w.cfg.MaxItems > 0 && total >= w.cfg.MaxItems {
		if w.deps.Stop.Stop() {
			w.logger.Info("listing target reached", zap.Int64("max_items", w.cfg.MaxItems))
		}
	}
	return nil
}

func (w *Worker) enqueue(ctx context.Context, items []crawler.WorkItem) {
	added := 0
	for _, next := range items {
		ok, err := w.deps.Queue.Add(ctx, next)
		if err != nil {
			w.logger.Warn("enqueue follow-on item failed", zap.String("url", next.URL), zap.Error(err))
		}
		if ok {
			added++
		}
	}
	if len(items) > 0 {
		w.logger.Debug("follow-on items enqueued", zap.Int("emitted", len(items)), zap.Int("added", added))
	}
}

func (w *Worker) fail(ctx context.Context, item crawler.WorkItem, cause error) {
	outcome, err := w.deps.Queue.MarkFailed(ctx, item, cause)
	if err != nil {
		w.logger.Warn("mark failed bookkeeping error", zap.String("url", item.URL), zap.Error(err))
	}
	fields := []zap.Field{
		zap.String("url", item.URL),
		zap.String("label", string(item.Label)),
		zap.Int("retry_count", item.RetryCount),
		zap.Error(cause),
	}
	label := string(item.Label)
	switch outcome.Disposition.Class {
	case crawler.ClassBlocked:
		w.deps.Counters.Blocked()
		metrics.ObserveItem(label, "blocked")
		w.logger.Warn("bot block detected", fields...)
	case crawler.ClassParse, crawler.ClassPersist:
		w.deps.Counters.ParseError()
		metrics.ObserveItem(label, string(outcome.Disposition.Class))
		w.logger.Warn("item dropped", fields...)
	case crawler.ClassRejected:
		w.deps.Counters.FailedRequest()
		metrics.ObserveItem(label, "rejected")
		w.logger.Warn("request rejected", fields...)
	case crawler.ClassCanceled:
		w.logger.Debug("item interrupted", fields...)
	default:
		if outcome.Retried {
			w.deps.Counters.Retry()
			metrics.ObserveItem(label, "retried")
			w.logger.Info("transient failure, retrying", fields...)
			return
		}
		w.deps.Counters.FailedRequest()
		metrics.ObserveItem(label, "failed")
		w.logger.Error("retries exhausted", fields...)
	}
}

func (w *Worker) acquireSession(ctx context.Context) (crawler.Session, error) {
	if w.session != nil {
		return w.session, nil
	}
	session, err := w.deps.Browser.OpenSession(ctx, w.cfg.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	w.session = session
	return session, nil
}

func (w *Worker) retireSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.logger.Debug("close session", zap.Error(err))
	}
	w.session = nil
}
