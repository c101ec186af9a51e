// Package dispatcher seeds a crawl run and fans work out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-crawler/internal/worker"
)

var whitespace = regexp.MustCompile(`\s+`)

// Queue is the work queue as seen by the dispatcher.
type Queue interface {
	worker.Queue
	Restore(ctx context.Context) (int, error)
	Close()
}

// Summarizer finalizes the run summary.
type Summarizer interface {
	Finalize(info metrics.RunInfo) metrics.Summary
}

// Config describes one run.
type Config struct {
	RunID      string
	Domains    []string
	Categories []string
}

// Dispatcher owns the worker pool and the stop condition for one run.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	summary Summarizer
	stop    *worker.StopSignal
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher. stop must be the signal shared with workers.
func New(
	queue Queue,
	workers []*worker.Worker,
	summary Summarizer,
	stop *worker.StopSignal,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stop == nil {
		stop = worker.NewStopSignal()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		summary: summary,
		stop:    stop,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("dispatcher"),
	}
}

// Run restores leftover work, seeds the queue, and blocks until every worker
// has exited. The summary is always returned; the error is non-nil only when
// setup failed or ctx ended the run early.
func (d *Dispatcher) Run(ctx context.Context) (metrics.Summary, error) {
	started := d.clock.Now().UTC()
	finish := func() metrics.Summary {
		return d.summary.Finalize(metrics.RunInfo{
			RunID:      d.cfg.RunID,
			StartedAt:  started,
			FinishedAt: d.clock.Now().UTC(),
			Domains:    d.cfg.Domains,
			Categories: d.cfg.Categories,
		})
	}

	restored, err := d.queue.Restore(ctx)
	if err != nil {
		return finish(), fmt.Errorf("restore queue: %w", err)
	}
	if restored > 0 {
		d.logger.Info("resumed pending work", zap.Int("items", restored))
	}
	seeded := 0
	for _, item := range Seeds(d.cfg.Domains, d.cfg.Categories) {
		added, err := d.queue.Add(ctx, item)
		if err != nil {
			return finish(), fmt.Errorf("seed %s: %w", item.URL, err)
		}
		if added {
			seeded++
		}
	}
	d.logger.Info("crawl starting",
		zap.String("run_id", d.cfg.RunID),
		zap.Strings("domains", d.cfg.Domains),
		zap.Int("seeded", seeded),
		zap.Int("workers", len(d.workers)),
	)

	done := make(chan struct{})
	go func() {
		select {
		case <-d.stop.Done():
			d.logger.Info("stop condition reached, draining in-flight work")
			d.queue.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
	close(done)

	summary := finish()
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return summary, nil
}

// Seeds builds the initial CATEGORY items: one per (domain, category), or one
// at the domain root when no categories are given. Category names without a
// slash are hyphenated and lower-cased; explicit paths are kept as written.
func Seeds(domains, categories []string) []crawler.WorkItem {
	seeds := make([]crawler.WorkItem, 0, len(domains)*max(1, len(categories)))
	for _, domain := range domains {
		if len(categories) == 0 {
			seeds = append(seeds, crawler.WorkItem{
				URL:    "https://" + domain + "/",
				Label:  crawler.LabelCategory,
				Domain: domain,
			})
			continue
		}
		for _, category := range categories {
			path := categoryPath(category)
			if path == "" {
				continue
			}
			seeds = append(seeds, crawler.WorkItem{
				URL:    "https://" + domain + "/" + path,
				Label:  crawler.LabelCategory,
				Domain: domain,
			})
		}
	}
	return seeds
}

func categoryPath(category string) string {
	path := strings.TrimSpace(category)
	if !strings.Contains(path, "/") {
		path = strings.ToLower(whitespace.ReplaceAllString(path, "-"))
	}
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return ""
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
