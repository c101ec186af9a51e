// Package memory provides the crawl work queue: an in-memory pending list
// backed by a crawler.Journal for fetch-target dedup and resume.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

// DefaultMaxRetries is the transient retry ceiling.
const DefaultMaxRetries = 3

// Options configures the queue.
type Options struct {
	MaxRetries int
}

// FailureOutcome reports what MarkFailed did with an item.
type FailureOutcome struct {
	Disposition crawler.Disposition
	// Retried is set when the item went back on the queue.
	Retried bool
	// Exhausted is set when a retryable failure hit the ceiling.
	Exhausted bool
}

// Stats is a snapshot of queue bookkeeping.
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"inFlight"`
	Done     int `json:"done"`
	Retried  int `json:"retried"`
	Dropped  int `json:"dropped"`
}

// Queue hands work items to concurrent workers. Take blocks while other
// workers still hold items that may produce follow-on work.
type Queue struct {
	journal crawler.Journal
	opts    Options
	logger  *zap.Logger

	mu       sync.Mutex
	pending  []crawler.WorkItem
	inFlight int
	closed   bool
	wake     chan struct{}
	stats    Stats
}

// New constructs a queue over journal.
func New(journal crawler.Journal, opts Options, logger *zap.Logger) *Queue {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		journal: journal,
		opts:    opts,
		logger:  logger,
		wake:    make(chan struct{}),
	}
}

// Add enqueues item unless its fetch identity was already enqueued this run.
// Items added after Close are journaled but never handed out.
func (q *Queue) Add(ctx context.Context, item crawler.WorkItem) (bool, error) {
	fresh, err := q.journal.MarkIfNew(ctx, item)
	if err != nil {
		return false, fmt.Errorf("journal item: %w", err)
	}
	if !fresh {
		return false, nil
	}
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.notifyLocked()
	q.mu.Unlock()
	return true, nil
}

// Take returns the next item. It returns crawler.ErrQueueDrained once nothing
// is pending or in flight, and crawler.ErrQueueClosed after Close.
func (q *Queue) Take(ctx context.Context) (crawler.WorkItem, error) {
	for {
		q.mu.Lock()
		switch {
		case q.closed:
			q.mu.Unlock()
			return crawler.WorkItem{}, crawler.ErrQueueClosed
		case len(q.pending) > 0:
			item := q.pending[0]
			q.pending[0] = crawler.WorkItem{}
			q.pending = q.pending[1:]
			q.inFlight++
			q.mu.Unlock()
			return item, nil
		case q.inFlight == 0:
			q.mu.Unlock()
			return crawler.WorkItem{}, crawler.ErrQueueDrained
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// MarkDone settles an item that was processed successfully.
func (q *Queue) MarkDone(ctx context.Context, item crawler.WorkItem) error {
	err := q.journal.Settle(ctx, item)
	q.mu.Lock()
	q.inFlight--
	q.stats.Done++
	q.notifyLocked()
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("settle item: %w", err)
	}
	return nil
}

// MarkFailed classifies cause and either re-queues item with an incremented
// retry count or drops it. Items interrupted by cancellation stay pending in
// the journal so a resumed run picks them up.
func (q *Queue) MarkFailed(ctx context.Context, item crawler.WorkItem, cause error) (FailureOutcome, error) {
	disposition := crawler.Classify(cause)
	outcome := FailureOutcome{Disposition: disposition}

	if disposition.Retryable && item.RetryCount < q.opts.MaxRetries {
		next := item.Retry()
		err := q.journal.Update(ctx, next)
		q.mu.Lock()
		q.inFlight--
		q.pending = append(q.pending, next)
		q.stats.Retried++
		q.notifyLocked()
		q.mu.Unlock()
		q.logger.Debug("item requeued",
			zap.String("url", item.URL),
			zap.String("label", string(item.Label)),
			zap.Int("retry", next.RetryCount),
			zap.Error(cause),
		)
		outcome.Retried = true
		if err != nil {
			return outcome, fmt.Errorf("journal retry: %w", err)
		}
		return outcome, nil
	}

	outcome.Exhausted = disposition.Retryable
	var err error
	if disposition.Class != crawler.ClassCanceled {
		err = q.journal.Settle(ctx, item)
	}
	q.mu.Lock()
	q.inFlight--
	q.stats.Dropped++
	q.notifyLocked()
	q.mu.Unlock()
	if err != nil {
		return outcome, fmt.Errorf("settle dropped item: %w", err)
	}
	return outcome, nil
}

// Restore re-queues items the journal holds as pending, typically left over
// from an interrupted run with the same run ID.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	items, err := q.journal.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	q.mu.Lock()
	q.pending = append(q.pending, items...)
	q.notifyLocked()
	q.mu.Unlock()
	return len(items), nil
}

// Close stops handing out work. In-flight items may still be marked.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.InFlight = q.inFlight
	return s
}

// notifyLocked wakes every blocked Take. Callers hold q.mu.
func (q *Queue) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
