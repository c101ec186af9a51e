package metrics

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counts is a point-in-time copy of the aggregator counters.
type Counts struct {
	PagesFetched      int64 `json:"pagesFetched"`
	SellersProcessed  int64 `json:"sellersProcessed"`
	ProductsProcessed int64 `json:"productsProcessed"`
	ListingsProcessed int64 `json:"listingsProcessed"`
	BlockedPages      int64 `json:"blockedPages"`
	ParseErrors       int64 `json:"parseErrors"`
	FailedRequests    int64 `json:"failedRequests"`
	Retries           int64 `json:"retries"`
	Duplicates        int64 `json:"duplicates"`
}

// RunInfo describes the run being summarised.
type RunInfo struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Domains    []string
	Categories []string
}

// Summary is the single record emitted at the end of a run.
type Summary struct {
	RunID          string    `json:"runId"`
	RunStartedAt   time.Time `json:"runStartedAt"`
	RunCompletedAt time.Time `json:"runCompletedAt"`
	Counts
	SuccessRate         string   `json:"successRate"`
	DomainsProcessed    []string `json:"domainsProcessed"`
	CategoriesProcessed []string `json:"categoriesProcessed"`
}

// Aggregator holds the run-wide counters shared by every worker.
type Aggregator struct {
	pagesFetched      atomic.Int64
	sellersProcessed  atomic.Int64
	productsProcessed atomic.Int64
	listingsProcessed atomic.Int64
	blockedPages      atomic.Int64
	parseErrors       atomic.Int64
	failedRequests    atomic.Int64
	retries           atomic.Int64
	duplicates        atomic.Int64

	finalizeOnce sync.Once
	summary      Summary
}

// NewAggregator returns a zeroed aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// PageFetched counts a page returned by the browser engine.
func (a *Aggregator) PageFetched() { a.pagesFetched.Add(1) }

// Persisted counts one successfully stored record bundle and returns the new
// listing total, which gates the stop condition.
func (a *Aggregator) Persisted() int64 {
	a.sellersProcessed.Add(1)
	a.productsProcessed.Add(1)
	return a.listingsProcessed.Add(1)
}

// Blocked counts a bot-block page.
func (a *Aggregator) Blocked() { a.blockedPages.Add(1) }

// ParseError counts a page missing required fields or a failed persist.
func (a *Aggregator) ParseError() { a.parseErrors.Add(1) }

// FailedRequest counts an item dropped after exhausting transient retries.
func (a *Aggregator) FailedRequest() { a.failedRequests.Add(1) }

// Retry counts a transient failure re-queued for another attempt.
func (a *Aggregator) Retry() { a.retries.Add(1) }

// Duplicate counts a seller/product pair already persisted this run.
func (a *Aggregator) Duplicate() { a.duplicates.Add(1) }

// Listings returns the number of persisted listings so far.
func (a *Aggregator) Listings() int64 { return a.listingsProcessed.Load() }

// Snapshot copies the current counters.
func (a *Aggregator) Snapshot() Counts {
	return Counts{
		PagesFetched:      a.pagesFetched.Load(),
		SellersProcessed:  a.sellersProcessed.Load(),
		ProductsProcessed: a.productsProcessed.Load(),
		ListingsProcessed: a.listingsProcessed.Load(),
		BlockedPages:      a.blockedPages.Load(),
		ParseErrors:       a.parseErrors.Load(),
		FailedRequests:    a.failedRequests.Load(),
		Retries:           a.retries.Load(),
		Duplicates:        a.duplicates.Load(),
	}
}

// Finalize builds the run summary. Only the first call computes it; later
// calls return the same record regardless of their arguments.
func (a *Aggregator) Finalize(info RunInfo) Summary {
	a.finalizeOnce.Do(func() {
		counts := a.Snapshot()
		a.summary = Summary{
			RunID:               info.RunID,
			RunStartedAt:        info.StartedAt,
			RunCompletedAt:      info.FinishedAt,
			Counts:              counts,
			SuccessRate:         SuccessRate(counts.ListingsProcessed, counts.PagesFetched),
			DomainsProcessed:    nonNil(info.Domains),
			CategoriesProcessed: nonNil(info.Categories),
		}
	})
	return a.summary
}

// SuccessRate formats listings / max(1, pages) as a rounded percentage.
func SuccessRate(listings, pages int64) string {
	denominator := pages
	if denominator < 1 {
		denominator = 1
	}
	return fmt.Sprintf("%d%%", int64(math.Round(float64(listings)*100/float64(denominator))))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string(nil), values...)
}
