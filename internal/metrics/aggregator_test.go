package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregatorConcurrentCounts(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.PageFetched()
			agg.Persisted()
			agg.ParseError()
		}()
	}
	wg.Wait()

	counts := agg.Snapshot()
	require.Equal(t, int64(50), counts.PagesFetched)
	require.Equal(t, int64(50), counts.ListingsProcessed)
	require.Equal(t, int64(50), counts.SellersProcessed)
	require.Equal(t, int64(50), counts.ProductsProcessed)
	require.Equal(t, int64(50), counts.ParseErrors)
	require.Equal(t, int64(50), agg.Listings())
}

func TestAggregatorFinalizeOnce(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	for i := 0; i < 3; i++ {
		agg.PageFetched()
	}
	agg.Persisted()
	agg.Blocked()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := agg.Finalize(RunInfo{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Domains:    []string{"example-shop.test"},
	})
	require.Equal(t, "33%", summary.SuccessRate)
	require.Equal(t, int64(1), summary.ListingsProcessed)
	require.Equal(t, int64(1), summary.BlockedPages)
	require.Equal(t, []string{}, summary.CategoriesProcessed)

	agg.Persisted()
	again := agg.Finalize(RunInfo{RunID: "other"})
	require.Equal(t, summary, again)
}

func TestSummaryJSONShape(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.PageFetched()
	agg.Persisted()
	raw, err := json.Marshal(agg.Finalize(RunInfo{RunID: "r", Domains: []string{"a.test"}, Categories: []string{"electronics"}}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{
		"runId", "runStartedAt", "runCompletedAt", "sellersProcessed", "productsProcessed",
		"listingsProcessed", "blockedPages", "parseErrors", "pagesFetched", "successRate",
		"domainsProcessed", "categoriesProcessed",
	} {
		require.Contains(t, decoded, key)
	}
	require.Equal(t, "100%", decoded["successRate"])
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0%", SuccessRate(0, 0))
	require.Equal(t, "200%", SuccessRate(2, 0))
	require.Equal(t, "67%", SuccessRate(2, 3))
	require.Equal(t, "50%", SuccessRate(5, 10))
}
