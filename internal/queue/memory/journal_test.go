package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

func TestJournalLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := NewJournal()
	item := productItem(7)

	fresh, err := j.MarkIfNew(ctx, item)
	require.NoError(t, err)
	require.True(t, fresh)
	fresh, err = j.MarkIfNew(ctx, item)
	require.NoError(t, err)
	require.False(t, fresh)

	require.NoError(t, j.Update(ctx, item.Retry()))
	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, j.Settle(ctx, item))
	pending, err = j.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	fresh, err = j.MarkIfNew(ctx, item)
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestJournalKeysSellerPerProduct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := NewJournal()
	a := crawler.WorkItem{URL: "https://shop.test/sp?seller=S1", Label: crawler.LabelSeller, Product: &crawler.ProductFacts{ASIN: "B000000001"}}
	b := a
	b.Product = &crawler.ProductFacts{ASIN: "B000000002"}

	fresh, err := j.MarkIfNew(ctx, a)
	require.NoError(t, err)
	require.True(t, fresh)
	fresh, err = j.MarkIfNew(ctx, b)
	require.NoError(t, err)
	require.True(t, fresh)
}
