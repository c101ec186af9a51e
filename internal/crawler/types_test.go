package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelValid(t *testing.T) {
	t.Parallel()

	require.True(t, LabelCategory.Valid())
	require.True(t, LabelProduct.Valid())
	require.True(t, LabelSeller.Valid())
	require.False(t, Label("SEARCH").Valid())
	require.False(t, Label("").Valid())
}

func TestWorkItemKey(t *testing.T) {
	t.Parallel()

	product := WorkItem{URL: "https://shop.test/dp/B000000001", Label: LabelProduct}
	require.Equal(t, "PRODUCT|https://shop.test/dp/B000000001", product.Key())

	seller := WorkItem{URL: "https://shop.test/sp?seller=S1", Label: LabelSeller, Product: &ProductFacts{ASIN: "B1"}}
	other := seller
	other.Product = &ProductFacts{ASIN: "B2"}
	require.NotEqual(t, seller.Key(), other.Key(), "one storefront per product is a distinct target")
	require.Equal(t, "SELLER|https://shop.test/sp?seller=S1#B1", seller.Key())
	require.Equal(t, seller.Key(), seller.Retry().Key())

	category := WorkItem{URL: product.URL, Label: LabelCategory}
	require.NotEqual(t, product.Key(), category.Key())
}

func TestWorkItemRetryCopies(t *testing.T) {
	t.Parallel()

	item := WorkItem{URL: "https://shop.test/", Label: LabelCategory}
	next := item.Retry()
	require.Equal(t, 1, next.RetryCount)
	require.Zero(t, item.RetryCount)
	require.Equal(t, item.Key(), next.Key())
}

func TestListingID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "A1B2C3-B0ABCDEF12", ListingID("A1B2C3", "B0ABCDEF12"))
	require.Equal(t, "S1-B000000001", ListingID("S1", "B000000001"))
}
