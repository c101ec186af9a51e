package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/dedup"
	"github.com/JakeFAU/storefront-crawler/internal/extract"
)

type fakePage struct {
	url string
}

func (p fakePage) URL() string                               { return p.url }
func (p fakePage) Title() string                             { return "" }
func (p fakePage) Content() string                           { return "" }
func (p fakePage) QueryFirst([]crawler.Query) (string, bool) { return "", false }
func (p fakePage) QueryAll([]crawler.Query) []string         { return nil }

type cannedLinks []string

func (c cannedLinks) Links(crawler.Page) []string { return c }

type cannedProduct extract.ProductPage

func (c cannedProduct) Facts(crawler.Page) extract.ProductPage { return extract.ProductPage(c) }

type cannedSeller extract.SellerPage

func (c cannedSeller) Facts(crawler.Page) extract.SellerPage { return extract.SellerPage(c) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func newRouter(adapters Adapters) *Router {
	return New(adapters, dedup.New(), fixedClock{t: testNow}, Options{DefaultCurrency: "EUR"})
}

func TestRouteCategoryCapsFanOut(t *testing.T) {
	t.Parallel()

	links := make(cannedLinks, 0, 60)
	for i := 0; i < 60; i++ {
		links = append(links, fmt.Sprintf("https://shop.test/dp/B%09d", i))
	}
	r := newRouter(Adapters{Category: links})

	item := crawler.WorkItem{URL: "https://shop.test/electronics/", Label: crawler.LabelCategory, Domain: "shop.test"}
	res, err := r.Route(context.Background(), item, fakePage{url: item.URL})
	require.NoError(t, err)
	require.Len(t, res.Items, DefaultCategoryLinkCap)
	for _, next := range res.Items {
		require.Equal(t, crawler.LabelProduct, next.Label)
		require.Equal(t, "shop.test", next.Domain)
		require.Nil(t, next.Product)
		require.Zero(t, next.RetryCount)
	}
	require.Nil(t, res.Record)
}

func TestRouteCategoryKeepsSmallPages(t *testing.T) {
	t.Parallel()

	r := New(Adapters{Category: cannedLinks{"https://shop.test/dp/B000000001", "https://shop.test/dp/B000000002"}},
		dedup.New(), fixedClock{t: testNow}, Options{CategoryLinkCap: 1})
	res, err := r.Route(context.Background(), crawler.WorkItem{Label: crawler.LabelCategory, Domain: "shop.test"}, fakePage{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	r = newRouter(Adapters{Category: cannedLinks(nil)})
	res, err = r.Route(context.Background(), crawler.WorkItem{Label: crawler.LabelCategory}, fakePage{})
	require.NoError(t, err)
	require.Empty(t, res.Items)
}

func TestRouteProductEmitsSeller(t *testing.T) {
	t.Parallel()

	price := 12.5
	r := newRouter(Adapters{Product: cannedProduct{
		Title:     "Widget",
		Brand:     "Acme",
		Price:     &price,
		SellerURL: "https://shop.test/sp?seller=S1",
	}})
	item := crawler.WorkItem{URL: "https://shop.test/dp/B000000001", Label: crawler.LabelProduct, Domain: "shop.test"}

	res, err := r.Route(context.Background(), item, fakePage{url: "https://shop.test/Widget/dp/B000000001?th=1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	next := res.Items[0]
	require.Equal(t, crawler.LabelSeller, next.Label)
	require.Equal(t, "https://shop.test/sp?seller=S1", next.URL)
	require.Equal(t, &crawler.ProductFacts{
		ASIN:     "B000000001",
		Title:    "Widget",
		Brand:    "Acme",
		Price:    &price,
		Currency: "EUR",
	}, next.Product)
}

func TestRouteProductParseFailures(t *testing.T) {
	t.Parallel()

	r := newRouter(Adapters{Product: cannedProduct{Title: "Widget"}})

	_, err := r.Route(context.Background(),
		crawler.WorkItem{URL: "https://shop.test/dp/B000000001", Label: crawler.LabelProduct},
		fakePage{url: "https://shop.test/dp/B000000001"})
	require.ErrorIs(t, err, crawler.ErrParse)

	r = newRouter(Adapters{Product: cannedProduct{SellerURL: "https://shop.test/sp?seller=S1"}})
	res, err := r.Route(context.Background(),
		crawler.WorkItem{URL: "https://shop.test/help", Label: crawler.LabelProduct},
		fakePage{url: "https://shop.test/help"})
	require.ErrorIs(t, err, crawler.ErrParse)
	require.Empty(t, res.Items)
}

func TestRouteSellerBuildsRecordOnce(t *testing.T) {
	t.Parallel()

	price := 9.99
	r := newRouter(Adapters{Seller: cannedSeller{Name: "Acme GmbH", Rating: "4.7", Location: "Ships from Berlin"}})
	item := crawler.WorkItem{
		URL:     "https://shop.test/sp?seller=S1",
		Label:   crawler.LabelSeller,
		Domain:  "shop.test",
		Product: &crawler.ProductFacts{ASIN: "B000000001", Title: "Widget", Price: &price, Currency: "GBP"},
	}

	res, err := r.Route(context.Background(), item, fakePage{url: item.URL})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Empty(t, res.Items)
	require.NotNil(t, res.Record)

	rec := res.Record
	require.Equal(t, "S1", rec.Seller.SellerID)
	require.Equal(t, "Acme GmbH", rec.Seller.Name)
	require.Equal(t, crawler.EnrichmentPending, rec.Seller.EnrichmentStatus)
	require.Equal(t, "shop.test", rec.Seller.Domain)
	require.Equal(t, "B000000001", rec.Product.ASIN)
	require.Nil(t, rec.Product.Category)
	require.Equal(t, "S1-B000000001", rec.Listing.ID)
	require.Equal(t, "GBP", rec.Listing.Currency)
	require.Equal(t, &price, rec.Listing.Price)
	require.Equal(t, testNow, rec.Listing.ScrapedAt)

	// A different URL variant for the same seller collapses onto the same key.
	variant := item
	variant.URL = "https://shop.test/gp/aag/main?seller=S1&tab=about"
	res, err = r.Route(context.Background(), variant, fakePage{url: variant.URL})
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Nil(t, res.Record)
}

func TestRouteSellerParseFailures(t *testing.T) {
	t.Parallel()

	r := newRouter(Adapters{Seller: cannedSeller{}})

	_, err := r.Route(context.Background(),
		crawler.WorkItem{URL: "https://shop.test/sp?seller=S1", Label: crawler.LabelSeller},
		fakePage{url: "https://shop.test/sp?seller=S1"})
	require.ErrorIs(t, err, crawler.ErrParse)

	_, err = r.Route(context.Background(),
		crawler.WorkItem{URL: "https://shop.test/", Label: crawler.LabelSeller, Product: &crawler.ProductFacts{ASIN: "B000000001"}},
		fakePage{url: "https://shop.test/"})
	require.ErrorIs(t, err, crawler.ErrParse)
}

func TestRouteUnknownLabel(t *testing.T) {
	t.Parallel()

	r := newRouter(DefaultAdapters("EUR"))
	_, err := r.Route(context.Background(), crawler.WorkItem{Label: "SEARCH"}, fakePage{})
	require.ErrorIs(t, err, crawler.ErrParse)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Route(ctx, crawler.WorkItem{Label: crawler.LabelCategory}, fakePage{})
	require.ErrorIs(t, err, context.Canceled)
}
