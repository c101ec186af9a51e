// Package router turns a fetched page into follow-on work and, at the seller
// stage, into a record bundle ready for persistence.
package router

import (
	"context"
	"fmt"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/extract"
)

// DefaultCategoryLinkCap bounds fan-out from a single category page.
const DefaultCategoryLinkCap = 50

// CategoryLinker collects product links from a category page.
type CategoryLinker interface {
	Links(page crawler.Page) []string
}

// ProductExtractor reads product facts from a product page.
type ProductExtractor interface {
	Facts(page crawler.Page) extract.ProductPage
}

// SellerExtractor reads seller facts from a storefront page.
type SellerExtractor interface {
	Facts(page crawler.Page) extract.SellerPage
}

// Adapters binds one extraction strategy to each stage label.
type Adapters struct {
	Category CategoryLinker
	Product  ProductExtractor
	Seller   SellerExtractor
}

// DefaultAdapters returns the storefront extractors from package extract.
func DefaultAdapters(defaultCurrency string) Adapters {
	return Adapters{
		Category: extract.CategoryAdapter{},
		Product:  extract.ProductAdapter{DefaultCurrency: defaultCurrency},
		Seller:   extract.SellerAdapter{},
	}
}

// Guard claims listing keys so a pair is persisted at most once per run.
type Guard interface {
	Claim(key string) bool
}

// Options tunes routing.
type Options struct {
	CategoryLinkCap int
	DefaultCurrency string
}

// Result is the outcome of routing one page. Duplicate is set when the
// seller/product pair was already claimed; Record is nil in that case.
type Result struct {
	Items     []crawler.WorkItem
	Record    *crawler.Record
	Duplicate bool
}

// Router dispatches pages to the adapter matching their label.
type Router struct {
	adapters Adapters
	guard    Guard
	clock    crawler.Clock
	opts     Options
}

// New builds a router.
func New(adapters Adapters, guard Guard, clock crawler.Clock, opts Options) *Router {
	if opts.CategoryLinkCap <= 0 {
		opts.CategoryLinkCap = DefaultCategoryLinkCap
	}
	return &Router{
		adapters: adapters,
		guard:    guard,
		clock:    clock,
		opts:     opts,
	}
}

// Route runs the adapter for item.Label against page. Errors wrapping
// crawler.ErrParse are terminal for the item.
func (r *Router) Route(ctx context.Context, item crawler.WorkItem, page crawler.Page) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("route canceled: %w", err)
	}
	switch item.Label {
	case crawler.LabelCategory:
		return r.routeCategory(item, page), nil
	case crawler.LabelProduct:
		return r.routeProduct(item, page)
	case crawler.LabelSeller:
		return r.routeSeller(item, page)
	default:
		return Result{}, fmt.Errorf("unknown label %q: %w", item.Label, crawler.ErrParse)
	}
}

func (r *Router) routeCategory(item crawler.WorkItem, page crawler.Page) Result {
	links := r.adapters.Category.Links(page)
	if len(links) > r.opts.CategoryLinkCap {
		links = links[:r.opts.CategoryLinkCap]
	}
	items := make([]crawler.WorkItem, 0, len(links))
	for _, link := range links {
		items = append(items, crawler.WorkItem{
			URL:    link,
			Label:  crawler.LabelProduct,
			Domain: item.Domain,
		})
	}
	return Result{Items: items}
}

func (r *Router) routeProduct(item crawler.WorkItem, page crawler.Page) (Result, error) {
	currentURL := urlOf(item, page)
	asin, ok := extract.ASIN(currentURL)
	if !ok {
		return Result{}, fmt.Errorf("no product identifier in %q: %w", currentURL, crawler.ErrParse)
	}
	facts := r.adapters.Product.Facts(page)
	if facts.SellerURL == "" {
		return Result{}, fmt.Errorf("no seller link on %q: %w", currentURL, crawler.ErrParse)
	}
	currency := facts.Currency
	if currency == "" {
		currency = r.opts.DefaultCurrency
	}
	return Result{Items: []crawler.WorkItem{{
		URL:    facts.SellerURL,
		Label:  crawler.LabelSeller,
		Domain: item.Domain,
		Product: &crawler.ProductFacts{
			ASIN:     asin,
			Title:    facts.Title,
			Brand:    facts.Brand,
			Price:    facts.Price,
			Currency: currency,
		},
	}}}, nil
}

func (r *Router) routeSeller(item crawler.WorkItem, page crawler.Page) (Result, error) {
	if item.Product == nil || item.Product.ASIN == "" {
		return Result{}, fmt.Errorf("seller item %q carries no product: %w", item.URL, crawler.ErrParse)
	}
	currentURL := urlOf(item, page)
	sellerID, err := extract.SellerID(currentURL)
	if err != nil {
		return Result{}, fmt.Errorf("derive seller id: %w", err)
	}

	listingID := crawler.ListingID(sellerID, item.Product.ASIN)
	if !r.guard.Claim(listingID) {
		return Result{Duplicate: true}, nil
	}

	facts := r.adapters.Seller.Facts(page)
	now := r.clock.Now().UTC()
	currency := item.Product.Currency
	if currency == "" {
		currency = r.opts.DefaultCurrency
	}
	record := &crawler.Record{
		Seller: crawler.Seller{
			SellerID:         sellerID,
			Name:             facts.Name,
			Rating:           facts.Rating,
			Location:         facts.Location,
			URL:              currentURL,
			Domain:           item.Domain,
			EnrichmentStatus: crawler.EnrichmentPending,
			FirstSeen:        now,
			LastSeen:         now,
		},
		Product: crawler.Product{
			ASIN:      item.Product.ASIN,
			Title:     item.Product.Title,
			Brand:     item.Product.Brand,
			FirstSeen: now,
			LastSeen:  now,
		},
		Listing: crawler.Listing{
			ID:        listingID,
			SellerID:  sellerID,
			ASIN:      item.Product.ASIN,
			Price:     item.Product.Price,
			Currency:  currency,
			ScrapedAt: now,
			FirstSeen: now,
			LastSeen:  now,
		},
	}
	return Result{Record: record}, nil
}

// urlOf prefers the final page URL so redirects feed identifier derivation.
func urlOf(item crawler.WorkItem, page crawler.Page) string {
	if page != nil {
		if u := page.URL(); u != "" {
			return u
		}
	}
	return item.URL
}
