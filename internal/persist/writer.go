// Package persist writes routed record bundles to the relational store.
package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

// Tables names the three destination tables.
type Tables struct {
	Sellers  string
	Products string
	Listings string
}

// DefaultTables returns the conventional table names.
func DefaultTables() Tables {
	return Tables{Sellers: "sellers", Products: "products", Listings: "listings"}
}

// Columns rewritten when a row already exists. first_seen, enrichment status,
// and the enrichment-owned product category are never overwritten.
var (
	sellerRefresh  = []string{"name", "rating", "location", "url", "domain", "last_seen"}
	productRefresh = []string{"title", "brand", "last_seen"}
	listingRefresh = []string{"last_seen", "scraped_at"}
)

// Writer upserts sellers, then products, then listings, and finally hands
// the seller to the enrichment queue.
type Writer struct {
	store  crawler.Upserter
	enrich crawler.EnrichmentQueue
	tables Tables
	logger *zap.Logger
}

// New constructs a Writer. enrich may be nil.
func New(store crawler.Upserter, enrich crawler.EnrichmentQueue, tables Tables, logger *zap.Logger) *Writer {
	defaults := DefaultTables()
	if tables.Sellers == "" {
		tables.Sellers = defaults.Sellers
	}
	if tables.Products == "" {
		tables.Products = defaults.Products
	}
	if tables.Listings == "" {
		tables.Listings = defaults.Listings
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, enrich: enrich, tables: tables, logger: logger}
}

// Write persists rec. Store failures wrap crawler.ErrPersist; enrichment
// failures are logged and swallowed.
func (w *Writer) Write(ctx context.Context, rec crawler.Record) error {
	requests := []crawler.UpsertRequest{
		{Table: w.tables.Sellers, Row: sellerRow(rec.Seller), ConflictKey: "seller_id", Refresh: sellerRefresh},
		{Table: w.tables.Products, Row: productRow(rec.Product), ConflictKey: "asin", Refresh: productRefresh},
		{Table: w.tables.Listings, Row: listingRow(rec.Listing), ConflictKey: "id", Refresh: listingRefresh},
	}
	for _, req := range requests {
		if err := w.store.Upsert(ctx, req); err != nil {
			return fmt.Errorf("upsert %s: %w: %w", req.Table, crawler.ErrPersist, err)
		}
	}

	if w.enrich != nil {
		if err := w.enrich.QueueSellerForEnrichment(ctx, rec.Seller.SellerID); err != nil {
			w.logger.Warn("enrichment enqueue failed",
				zap.String("seller_id", rec.Seller.SellerID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func sellerRow(s crawler.Seller) crawler.Row {
	return crawler.Row{
		"seller_id":         s.SellerID,
		"name":              nullable(s.Name),
		"rating":            nullable(s.Rating),
		"location":          nullable(s.Location),
		"url":               s.URL,
		"domain":            s.Domain,
		"enrichment_status": s.EnrichmentStatus,
		"first_seen":        s.FirstSeen,
		"last_seen":         s.LastSeen,
	}
}

func productRow(p crawler.Product) crawler.Row {
	var category any
	if p.Category != nil {
		category = *p.Category
	}
	return crawler.Row{
		"asin":       p.ASIN,
		"title":      nullable(p.Title),
		"brand":      nullable(p.Brand),
		"category":   category,
		"first_seen": p.FirstSeen,
		"last_seen":  p.LastSeen,
	}
}

func listingRow(l crawler.Listing) crawler.Row {
	var price any
	if l.Price != nil {
		price = *l.Price
	}
	return crawler.Row{
		"id":         l.ID,
		"seller_id":  l.SellerID,
		"asin":       l.ASIN,
		"price":      price,
		"currency":   l.Currency,
		"scraped_at": l.ScrapedAt,
		"first_seen": l.FirstSeen,
		"last_seen":  l.LastSeen,
	}
}

// nullable maps an absent optional string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
