// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// Label names the pipeline stage a WorkItem belongs to.
type Label string

// Stage labels, in lineage order.
const (
	LabelCategory Label = "CATEGORY"
	LabelProduct  Label = "PRODUCT"
	LabelSeller   Label = "SELLER"
)

// Valid reports whether l is one of the known stage labels.
func (l Label) Valid() bool {
	switch l {
	case LabelCategory, LabelProduct, LabelSeller:
		return true
	default:
		return false
	}
}

// EnrichmentPending is the enrichment status assigned to freshly extracted sellers.
const EnrichmentPending = "pending"

// ProductFacts is the partial product record carried from the PRODUCT stage to the SELLER stage.
type ProductFacts struct {
	ASIN     string   `json:"asin"`
	Title    string   `json:"title,omitempty"`
	Brand    string   `json:"brand,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// WorkItem is one unit of pending crawl work. Values are treated as immutable;
// retries produce a copy with a bumped RetryCount.
type WorkItem struct {
	URL        string        `json:"url"`
	Label      Label         `json:"label"`
	Domain     string        `json:"domain"`
	Product    *ProductFacts `json:"product,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// Key returns the fetch identity used for URL-level deduplication. A seller
// page requested on behalf of two different products is two fetch targets.
func (w WorkItem) Key() string {
	key := string(w.Label) + "|" + w.URL
	if w.Label == LabelSeller && w.Product != nil {
		key += "#" + w.Product.ASIN
	}
	return key
}

// Retry returns a copy of the item with its retry count incremented.
func (w WorkItem) Retry() WorkItem {
	next := w
	next.RetryCount++
	return next
}

// Seller is the identity extracted from a storefront page.
type Seller struct {
	SellerID         string    `json:"seller_id"`
	Name             string    `json:"name,omitempty"`
	Rating           string    `json:"rating,omitempty"`
	Location         string    `json:"location,omitempty"`
	URL              string    `json:"url"`
	Domain           string    `json:"domain"`
	EnrichmentStatus string    `json:"enrichment_status"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

// Product is the identity extracted from a product detail page. Category is
// only ever populated by external enrichment.
type Product struct {
	ASIN      string    `json:"asin"`
	Title     string    `json:"title,omitempty"`
	Brand     string    `json:"brand,omitempty"`
	Category  *string   `json:"category"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Listing records that a seller offers a product at a price at a point in time.
type Listing struct {
	ID        string    `json:"id"`
	SellerID  string    `json:"seller_id"`
	ASIN      string    `json:"asin"`
	Price     *float64  `json:"price"`
	Currency  string    `json:"currency"`
	ScrapedAt time.Time `json:"scraped_at"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Record bundles the three entities persisted for one SELLER-stage success.
type Record struct {
	Seller  Seller
	Product Product
	Listing Listing
}

// ListingID builds the composite listing identifier, which doubles as the dedup key.
func ListingID(sellerID, asin string) string {
	return fmt.Sprintf("%s-%s", sellerID, asin)
}
