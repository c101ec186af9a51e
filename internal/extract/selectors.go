package extract

import (
	"regexp"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

// productLink filters anchors down to product detail pages.
var productLink = regexp.MustCompile(`/(dp|gp/product)/`)

var (
	sellerLink      = regexp.MustCompile(`seller=|/sp\?|/gp/aag/main|/stores/|sellerProfileTriggerId`)
	preferredSeller = regexp.MustCompile(`/gp/aag/main|seller=`)
	ratingNumber    = regexp.MustCompile(`[\d.]+`)
	locationHint    = regexp.MustCompile(`(?i)ship|dispatch|from|located`)
	leadingBy       = regexp.MustCompile(`(?i)^by\s+`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

var categoryLinkQueries = []crawler.Query{
	{Selector: `a[href*="/dp/"]`, Attr: "href", Match: productLink},
	{Selector: `a[href*="/gp/product/"]`, Attr: "href", Match: productLink},
	{Selector: `[data-asin] a[href*="/dp/"]`, Attr: "href", Match: productLink},
	{Selector: `.s-product-image-container a[href*="/dp/"]`, Attr: "href", Match: productLink},
}

var priceQueries = []crawler.Query{
	{Selector: "#priceblock_ourprice"},
	{Selector: "#priceblock_dealprice"},
	{Selector: "#corePrice_feature_div .a-price .a-offscreen"},
	{Selector: ".a-price .a-offscreen"},
	{Selector: `[data-a-color="price"] .a-offscreen`},
	{Selector: "#tp_price_block_total_price_ww"},
}

var brandQueries = []crawler.Query{
	{Selector: "#bylineInfo"},
	{Selector: ".a-spacing-none.po-brand .a-span9 span"},
	{Selector: `[data-feature-name="brand"] .a-size-base`},
	{Selector: ".author .a-link-normal"},
}

var sellerLinkQueries = []crawler.Query{
	{Selector: "a[href]", Attr: "href", Match: sellerLink},
}

var sellerNameQueries = []crawler.Query{
	{Selector: "h1"},
	{Selector: ".a-spacing-medium h1"},
	{Selector: "#seller-name"},
}

var ratingQueries = []crawler.Query{
	{Selector: ".a-icon-star span", Match: ratingNumber},
	{Selector: ".a-icon-alt", Match: ratingNumber},
	{Selector: `[data-hook="rating-out-of-text"]`, Match: ratingNumber},
}

var locationQueries = []crawler.Query{
	{Selector: "#storefront-redirect-message", Match: locationHint},
	{Selector: `[data-hook="seller-info"] .a-size-small`, Match: locationHint},
	{Selector: ".a-spacing-mini", Match: locationHint},
}
