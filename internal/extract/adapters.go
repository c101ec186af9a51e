package extract

import (
	"strings"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

// ProductPage holds the facts read from a product detail page. SellerURL is
// empty when the page carries no storefront link.
type ProductPage struct {
	Title     string
	Brand     string
	Price     *float64
	Currency  string
	SellerURL string
}

// SellerPage holds the facts read from a seller storefront page.
type SellerPage struct {
	Name     string
	Rating   string
	Location string
}

// CategoryAdapter collects product links from a listing or landing page.
type CategoryAdapter struct{}

// Links returns product URLs with their query strings removed, in document
// order, without duplicates.
func (CategoryAdapter) Links(page crawler.Page) []string {
	seen := make(map[string]struct{})
	var links []string
	for _, href := range page.QueryAll(categoryLinkQueries) {
		clean, _, _ := strings.Cut(href, "?")
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		links = append(links, clean)
	}
	return links
}

// ProductAdapter reads product facts. DefaultCurrency is used when a price is
// found but its currency cannot be recognised.
type ProductAdapter struct {
	DefaultCurrency string
}

// Facts implements the product stage extraction.
func (a ProductAdapter) Facts(page crawler.Page) ProductPage {
	facts := ProductPage{
		Title:     page.Title(),
		SellerURL: pickSellerLink(page.QueryAll(sellerLinkQueries)),
	}
	if brand, ok := page.QueryFirst(brandQueries); ok {
		facts.Brand = strings.TrimSpace(leadingBy.ReplaceAllString(brand, ""))
	}
	if text, ok := page.QueryFirst(priceQueries); ok {
		facts.Price, facts.Currency = ParsePrice(text)
	}
	if facts.Currency == "" {
		facts.Currency = a.DefaultCurrency
	}
	return facts
}

// pickSellerLink prefers an explicit seller profile over generic storefront links.
func pickSellerLink(candidates []string) string {
	seen := make(map[string]struct{}, len(candidates))
	var unique []string
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}
	for _, c := range unique {
		if preferredSeller.MatchString(c) {
			return c
		}
	}
	if len(unique) > 0 {
		return unique[0]
	}
	return ""
}

// SellerAdapter reads storefront facts. Every field is optional.
type SellerAdapter struct{}

// Facts implements the seller stage extraction.
func (SellerAdapter) Facts(page crawler.Page) SellerPage {
	var facts SellerPage
	if name, ok := page.QueryFirst(sellerNameQueries); ok {
		facts.Name = collapseSpace(name)
	}
	if rating, ok := page.QueryFirst(ratingQueries); ok {
		facts.Rating = ratingNumber.FindString(rating)
	}
	if location, ok := page.QueryFirst(locationQueries); ok {
		facts.Location = collapseSpace(location)
	}
	return facts
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}
