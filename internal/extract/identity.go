// Package extract turns rendered storefront pages into typed facts. Every
// extractor walks a ranked list of candidate locations and takes the first match.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

const maxSellerIDLength = 64

// asinPatterns is ordered; the first pattern that matches wins.
var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)[?&]ASIN=([A-Z0-9]{10})`),
}

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]+`)

// ASIN returns the catalog identifier embedded in a product URL.
func ASIN(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	for _, re := range asinPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// SellerID derives a stable seller identifier from a storefront URL: the
// explicit seller query parameter when present, else a slug of the path.
func SellerID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse seller url: %w", crawler.ErrParse)
	}
	q := u.Query()
	for _, key := range []string{"seller", "sellerID"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v, nil
		}
	}
	slug := nonAlphanumeric.ReplaceAllString(u.Path, "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > maxSellerIDLength {
		slug = slug[:maxSellerIDLength]
	}
	if slug == "" {
		return "", fmt.Errorf("seller id from %q: %w", rawURL, crawler.ErrParse)
	}
	return slug, nil
}
