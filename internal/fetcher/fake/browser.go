// Package fake provides an in-memory crawler.Browser serving canned pages.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/page"
)

// Response is what the fake returns for one URL. Failures, when set, is the
// number of leading fetches that return Err before the page is served.
type Response struct {
	HTML      string
	FinalURL  string
	Unsettled bool
	Err       error
	Failures  int
}

// Browser serves pages from a fixed map. URLs not in the map fail.
type Browser struct {
	mu       sync.Mutex
	pages    map[string]Response
	fetches  map[string]int
	sessions int
	closed   int
}

// NewBrowser constructs a fake over pages keyed by request URL.
func NewBrowser(pages map[string]Response) *Browser {
	if pages == nil {
		pages = make(map[string]Response)
	}
	return &Browser{pages: pages, fetches: make(map[string]int)}
}

// Set adds or replaces a canned page.
func (b *Browser) Set(url string, resp Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = resp
}

// OpenSession implements crawler.Browser.
func (b *Browser) OpenSession(ctx context.Context, _ crawler.SessionOptions) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &session{browser: b}, nil
}

// Close implements crawler.Browser.
func (b *Browser) Close() error {
	return nil
}

// Fetches returns how many times url was requested.
func (b *Browser) Fetches(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches[url]
}

// TotalFetches returns the number of fetches across all URLs.
func (b *Browser) TotalFetches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.fetches {
		total += n
	}
	return total
}

// Sessions returns how many sessions were opened.
func (b *Browser) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

// ClosedSessions returns how many sessions were closed.
func (b *Browser) ClosedSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	b.mu.Lock()
	b.fetches[url]++
	attempt := b.fetches[url]
	resp, ok := b.pages[url]
	b.mu.Unlock()

	if !ok {
		return crawler.FetchResult{}, fmt.Errorf("no canned page for %s", url)
	}
	if resp.Err != nil && (resp.Failures == 0 || attempt <= resp.Failures) {
		return crawler.FetchResult{}, resp.Err
	}
	final := resp.FinalURL
	if final == "" {
		final = url
	}
	p, err := page.New(final, resp.HTML)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("build page: %w", err)
	}
	return crawler.FetchResult{Page: p, Settled: !resp.Unsettled}, nil
}

type session struct {
	browser *Browser
	once    sync.Once
}

func (s *session) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	return s.browser.fetch(ctx, request.URL)
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.browser.mu.Lock()
		s.browser.closed++
		s.browser.mu.Unlock()
	})
	return nil
}

// ProductURL is the canonical detail page of the i-th Storefront product.
func ProductURL(domain string, i int) string {
	return fmt.Sprintf("https://%s/dp/B%09d", domain, i)
}

// SellerURL is the storefront of the i-th Storefront seller.
func SellerURL(domain string, i int) string {
	return fmt.Sprintf("https://%s/gp/aag/main?seller=S%03d", domain, i)
}

// Storefront builds a small consistent catalog: one category page at
// categoryURL linking n products, each sold by its own seller.
func Storefront(domain, categoryURL string, n int) map[string]Response {
	pages := make(map[string]Response, 2*n+1)
	var links strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&links, `<div data-asin="B%09d"><a href="/dp/B%09d?ref=sr_%d">Product %d</a></div>`, i, i, i, i)
		pages[ProductURL(domain, i)] = Response{HTML: fmt.Sprintf(`<html><head><title>Product %d</title></head><body>
<a id="bylineInfo" href="/stores/Brand%d">by Brand%d</a>
<span class="a-price"><span class="a-offscreen">€%d,99</span></span>
<a href="/gp/aag/main?seller=S%03d">Sold by Seller %d</a>
</body></html>`, i, i, i, i, i, i)}
		pages[SellerURL(domain, i)] = Response{HTML: fmt.Sprintf(`<html><body>
<h1>Seller %d</h1>
<i class="a-icon-star"><span>4.%d out of 5 stars</span></i>
</body></html>`, i, i%10)}
	}
	pages[categoryURL] = Response{HTML: "<html><head><title>Category</title></head><body>" + links.String() + "</body></html>"}
	return pages
}
