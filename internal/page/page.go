// Package page implements crawler.Page over a rendered HTML snapshot using goquery.
package page

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

// HTML is an immutable DOM snapshot of a fetched page.
type HTML struct {
	url     string
	base    *url.URL
	content string
	doc     *goquery.Document
}

// New parses html captured at pageURL (the final URL after redirects).
func New(pageURL, html string) (*HTML, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	return &HTML{
		url:     pageURL,
		base:    base,
		content: html,
		doc:     doc,
	}, nil
}

// URL returns the final page URL.
func (p *HTML) URL() string {
	return p.url
}

// Title returns the trimmed document title.
func (p *HTML) Title() string {
	return strings.TrimSpace(p.doc.Find("title").First().Text())
}

// Content returns the raw HTML.
func (p *HTML) Content() string {
	return p.content
}

// QueryFirst implements crawler.Page.
func (p *HTML) QueryFirst(candidates []crawler.Query) (string, bool) {
	for _, q := range candidates {
		sel := p.doc.Find(q.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		if value, ok := p.accept(q, sel); ok {
			return value, true
		}
	}
	return "", false
}

// QueryAll implements crawler.Page.
func (p *HTML) QueryAll(candidates []crawler.Query) []string {
	var out []string
	for _, q := range candidates {
		p.doc.Find(q.Selector).Each(func(_ int, sel *goquery.Selection) {
			if value, ok := p.accept(q, sel); ok {
				out = append(out, value)
			}
		})
	}
	return out
}

func (p *HTML) accept(q crawler.Query, sel *goquery.Selection) (string, bool) {
	value := p.value(q.Attr, sel)
	if value == "" {
		return "", false
	}
	if q.Match != nil && !q.Match.MatchString(value) {
		return "", false
	}
	return value, true
}

func (p *HTML) value(attr string, sel *goquery.Selection) string {
	if attr == "" {
		return strings.TrimSpace(sel.Text())
	}
	raw, ok := sel.Attr(attr)
	if !ok {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if attr == "href" || attr == "src" {
		return p.resolve(raw)
	}
	return raw
}

// resolve mirrors the browser's absolute href property.
func (p *HTML) resolve(raw string) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return p.base.ResolveReference(ref).String()
}
