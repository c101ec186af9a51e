// Package detector recognises anti-bot interstitials before a page is routed.
package detector

import (
	"fmt"
	"regexp"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

var (
	defaultURLPatterns     = []string{`(?i)/errors/validateCaptcha|captcha|/sorry`}
	defaultContentPatterns = []string{`(?i)not a robot|enter the characters|verify you are human`}
)

// Detector matches page URLs and rendered content against block-page signatures.
type Detector struct {
	urlMarkers     []*regexp.Regexp
	contentMarkers []*regexp.Regexp
}

// New builds a detector from the built-in signatures plus any extra patterns.
func New(extraURL, extraContent []string) (*Detector, error) {
	urlMarkers, err := compile(append(append([]string{}, defaultURLPatterns...), extraURL...))
	if err != nil {
		return nil, fmt.Errorf("compile url signatures: %w", err)
	}
	contentMarkers, err := compile(append(append([]string{}, defaultContentPatterns...), extraContent...))
	if err != nil {
		return nil, fmt.Errorf("compile content signatures: %w", err)
	}
	return &Detector{urlMarkers: urlMarkers, contentMarkers: contentMarkers}, nil
}

// Check returns an error wrapping crawler.ErrBlocked when the page looks like
// a block page, or nil otherwise.
func (d *Detector) Check(page crawler.Page) error {
	if page == nil {
		return nil
	}
	url := page.URL()
	for _, re := range d.urlMarkers {
		if re.MatchString(url) {
			return fmt.Errorf("url %q matches %q: %w", url, re.String(), crawler.ErrBlocked)
		}
	}
	content := page.Content()
	for _, re := range d.contentMarkers {
		if loc := re.FindStringIndex(content); loc != nil {
			return fmt.Errorf("content matches %q: %w", content[loc[0]:loc[1]], crawler.ErrBlocked)
		}
	}
	return nil
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
