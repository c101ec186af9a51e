package page

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

const fixture = `<html><head><title> Widget Pro </title></head><body>
<span id="empty"></span>
<span class="price">€12,50</span>
<div class="ship">Ships from Berlin</div>
<div class="ship">Other text</div>
<a href="/dp/B000000001?ref=x">one</a>
<a href="https://shop.test/gp/product/B000000002">two</a>
<a href="/help">help</a>
</body></html>`

func TestHTMLQueryFirst(t *testing.T) {
	t.Parallel()

	p, err := New("https://shop.test/s/electronics/", fixture)
	require.NoError(t, err)
	require.Equal(t, "Widget Pro", p.Title())
	require.Equal(t, "https://shop.test/s/electronics/", p.URL())
	require.Contains(t, p.Content(), "Widget Pro")

	got, ok := p.QueryFirst([]crawler.Query{
		{Selector: "#missing"},
		{Selector: "#empty"},
		{Selector: ".price"},
	})
	require.True(t, ok)
	require.Equal(t, "€12,50", got)

	// Only the first matched element of a candidate is considered.
	_, ok = p.QueryFirst([]crawler.Query{
		{Selector: ".ship", Match: regexp.MustCompile(`(?i)other`)},
	})
	require.False(t, ok)

	_, ok = p.QueryFirst(nil)
	require.False(t, ok)
}

func TestHTMLQueryAllResolvesHrefs(t *testing.T) {
	t.Parallel()

	p, err := New("https://shop.test/s/electronics/", fixture)
	require.NoError(t, err)

	links := p.QueryAll([]crawler.Query{
		{Selector: "a[href]", Attr: "href", Match: regexp.MustCompile(`/(dp|gp/product)/`)},
	})
	require.Equal(t, []string{
		"https://shop.test/dp/B000000001?ref=x",
		"https://shop.test/gp/product/B000000002",
	}, links)
}
