package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

func TestBrowserServesCannedPages(t *testing.T) {
	t.Parallel()

	flaky := errors.New("connection reset")
	b := NewBrowser(map[string]Response{
		"https://shop.test/":      {HTML: "<html><head><title>Home</title></head></html>"},
		"https://shop.test/flaky": {HTML: "<html></html>", Err: flaky, Failures: 1},
		"https://shop.test/slow":  {HTML: "<html></html>", Unsettled: true, FinalURL: "https://shop.test/slow/"},
	})
	s, err := b.OpenSession(context.Background(), crawler.SessionOptions{})
	require.NoError(t, err)

	res, err := s.Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.test/"})
	require.NoError(t, err)
	require.True(t, res.Settled)
	require.Equal(t, "Home", res.Page.Title())

	_, err = s.Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.test/flaky"})
	require.ErrorIs(t, err, flaky)
	_, err = s.Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.test/flaky"})
	require.NoError(t, err)

	res, err = s.Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.test/slow"})
	require.NoError(t, err)
	require.False(t, res.Settled)
	require.Equal(t, "https://shop.test/slow/", res.Page.URL())

	_, err = s.Fetch(context.Background(), crawler.FetchRequest{URL: "https://shop.test/missing"})
	require.Error(t, err)

	require.Equal(t, 2, b.Fetches("https://shop.test/flaky"))
	require.Equal(t, 5, b.TotalFetches())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, b.Sessions())
	require.Equal(t, 1, b.ClosedSessions())
}
