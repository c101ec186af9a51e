package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

func TestSessionFetchParsesPage(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><head><title>Widget</title></head><body><a href="/dp/B000000001">x</a></body></html>`)
	}))
	t.Cleanup(srv.Close)

	browser := New(Config{UserAgent: "default-agent", Timeout: time.Second}, nil)
	session, err := browser.OpenSession(context.Background(), crawler.SessionOptions{UserAgent: "session-agent"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	result, err := session.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/dp/B000000001"})
	require.NoError(t, err)
	require.True(t, result.Settled)
	require.Equal(t, "Widget", result.Page.Title())
	require.Equal(t, srv.URL+"/dp/B000000001", result.Page.URL())
	require.Equal(t, "session-agent", gotUA.Load())

	// A second fetch on the same session revisits without complaint.
	_, err = session.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/dp/B000000001"})
	require.NoError(t, err)
}

func TestSessionFetchFollowsRedirect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html><body>moved</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	session, err := New(Config{}, nil).OpenSession(context.Background(), crawler.SessionOptions{})
	require.NoError(t, err)

	result, err := session.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", result.Page.URL())
}

func TestSessionFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	session, err := New(Config{}, nil).OpenSession(context.Background(), crawler.SessionOptions{})
	require.NoError(t, err)

	_, err = session.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
	require.Equal(t, crawler.ClassTransient, crawler.Classify(err).Class)
}

func TestSessionFetchStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		code  int
		class crawler.FailureClass
		retry bool
	}{
		{"not found", http.StatusNotFound, crawler.ClassRejected, false},
		{"gone", http.StatusGone, crawler.ClassRejected, false},
		{"too many requests", http.StatusTooManyRequests, crawler.ClassTransient, true},
		{"bad gateway", http.StatusBadGateway, crawler.ClassTransient, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, http.StatusText(tc.code), tc.code)
			}))
			t.Cleanup(srv.Close)

			session, err := New(Config{}, nil).OpenSession(context.Background(), crawler.SessionOptions{})
			require.NoError(t, err)

			_, err = session.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/dp/B000000001"})
			require.Error(t, err)
			require.Contains(t, err.Error(), fmt.Sprintf("status %d", tc.code))
			got := crawler.Classify(err)
			require.Equal(t, tc.class, got.Class)
			require.Equal(t, tc.retry, got.Retryable)
		})
	}
}

func TestSessionFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = fmt.Fprint(w, "<html></html>")
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	session, err := New(Config{Timeout: 5 * time.Second}, nil).OpenSession(context.Background(), crawler.SessionOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = session.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type recordingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *recordingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestSessionFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{err: context.Canceled}
	session, err := New(Config{RateLimiter: limiter}, nil).OpenSession(context.Background(), crawler.SessionOptions{})
	require.NoError(t, err)

	_, err = session.Fetch(context.Background(), crawler.FetchRequest{URL: "http://shop.test/"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), limiter.calls.Load())
}

func TestOpenSessionProxy(t *testing.T) {
	t.Parallel()

	browser := New(Config{ProxyURL: "http://proxy.test:3128"}, nil)
	session, err := browser.OpenSession(context.Background(), crawler.SessionOptions{})
	require.NoError(t, err)
	require.NotNil(t, session)

	_, err = browser.OpenSession(context.Background(), crawler.SessionOptions{ProxyURL: "://bad"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = browser.OpenSession(ctx, crawler.SessionOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, browser.Close())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var result fetched
	var fetchErr error
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://shop.test/x")},
	})
	require.Equal(t, "https://shop.test/x", result.url)
	require.Equal(t, "body", string(result.body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("Service Unavailable"))
	require.EqualError(t, fetchErr, "status 503: Service Unavailable")

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	require.EqualError(t, fetchErr, "status 403: request rejected: Forbidden")
	require.ErrorIs(t, fetchErr, crawler.ErrRejected)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
