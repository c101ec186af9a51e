// Package collyfetcher implements a static (no JavaScript) browser using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/page"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	ProxyURL    string
	Timeout     time.Duration
	RateLimiter crawler.RateLimiter
	// Transport overrides the pooled default, mainly for tests.
	Transport http.RoundTripper
}

// Browser implements crawler.Browser with plain HTTP requests. Pages are
// parsed as served, so the settle signal always fires.
type Browser struct {
	cfg    Config
	logger *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		cfg:    cfg,
		logger: logger.Named("static"),
	}
}

// OpenSession returns a session with its own cookie jar and identity. Each
// session owns a collector because clones share the HTTP backend.
func (b *Browser) OpenSession(ctx context.Context, opts crawler.SessionOptions) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(b.cfg.Timeout)

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = b.cfg.UserAgent
	}
	if userAgent != "" {
		collector.UserAgent = userAgent
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)

	proxy := opts.ProxyURL
	if proxy == "" {
		proxy = b.cfg.ProxyURL
	}
	if proxy == "" {
		collector.WithTransport(b.cfg.Transport)
	} else {
		// SetProxy rewrites the backend transport in place.
		collector.WithTransport(newHTTPTransport())
		if err := collector.SetProxy(proxy); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}
	b.logger.Debug("opened static session", zap.Bool("proxied", proxy != ""))
	return &Session{collector: collector, limiter: b.cfg.RateLimiter}, nil
}

// Close is a no-op; sessions hold no process resources.
func (b *Browser) Close() error {
	return nil
}

// Session issues requests through one cloned collector.
type Session struct {
	collector *colly.Collector
	limiter   crawler.RateLimiter
}

// Fetch executes a single HTTP GET and parses the body into a page.
func (s *Session) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	var (
		result   fetched
		fetchErr error
	)
	collector := s.collector.Clone()
	configureCollectorHooks(collector, &result, &fetchErr)
	if err := runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResult{}, err
	}
	if result.url == "" {
		result.url = request.URL
	}
	p, err := page.New(result.url, string(result.body))
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("build page: %w", err)
	}
	return crawler.FetchResult{Page: p, Settled: true}, nil
}

// Close is a no-op.
func (s *Session) Close() error {
	return nil
}

type fetched struct {
	url  string
	body []byte
}

func configureCollectorHooks(hooks collectorHooks, result *fetched, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = fetched{
			url:  r.Request.URL.String(),
			body: append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			if clientError(r.StatusCode) {
				*fetchErr = fmt.Errorf("status %d: %w: %w", r.StatusCode, crawler.ErrRejected, err)
				return
			}
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

// clientError reports statuses that will not change on retry. 429 is a
// throttle and stays transient.
func clientError(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Visit also returns the bare status error; the hook's copy carries the code.
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
