// Package headless drives a real Chrome instance through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/page"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleTimeout     = 10 * time.Second
	readyStatePoll           = 100 * time.Millisecond
)

// Config controls the behavior of the headless browser.
type Config struct {
	// MaxParallel caps concurrent in-flight fetches across all sessions. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Headless toggles Chrome's headless mode. Disable only for local debugging.
	Headless bool
	// ProxyURL applies to every session that does not set its own.
	ProxyURL    string
	RateLimiter crawler.RateLimiter
}

// Browser implements crawler.Browser on top of a chromedp exec allocator.
type Browser struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger

	mu         sync.Mutex
	allocators map[string]allocator
	closed     bool
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a headless browser. Chrome is started lazily on the first session.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Browser{
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger.Named("headless"),
		allocators: make(map[string]allocator),
	}, nil
}

// OpenSession starts a fresh browser tab with its own cookie jar.
func (b *Browser) OpenSession(ctx context.Context, opts crawler.SessionOptions) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	proxy := opts.ProxyURL
	if proxy == "" {
		proxy = b.cfg.ProxyURL
	}
	allocCtx, err := b.allocatorFor(proxy)
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(allocCtx)
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = b.cfg.UserAgent
	}
	return &Session{
		browser:   b,
		ctx:       tabCtx,
		cancel:    cancel,
		userAgent: userAgent,
	}, nil
}

// allocatorFor returns the shared Chrome process for a proxy, starting one if needed.
// Chrome takes its proxy as a process flag, so each distinct proxy gets its own process.
func (b *Browser) allocatorFor(proxy string) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	if a, ok := b.allocators[proxy]; ok {
		return a.ctx, nil
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions(proxy)...)
	b.allocators[proxy] = allocator{ctx: ctx, cancel: cancel}
	b.logger.Debug("started chrome allocator", zap.Bool("proxied", proxy != ""))
	return ctx, nil
}

func (b *Browser) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

// Close shuts down every Chrome process the browser started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for key, a := range b.allocators {
		a.cancel()
		delete(b.allocators, key)
	}
	return nil
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Session is one browser tab. It is not safe for concurrent Fetch calls.
type Session struct {
	browser   *Browser
	ctx       context.Context
	cancel    context.CancelFunc
	userAgent string
	primed    bool
}

// Fetch navigates the tab to request.URL and snapshots the rendered DOM.
func (s *Session) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	b := s.browser
	if b.cfg.RateLimiter != nil {
		if err := b.cfg.RateLimiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := b.acquire(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	defer b.release()

	// Tie the tab to the caller's deadline without cancelling the tab itself.
	runCtx, cancel := context.WithTimeout(s.ctx, b.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if !s.primed {
		if err := chromedp.Run(runCtx, s.networkSetupAction()); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("chromedp setup: %w", joinCtx(ctx, err))
		}
		s.primed = true
	}
	if err := chromedp.Run(runCtx, chromedp.Navigate(request.URL)); err != nil {
		return crawler.FetchResult{}, fmt.Errorf("chromedp navigate: %w", joinCtx(ctx, err))
	}

	settled := s.settle(runCtx, settleTimeout(request.SettleTimeout))

	var html, finalURL string
	if err := chromedp.Run(runCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return crawler.FetchResult{}, fmt.Errorf("chromedp snapshot: %w", joinCtx(ctx, err))
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	p, err := page.New(finalURL, html)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("build page: %w", err)
	}
	return crawler.FetchResult{Page: p, Settled: settled}, nil
}

// settle waits for the body and a complete readyState. It reports false when
// the timeout elapses first; the caller snapshots whatever has rendered.
func (s *Session) settle(ctx context.Context, timeout time.Duration) bool {
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(settleCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return false
	}
	ticker := time.NewTicker(readyStatePoll)
	defer ticker.Stop()
	for {
		var state string
		if err := chromedp.Run(settleCtx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return false
		}
		if state == "complete" {
			return true
		}
		select {
		case <-settleCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (s *Session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.userAgent != "" {
			if err := emulation.SetUserAgentOverride(s.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close closes the tab.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

func settleTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultSettleTimeout
}

// joinCtx surfaces the caller's cancellation so it classifies as canceled
// rather than as a transient browser error.
func joinCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return errors.Join(err, ctxErr)
	}
	return err
}
