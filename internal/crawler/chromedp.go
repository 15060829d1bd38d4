package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/ratelimit"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultSettle       = 1200 * time.Millisecond
	scrollPause         = 300 * time.Millisecond
	screenshotTimeout   = 5 * time.Second
	screenshotQuality   = 80
	scrollScript        = `window.scrollBy(0, 1800)`
	defaultScrollRounds = 8
)

// HeadlessConfig configures the chromedp crawler.
type HeadlessConfig struct {
	UserAgent     string
	NavTimeout    time.Duration
	Settle        time.Duration
	ScrollRounds  int
	MaxParallel   int
	Screenshots   bool
	MobileBaseURL string
}

// HeadlessCrawler renders place pages in headless Chrome and scrolls the
// review list before capturing the DOM.
type HeadlessCrawler struct {
	cfg         HeadlessConfig
	sem         chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
}

// NewHeadless starts a browser allocator. Chrome itself is launched lazily
// on the first crawl.
func NewHeadless(cfg HeadlessConfig, limiter *ratelimit.Limiter, logger *zap.Logger) *HeadlessCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.ScrollRounds <= 0 {
		cfg.ScrollRounds = defaultScrollRounds
	}
	if cfg.MobileBaseURL == "" {
		cfg.MobileBaseURL = DefaultMobileBaseURL
	}
	var sem chan struct{}
	if cfg.MaxParallel > 0 {
		sem = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(1280, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &HeadlessCrawler{
		cfg:         cfg,
		sem:         sem,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		limiter:     limiter,
		logger:      logger.Named("crawler.headless"),
	}
}

// Close shuts the browser down.
func (c *HeadlessCrawler) Close() {
	c.allocCancel()
}

// Crawl renders rawURL and, when a place id is found, the mobile visitor
// review page. A failed attempt may carry a screenshot as evidence.
func (c *HeadlessCrawler) Crawl(ctx context.Context, rawURL string) (Result, error) {
	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return Result{}, err
		}
	}

	tabCtx, cancelTab := chromedp.NewContext(c.allocator)
	defer cancelTab()
	stop := forwardCancel(ctx, cancelTab)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	taskCtx, cancel := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer cancel()

	var mainHTML, finalURL string
	err := chromedp.Run(taskCtx,
		c.setup(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &mainHTML, chromedp.ByQuery),
	)
	if err != nil {
		return Result{}, c.fail(tabCtx, rawURL, fmt.Errorf("render entry page: %w", err))
	}
	if status := meta.status(); status >= 400 {
		return Result{}, c.fail(tabCtx, rawURL, fmt.Errorf("entry page status %d", status))
	}
	if finalURL == "" {
		finalURL = rawURL
	}

	res := BuildResult(rawURL, finalURL, mainHTML, "")
	if res.PlaceID == "" {
		return res, nil
	}

	reviewHTML, err := c.renderReviews(taskCtx, MobileReviewURL(c.cfg.MobileBaseURL, res.PlaceID))
	if err != nil {
		c.logger.Warn("review page render failed", zap.String("place_id", res.PlaceID), zap.Error(err))
		return res, nil
	}
	return BuildResult(rawURL, finalURL, mainHTML, reviewHTML), nil
}

func (c *HeadlessCrawler) renderReviews(ctx context.Context, reviewURL string) (string, error) {
	actions := []chromedp.Action{
		chromedp.Navigate(reviewURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.Settle),
	}
	for range c.cfg.ScrollRounds {
		actions = append(actions, chromedp.Evaluate(scrollScript, nil), chromedp.Sleep(scrollPause))
	}
	var doc string
	actions = append(actions, chromedp.OuterHTML("html", &doc, chromedp.ByQuery))
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", err
	}
	return doc, nil
}

func (c *HeadlessCrawler) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// fail wraps err as an AttemptError, attaching a screenshot when enabled.
func (c *HeadlessCrawler) fail(tabCtx context.Context, rawURL string, err error) error {
	attempt := &AttemptError{URL: rawURL, Err: err}
	if !c.cfg.Screenshots || tabCtx.Err() != nil {
		return attempt
	}
	shotCtx, cancel := context.WithTimeout(tabCtx, screenshotTimeout)
	defer cancel()
	var buf []byte
	if shotErr := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, screenshotQuality)); shotErr != nil {
		c.logger.Debug("failure screenshot unavailable", zap.Error(shotErr))
		return attempt
	}
	attempt.Evidence = buf
	return attempt
}

func (c *HeadlessCrawler) acquire(ctx context.Context) error {
	if c.sem == nil {
		return nil
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (c *HeadlessCrawler) release() {
	if c.sem == nil {
		return
	}
	<-c.sem
}

type responseMeta struct {
	mu   sync.Mutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
