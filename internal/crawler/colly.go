package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/ratelimit"
)

// StaticConfig configures the colly-backed crawler.
type StaticConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MobileBaseURL  string
	// MinReviews below which the mobile review page is also fetched.
	MinReviews int
}

// StaticCrawler fetches server-rendered HTML without a browser. It follows
// redirects, which also resolves short links.
type StaticCrawler struct {
	base    *colly.Collector
	cfg     StaticConfig
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewStatic builds a StaticCrawler. limiter may be nil.
func NewStatic(cfg StaticConfig, limiter *ratelimit.Limiter, logger *zap.Logger) (*StaticCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MobileBaseURL == "" {
		cfg.MobileBaseURL = DefaultMobileBaseURL
	}
	if cfg.MinReviews <= 0 {
		cfg.MinReviews = 3
	}
	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)
	if err := base.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 2}); err != nil {
		return nil, fmt.Errorf("colly limit: %w", err)
	}
	return &StaticCrawler{base: base, cfg: cfg, limiter: limiter, logger: logger.Named("crawler.static")}, nil
}

// Crawl fetches the entry page, then the mobile review page when the entry
// page has a place id but few reviews.
func (c *StaticCrawler) Crawl(ctx context.Context, rawURL string) (Result, error) {
	main, err := c.fetch(ctx, rawURL)
	if err != nil {
		return Result{}, &AttemptError{URL: rawURL, Err: err}
	}
	res := BuildResult(rawURL, main.finalURL, main.body, "")
	if res.PlaceID == "" || len(res.Reviews) >= c.cfg.MinReviews {
		return res, nil
	}
	reviewURL := MobileReviewURL(c.cfg.MobileBaseURL, res.PlaceID)
	page, err := c.fetch(ctx, reviewURL)
	if err != nil {
		c.logger.Warn("mobile review page failed", zap.String("url", reviewURL), zap.Error(err))
		return res, nil
	}
	return BuildResult(rawURL, main.finalURL, main.body, page.body), nil
}

type staticPage struct {
	finalURL string
	body     string
}

type fetchResult struct {
	page staticPage
	err  error
}

func (c *StaticCrawler) fetch(ctx context.Context, rawURL string) (staticPage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return staticPage{}, err
		}
	}
	collector := c.base.Clone()
	collector.Context = ctx
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}
	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: staticPage{finalURL: r.Request.URL.String(), body: string(r.Body)}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return staticPage{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return staticPage{}, err
	}
	select {
	case res := <-resultCh:
		return res.page, res.err
	default:
		return staticPage{}, errors.New("colly fetch produced no result")
	}
}
