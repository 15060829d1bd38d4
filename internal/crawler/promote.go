package crawler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// spaMarkers are mount points of client-rendered shells.
var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"__apollo_state__",
}

// NeedsBrowser reports whether a static capture is a script shell that only
// a browser can fill in.
func NeedsBrowser(res Result, minBody int) bool {
	if len(res.Reviews) > 0 {
		return false
	}
	body := strings.ToLower(res.RawHTML)
	if body == "" {
		return true
	}
	if len(body) < minBody && scriptCoverage(body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptCoverage is the percentage of body inside <script> elements.
func scriptCoverage(body string) int {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(body)
	covered, pos := 0, 0
	for pos < total {
		start := strings.Index(body[pos:], openTag)
		if start == -1 {
			break
		}
		start += pos
		end := strings.Index(body[start:], closeTag)
		if end == -1 {
			covered += total - start
			break
		}
		next := start + end + len(closeTag)
		covered += next - start
		pos = next
	}
	if total == 0 {
		return 0
	}
	return covered * 100 / total
}

// Promoting crawls with a cheap static crawler first and re-crawls in the
// browser when the static page is a client-rendered shell or the fetch fails.
type Promoting struct {
	static  Crawler
	browser Crawler
	minBody int
	logger  *zap.Logger
}

// NewPromoting builds a Promoting crawler. minBody defaults to 2048 bytes.
func NewPromoting(static, browser Crawler, minBody int, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minBody <= 0 {
		minBody = 2048
	}
	return &Promoting{static: static, browser: browser, minBody: minBody, logger: logger.Named("crawler.promote")}
}

// Crawl implements Crawler.
func (p *Promoting) Crawl(ctx context.Context, rawURL string) (Result, error) {
	res, err := p.static.Crawl(ctx, rawURL)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return Result{}, err
	case err != nil:
		p.logger.Info("static crawl failed, promoting", zap.String("url", rawURL), zap.Error(err))
	case !NeedsBrowser(res, p.minBody):
		return res, nil
	default:
		p.logger.Info("static page needs a browser, promoting", zap.String("url", rawURL))
	}
	return p.browser.Crawl(ctx, rawURL)
}
