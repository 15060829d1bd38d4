package crawler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/metrics"
)

// LinearRetryPolicy waits delay × (attempt+1) between attempts.
type LinearRetryPolicy struct {
	retries int
	delay   time.Duration
}

// NewLinearRetryPolicy allows retries extra attempts after the first.
func NewLinearRetryPolicy(retries int, delay time.Duration) *LinearRetryPolicy {
	if retries < 0 {
		retries = 0
	}
	return &LinearRetryPolicy{retries: retries, delay: delay}
}

// ShouldRetry reports whether another attempt may follow attempt (0-based).
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.retries {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the wait before the attempt after attempt.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	return p.delay * time.Duration(attempt+1)
}

// Retrying wraps a Crawler so that all retries happen inside one call.
type Retrying struct {
	next   Crawler
	policy *LinearRetryPolicy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying wraps next with policy.
func NewRetrying(next Crawler, policy *LinearRetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger.Named("crawler"), sleep: sleepCtx}
}

// Crawl runs attempts until one succeeds or the policy gives up, then
// returns a TransientError wrapping the last failure.
func (r *Retrying) Crawl(ctx context.Context, rawURL string) (Result, error) {
	var (
		lastErr  error
		evidence []byte
	)
	attempt := 0
	for ; ; attempt++ {
		res, err := r.next.Crawl(ctx, rawURL)
		if err == nil {
			metrics.ObserveCrawlAttempt(rawURL, "ok")
			return res, nil
		}
		metrics.ObserveCrawlAttempt(rawURL, "error")
		lastErr = err
		if shot := EvidenceFrom(err); len(shot) > 0 {
			evidence = shot
		}
		if !r.policy.ShouldRetry(err, attempt) {
			break
		}
		wait := r.policy.Backoff(attempt)
		r.logger.Warn("crawl attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := r.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return Result{}, &TransientError{URL: rawURL, Attempts: attempt + 1, Evidence: evidence, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
