// Package retry wraps an IndexDataSource with a bounded exponential
// backoff. The core never retries on its own; this wrapper is opted into
// explicitly when constructing a source chain.
package retry

import (
	"context"
	"errors"
	"time"

	"indexprovider/internal/quote"
	"indexprovider/internal/source"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int           // total attempts including the first; <=0 means 3
	BaseDelay   time.Duration // first backoff step; <=0 means 250ms
	MaxDelay    time.Duration // backoff cap; <=0 means 5s
	Multiplier  float64       // backoff growth; <=1 means 2
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	return c
}

// Source retries transient upstream failures. Unknown-index and malformed
// payload errors are permanent and returned immediately; a rate-limit
// retry-after hint stretches the backoff when it is longer.
type Source struct {
	S   source.IndexDataSource
	Cfg Config
}

func New(s source.IndexDataSource, cfg Config) *Source {
	return &Source{S: s, Cfg: cfg.withDefaults()}
}

func (s *Source) Name() string { return s.S.Name() }

func (s *Source) Fetch(ctx context.Context, indexID string, r quote.Range) (source.Result, error) {
	cfg := s.Cfg.withDefaults()
	delay := cfg.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res, err := s.S.Fetch(ctx, indexID, r)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !retryable(err) || attempt == cfg.MaxAttempts {
			return source.Result{}, err
		}

		wait := delay
		var rl *source.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return source.Result{}, ctx.Err()
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return source.Result{}, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, source.ErrNotFound) || errors.Is(err, source.ErrMalformedData) {
		return false
	}
	return true
}
