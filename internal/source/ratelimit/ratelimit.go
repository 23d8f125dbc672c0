// Package ratelimit gates calls to an IndexDataSource so shared upstreams
// are not hammered by many facades refreshing at once.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"indexprovider/internal/quote"
	"indexprovider/internal/source"
)

// Limited wraps a source and gates every fetch through a token bucket.
// Concurrent calls wait their turn or return early when the context ends.
type Limited struct {
	S       source.IndexDataSource
	Limiter *rate.Limiter
}

// New builds a limited source allowing rpm requests per minute with the
// given burst.
func New(s source.IndexDataSource, rpm int, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	return &Limited{S: s, Limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (l *Limited) Name() string { return l.S.Name() }

func (l *Limited) Fetch(ctx context.Context, indexID string, r quote.Range) (source.Result, error) {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return source.Result{}, err
		}
	}
	return l.S.Fetch(ctx, indexID, r)
}

// MinInterval wraps a source and enforces a minimum time between calls,
// for upstreams that publish an interval instead of a request quota.
type MinInterval struct {
	S        source.IndexDataSource
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Name() string { return m.S.Name() }

func (m *MinInterval) Fetch(ctx context.Context, indexID string, r quote.Range) (source.Result, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return source.Result{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	res, err := m.S.Fetch(ctx, indexID, r)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return res, err
}
