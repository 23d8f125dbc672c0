package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"indexprovider/internal/quote"
	"indexprovider/internal/source"
)

// State is the freshness controller's per-index state.
type State int

const (
	// StateStale means the last successful refresh is too old (or never
	// happened) and the next blocking query will trigger one.
	StateStale State = iota
	// StateFresh means queries answer from the store without refreshing.
	StateFresh
	// StateRefreshing means a refresh is in flight right now.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateStale:
		return "stale"
	case StateFresh:
		return "fresh"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Metadata is a snapshot of the freshness bookkeeping.
type Metadata struct {
	State        State         `json:"state"`
	LastRefresh  time.Time     `json:"last_refresh,omitempty"`
	LastUpstream time.Duration `json:"last_upstream,omitempty"` // last good upstream response time
	Covered      quote.Range   `json:"covered,omitempty"`
}

// State reports the current controller state.
func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.stateLocked()
}

func (ix *Index) stateLocked() State {
	if ix.refreshing {
		return StateRefreshing
	}
	if ix.lastRefresh.IsZero() || time.Since(ix.lastRefresh) > ix.maxAge {
		return StateStale
	}
	return StateFresh
}

// Metadata returns a snapshot of the freshness metadata.
func (ix *Index) Metadata() Metadata {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Metadata{
		State:        ix.stateLocked(),
		LastRefresh:  ix.lastRefresh,
		LastUpstream: ix.lastUpstream,
		Covered:      ix.covered,
	}
}

// Invalidate forces the next blocking query to refresh.
func (ix *Index) Invalidate() {
	ix.mu.Lock()
	ix.lastRefresh = time.Time{}
	ix.mu.Unlock()
}

// ensure applies the freshness rules before a query reads the store.
// It returns whether the answer will be served from possibly-stale data.
//
// Concurrent callers observing a stale index share one refresh through the
// singleflight group; a waiter that cancels abandons the wait but never the
// refresh itself, which runs on its own deadline.
func (ix *Index) ensure(ctx context.Context, o queryOptions) (stale bool, err error) {
	if ix.State() == StateFresh {
		return false, nil
	}
	ch := ix.sf.DoChan(ix.id, ix.refresh)
	if o.noWait {
		// DoChan's channel is buffered; the background refresh completes
		// whether or not anyone reads the result.
		return true, nil
	}
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return true, res.Err
		}
		return false, nil
	}
}

// refresh performs one fetch-and-merge cycle. On success the index turns
// Fresh even when no new points existed; freshness is about the recency of
// the attempt. On failure the store is left untouched and the index stays
// Stale.
func (ix *Index) refresh() (any, error) {
	ix.mu.Lock()
	ix.refreshing = true
	covered := ix.covered
	ix.mu.Unlock()
	defer func() {
		ix.mu.Lock()
		ix.refreshing = false
		ix.mu.Unlock()
	}()

	now := time.Now().UTC()
	from := now.Add(-ix.backfill)
	// Overlap the previously covered tail by one max-age so late
	// corrections at the edge are picked up.
	if !covered.IsZero() {
		if t := covered.To.Add(-ix.maxAge); t.After(from) {
			from = t
		}
	}
	r, err := quote.NewRange(from, now)
	if err != nil {
		return nil, fmt.Errorf("refresh window: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ix.refreshTimeout)
	defer cancel()

	start := time.Now()
	res, err := ix.source.Fetch(ctx, ix.id, r)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, source.ErrTimeout) {
			err = fmt.Errorf("refresh %s: %w", r, source.ErrTimeout)
		}
		ix.log.WithError(err).WithField("range", r.String()).Warn("refresh failed")
		return nil, err
	}

	report := ix.store.Merge(res.Quotes)
	if ix.retention > 0 {
		ix.store.Retain(now.Add(-ix.retention))
	}

	got := res.Covered
	if got.IsZero() || res.Coverage == source.CoverageEmpty {
		// An empty answer still covers the asked range: there was nothing.
		got = r
	}
	ix.mu.Lock()
	ix.lastRefresh = time.Now()
	ix.lastUpstream = time.Since(start)
	if ix.covered.IsZero() {
		ix.covered = got
	} else {
		if got.From.Before(ix.covered.From) {
			ix.covered.From = got.From
		}
		if got.To.After(ix.covered.To) {
			ix.covered.To = got.To
		}
	}
	ix.mu.Unlock()

	ix.log.WithFields(map[string]any{
		"range":      r.String(),
		"coverage":   res.Coverage.String(),
		"inserted":   report.Inserted,
		"corrected":  report.Corrected,
		"duplicates": report.Duplicates,
	}).Debug("refresh merged")
	return nil, nil
}
