package index_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"indexprovider/internal/analytics"
	"indexprovider/internal/index"
	"indexprovider/internal/quote"
	"indexprovider/internal/source"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 17, 30, 0, 0, time.UTC)
}

func q(d int, price string) quote.Quote {
	return quote.New("IBEX35", day(d), decimal.RequireFromString(price))
}

func completeResult(quotes ...quote.Quote) source.Result {
	return source.Result{Quotes: quotes, Coverage: source.CoverageComplete}
}

// fakeSource is a hand-rolled IndexDataSource for tests that need counting
// or scripted behavior across many calls.
type fakeSource struct {
	mu      sync.Mutex
	fetches int
	result  source.Result
	err     error
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, indexID string, r quote.Range) (source.Result, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return source.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return source.Result{}, f.err
	}
	res := f.result
	if res.Covered.IsZero() {
		res.Covered = r
	}
	return res, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func TestCurrentPrice_RefreshesEmptyStore(t *testing.T) {
	t.Parallel()

	// Empty store, first query triggers a refresh that yields three quotes
	// for Jan 2..4 at 100, 101, 99.
	ctrl := gomock.NewController(t)
	src := NewMockIndexDataSource(ctrl)
	src.EXPECT().
		Fetch(gomock.Any(), "IBEX35", gomock.Any()).
		Return(completeResult(q(2, "100"), q(3, "101"), q(4, "99")), nil).
		Times(1)

	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)
	require.Equal(t, index.StateStale, ix.State(), "initial state is stale")

	res, err := ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	require.True(t, res.Quote.Price.Equal(decimal.RequireFromString("99")))
	require.True(t, res.Quote.Timestamp.Equal(day(4)))
	require.False(t, res.Stale)
	require.Equal(t, index.StateFresh, ix.State())

	// A second query inside max-age answers from the store, no new fetch.
	res, err = ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	require.True(t, res.Quote.Price.Equal(decimal.RequireFromString("99")))
}

func TestCurrentPrice_SourceFailureLeavesStoreEmptyAndStale(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := NewMockIndexDataSource(ctrl)
	src.EXPECT().
		Fetch(gomock.Any(), "IBEX35", gomock.Any()).
		Return(source.Result{}, fmt.Errorf("dial tcp: %w", source.ErrUnreachable)).
		Times(1)

	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	_, err = ix.CurrentPrice(t.Context())
	require.ErrorIs(t, err, source.ErrUnreachable)
	require.Equal(t, 0, ix.Store().Len(), "failed refresh must not touch the store")
	require.Equal(t, index.StateStale, ix.State())
}

func TestCurrentPrice_FreshAfterEmptyFetch(t *testing.T) {
	t.Parallel()

	// Freshness is about the recency of the attempt, not about new points.
	ctrl := gomock.NewController(t)
	src := NewMockIndexDataSource(ctrl)
	src.EXPECT().
		Fetch(gomock.Any(), "IBEX35", gomock.Any()).
		Return(source.Result{Coverage: source.CoverageEmpty}, nil).
		Times(1)

	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	_, err = ix.CurrentPrice(t.Context())
	require.ErrorIs(t, err, index.ErrNoData)
	require.Equal(t, index.StateFresh, ix.State())
}

func TestCurrentPrice_NoWaitServesStaleData(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100")), delay: 50 * time.Millisecond}
	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	// Empty store: nothing to serve without waiting.
	_, err = ix.CurrentPrice(t.Context(), index.NoWait())
	require.ErrorIs(t, err, index.ErrNoData)

	// Wait for the background refresh kicked off by the NoWait query.
	require.Eventually(t, func() bool { return ix.Store().Len() == 1 }, time.Second, 5*time.Millisecond)

	// Stale again after invalidation: NoWait serves the old value, flagged.
	ix.Invalidate()
	res, err := ix.CurrentPrice(t.Context(), index.NoWait())
	require.NoError(t, err)
	require.True(t, res.Stale)
	require.True(t, res.Quote.Price.Equal(decimal.RequireFromString("100")))
}

func TestEnsure_AtMostOneRefreshInFlight(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100")), delay: 20 * time.Millisecond}
	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ix.CurrentPrice(context.Background())
			if err != nil {
				t.Errorf("current price: %v", err)
				return
			}
			if !res.Quote.Price.Equal(decimal.RequireFromString("100")) {
				t.Errorf("unexpected price %s", res.Quote.Price)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, src.maxInFlight.Load(), "refreshes must never overlap")
	require.Equal(t, 1, src.fetchCount(), "concurrent callers share one refresh")
}

func TestEnsure_WaiterCancellationDoesNotCancelRefresh(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100")), delay: 40 * time.Millisecond}
	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
	defer cancel()
	_, err = ix.CurrentPrice(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared refresh keeps going and lands in the store.
	require.Eventually(t, func() bool { return ix.Store().Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, index.StateFresh, ix.State())
}

func TestRefresh_TimeoutSurfacesAndReturnsToStale(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100")), delay: 200 * time.Millisecond}
	ix, err := index.New("IBEX35", src,
		index.WithMaxAge(time.Hour),
		index.WithRefreshTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = ix.CurrentPrice(t.Context())
	require.ErrorIs(t, err, source.ErrTimeout)
	require.Equal(t, index.StateStale, ix.State())
	require.Equal(t, 0, ix.Store().Len(), "no partial merge on timeout")
}

func TestState_FreshDecaysToStale(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100"))}
	ix, err := index.New("IBEX35", src, index.WithMaxAge(30*time.Millisecond))
	require.NoError(t, err)

	_, err = ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	require.Equal(t, index.StateFresh, ix.State())

	require.Eventually(t, func() bool { return ix.State() == index.StateStale },
		time.Second, 5*time.Millisecond)

	// The next query refreshes again.
	_, err = ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, src.fetchCount())
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100"))}
	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	_, err = ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	ix.Invalidate()
	require.Equal(t, index.StateStale, ix.State())

	_, err = ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, src.fetchCount())
}

func TestHistory_RangeAndPartialFlag(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := NewMockIndexDataSource(ctrl)
	src.EXPECT().
		Fetch(gomock.Any(), "IBEX35", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, r quote.Range) (source.Result, error) {
			// Upstream answers everything back to Jan 1 2024.
			covered, err := quote.NewRange(day(1), r.To)
			if err != nil {
				return source.Result{}, err
			}
			return source.Result{
				Quotes:   []quote.Quote{q(2, "100"), q(3, "101"), q(4, "99")},
				Coverage: source.CoveragePartial,
				Covered:  covered,
			}, nil
		}).
		Times(1)

	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	r, err := quote.NewRange(day(2), day(4))
	require.NoError(t, err)
	res, err := ix.History(t.Context(), r)
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2, "half-open range excludes day 4")
	require.False(t, res.Partial, "range inside established coverage")

	// Reaching back before established coverage is flagged partial.
	old, err := quote.NewRange(day(2).AddDate(-1, 0, 0), day(4))
	require.NoError(t, err)
	res, err = ix.History(t.Context(), old)
	require.NoError(t, err)
	require.True(t, res.Partial)

	// Invalid ranges are rejected before touching the controller.
	_, err = ix.History(t.Context(), quote.Range{From: day(4), To: day(2)})
	require.Error(t, err)
}

func TestHistory_PartialUpstreamCoverage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := NewMockIndexDataSource(ctrl)
	src.EXPECT().
		Fetch(gomock.Any(), "IBEX35", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, r quote.Range) (source.Result, error) {
			covered, err := quote.NewRange(day(3), r.To)
			if err != nil {
				return source.Result{}, err
			}
			return source.Result{
				Quotes:   []quote.Quote{q(3, "101"), q(4, "99")},
				Coverage: source.CoveragePartial,
				Covered:  covered,
			}, nil
		}).
		Times(1)

	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	r, err := quote.NewRange(day(1), day(5))
	require.NoError(t, err)
	res, err := ix.History(t.Context(), r)
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)
	require.True(t, res.Partial, "requested range starts before upstream coverage")
}

func TestAnalytics_ThroughFacade(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := NewMockIndexDataSource(ctrl)
	src.EXPECT().
		Fetch(gomock.Any(), "IBEX35", gomock.Any()).
		Return(completeResult(q(1, "100"), q(2, "102"), q(3, "104"), q(4, "110")), nil).
		Times(1)

	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	res, err := ix.Analytics(t.Context(), analytics.KindSimpleReturn, analytics.Params{})
	require.NoError(t, err)
	require.True(t, res.Value.Equal(decimal.RequireFromString("0.1")), "got %s", res.Value)

	res, err = ix.Analytics(t.Context(), analytics.KindMovingAverage, analytics.Params{Window: 2})
	require.NoError(t, err)
	require.Len(t, res.Points, 3)

	// Volatility over a three-point window on four points is fine; a
	// five-point window is not.
	_, err = ix.Analytics(t.Context(), analytics.KindVolatility, analytics.Params{Window: 5})
	require.ErrorIs(t, err, analytics.ErrInsufficientData)
}

func TestAnalytics_DefaultWindow(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(1, "100"), q(2, "101"), q(3, "102"))}
	ix, err := index.New("IBEX35", src,
		index.WithMaxAge(time.Hour),
		index.WithDefaultWindow(2))
	require.NoError(t, err)

	res, err := ix.Analytics(t.Context(), analytics.KindMovingAverage, analytics.Params{})
	require.NoError(t, err)
	require.Len(t, res.Points, 2, "default window of 2 over 3 points")
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	src := &fakeSource{result: completeResult(q(2, "100"))}
	ix, err := index.New("IBEX35", src, index.WithMaxAge(time.Hour))
	require.NoError(t, err)

	meta := ix.Metadata()
	require.Equal(t, index.StateStale, meta.State)
	require.True(t, meta.LastRefresh.IsZero())

	_, err = ix.CurrentPrice(t.Context())
	require.NoError(t, err)

	meta = ix.Metadata()
	require.Equal(t, index.StateFresh, meta.State)
	require.False(t, meta.LastRefresh.IsZero())
	require.False(t, meta.Covered.IsZero())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := index.New("", &fakeSource{})
	require.Error(t, err)
	_, err = index.New("IBEX35", nil)
	require.Error(t, err)
}

func TestRetention_AppliedAfterRefresh(t *testing.T) {
	t.Parallel()

	old := quote.New("IBEX35", time.Now().UTC().Add(-48*time.Hour), decimal.RequireFromString("95"))
	fresh := quote.New("IBEX35", time.Now().UTC().Add(-time.Hour), decimal.RequireFromString("100"))

	src := &fakeSource{result: completeResult(old, fresh)}
	ix, err := index.New("IBEX35", src,
		index.WithMaxAge(time.Hour),
		index.WithRetention(24*time.Hour))
	require.NoError(t, err)

	res, err := ix.CurrentPrice(t.Context())
	require.NoError(t, err)
	require.True(t, res.Quote.Price.Equal(decimal.RequireFromString("100")))
	require.Equal(t, 1, ix.Store().Len(), "48h-old quote evicted by 24h retention")
}
