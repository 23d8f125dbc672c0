// Package index exposes the public per-index query API. An Index composes
// the series store, the freshness controller and the analytics engine
// behind CurrentPrice, History and Analytics; the data source is injected
// and may be shared across indexes.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"indexprovider/internal/analytics"
	"indexprovider/internal/quote"
	"indexprovider/internal/series"
	"indexprovider/internal/source"
)

// ErrNoData signals a non-blocking query found no quotes to serve yet.
var ErrNoData = errors.New("no quotes available")

const (
	defaultMaxAge         = 5 * time.Minute
	defaultRefreshTimeout = 10 * time.Second
	defaultBackfill       = 30 * 24 * time.Hour
	defaultWindow         = 20
)

// Index is the facade for one index identifier. It exclusively owns its
// series store and freshness metadata and is safe for concurrent use.
type Index struct {
	id     string
	source source.IndexDataSource
	store  *series.Store
	log    *logrus.Entry

	maxAge         time.Duration
	refreshTimeout time.Duration
	retention      time.Duration
	backfill       time.Duration
	window         int

	mu           sync.Mutex
	lastRefresh  time.Time
	lastUpstream time.Duration
	refreshing   bool
	covered      quote.Range

	sf singleflight.Group
}

// Option configures an Index at construction time.
type Option func(*Index)

// WithMaxAge sets how long a successful refresh keeps the index fresh.
func WithMaxAge(d time.Duration) Option {
	return func(ix *Index) { ix.maxAge = d }
}

// WithRefreshTimeout bounds a single upstream fetch.
func WithRefreshTimeout(d time.Duration) Option {
	return func(ix *Index) { ix.refreshTimeout = d }
}

// WithTolerance sets the merge collision price tolerance.
func WithTolerance(tol decimal.Decimal) Option {
	return func(ix *Index) { ix.store = series.NewStore(ix.id, tol) }
}

// WithRetention evicts quotes older than d after each refresh; the most
// recent quote always survives. Zero disables eviction.
func WithRetention(d time.Duration) Option {
	return func(ix *Index) { ix.retention = d }
}

// WithBackfill sets how far back the first refresh reaches.
func WithBackfill(d time.Duration) Option {
	return func(ix *Index) { ix.backfill = d }
}

// WithDefaultWindow sets the analytics window used when a query gives none.
func WithDefaultWindow(n int) Option {
	return func(ix *Index) { ix.window = n }
}

// WithLogger attaches a structured logger; a silent one is used otherwise.
func WithLogger(log *logrus.Logger) Option {
	return func(ix *Index) { ix.log = log.WithField("index", ix.id) }
}

// New builds the facade for one index identifier. The store starts empty
// and stale, so the first blocking query triggers a refresh.
func New(id string, src source.IndexDataSource, opts ...Option) (*Index, error) {
	if id == "" {
		return nil, fmt.Errorf("index: empty identifier")
	}
	if src == nil {
		return nil, fmt.Errorf("index %s: nil data source", id)
	}
	ix := &Index{
		id:             id,
		source:         src,
		store:          series.NewStore(id, series.DefaultTolerance),
		maxAge:         defaultMaxAge,
		refreshTimeout: defaultRefreshTimeout,
		backfill:       defaultBackfill,
		window:         defaultWindow,
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		ix.log = silent.WithField("index", id)
	}
	return ix, nil
}

// ID returns the index identifier.
func (ix *Index) ID() string { return ix.id }

// Store exposes the series store for read access.
func (ix *Index) Store() *series.Store { return ix.store }

// queryOptions tune a single query.
type queryOptions struct {
	noWait bool
}

// QueryOption adjusts how one query treats staleness.
type QueryOption func(*queryOptions)

// NoWait serves last-known data immediately instead of waiting for a
// refresh; results carry a staleness flag. A refresh is still kicked off
// in the background when needed.
func NoWait() QueryOption {
	return func(o *queryOptions) { o.noWait = true }
}

// PriceResult is a current-price answer with its staleness flag.
type PriceResult struct {
	Quote quote.Quote `json:"quote"`
	Stale bool        `json:"stale,omitempty"`
}

// CurrentPrice returns the latest quote, refreshing first when stale.
func (ix *Index) CurrentPrice(ctx context.Context, opts ...QueryOption) (PriceResult, error) {
	o := applyQueryOptions(opts)
	stale, err := ix.ensure(ctx, o)
	if err != nil {
		return PriceResult{}, fmt.Errorf("index %s: current price: %w", ix.id, err)
	}
	q, ok := ix.store.Latest()
	if !ok {
		return PriceResult{}, fmt.Errorf("index %s: current price: %w", ix.id, ErrNoData)
	}
	return PriceResult{Quote: q, Stale: stale}, nil
}

// HistoryResult is an ordered slice of quotes plus flags describing how
// trustworthy it is: Stale when served without waiting for a refresh,
// Partial when the requested range reaches beyond established coverage.
type HistoryResult struct {
	Quotes  []quote.Quote `json:"quotes"`
	Stale   bool          `json:"stale,omitempty"`
	Partial bool          `json:"partial,omitempty"`
}

// History returns the stored quotes inside the half-open range r.
func (ix *Index) History(ctx context.Context, r quote.Range, opts ...QueryOption) (HistoryResult, error) {
	if r.From.IsZero() || r.To.IsZero() || !r.From.Before(r.To) {
		return HistoryResult{}, fmt.Errorf("index %s: history: invalid range %s", ix.id, r)
	}
	o := applyQueryOptions(opts)
	stale, err := ix.ensure(ctx, o)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("index %s: history %s: %w", ix.id, r, err)
	}

	ix.mu.Lock()
	covered := ix.covered
	ix.mu.Unlock()

	return HistoryResult{
		Quotes:  ix.store.Range(r.From, r.To),
		Stale:   stale,
		Partial: covered.IsZero() || r.From.Before(covered.From),
	}, nil
}

// Analytics computes a derived metric over the stored series. A zero
// params.Window falls back to the configured default.
func (ix *Index) Analytics(ctx context.Context, kind analytics.Kind, params analytics.Params, opts ...QueryOption) (analytics.Result, error) {
	if params.Window <= 0 {
		params.Window = ix.window
	}
	o := applyQueryOptions(opts)
	if _, err := ix.ensure(ctx, o); err != nil {
		return analytics.Result{}, fmt.Errorf("index %s: analytics %s: %w", ix.id, kind, err)
	}

	quotes := ix.store.All()
	if !params.Range.IsZero() {
		quotes = ix.store.Range(params.Range.From, params.Range.To)
	}
	res, err := analytics.Compute(kind, quotes, params)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("index %s: analytics %s: %w", ix.id, kind, err)
	}
	return res, nil
}

func applyQueryOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
