package source

import (
	"context"

	"indexprovider/internal/quote"
)

// Coverage describes how much of a requested range a fetch actually covered.
type Coverage int

const (
	// CoverageComplete means the upstream answered the whole requested range.
	CoverageComplete Coverage = iota
	// CoveragePartial means only Result.Covered is answered; the rest of the
	// requested range is unavailable upstream.
	CoveragePartial
	// CoverageEmpty means the upstream had nothing for the requested range.
	CoverageEmpty
)

func (c Coverage) String() string {
	switch c {
	case CoverageComplete:
		return "complete"
	case CoveragePartial:
		return "partial"
	case CoverageEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result is a batch of raw quote candidates for one index.
// Quotes carry no ordering or uniqueness guarantees; the series store
// normalizes them on merge.
type Result struct {
	Quotes   []quote.Quote
	Coverage Coverage
	// Covered is the sub-range actually answered. Set for partial results;
	// equal to the requested range for complete ones.
	Covered quote.Range
}

// IndexDataSource fetches raw quote data for one index from one upstream
// provider. Implementations must be safe for concurrent use: a single
// adapter instance may serve several index facades at once.
//
//go:generate mockgen -package=index_test -destination=../index/mock_source_test.go indexprovider/internal/source IndexDataSource
//
// Fetch must not silently truncate the requested half-open range. When data
// is only available for part of it, the adapter returns what it has and
// reports CoveragePartial with the covered sub-range. Errors are wrapped so
// they match the sentinels in errors.go via errors.Is.
type IndexDataSource interface {
	Name() string
	Fetch(ctx context.Context, indexID string, r quote.Range) (Result, error)
}
