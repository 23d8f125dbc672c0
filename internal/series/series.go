// Package series holds the ordered, deduplicated quote history for a
// single index. The store is the sole owner of its quotes: batches are
// copied in on merge and copied out on read, and mutation happens only
// inside the single-writer merge section while reads share an RLock.
package series

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"indexprovider/internal/quote"
)

// DefaultTolerance is two decimal places, the usual quotation granularity
// for equity indexes.
var DefaultTolerance = decimal.New(1, -2) // 0.01

// MergeReport counts what a merge did with its candidates.
type MergeReport struct {
	Inserted   int `json:"inserted"`
	Corrected  int `json:"corrected"`
	Duplicates int `json:"duplicates"`
}

func (r MergeReport) Total() int { return r.Inserted + r.Corrected + r.Duplicates }

// Store is an append-friendly time series of quotes for one index,
// strictly increasing by timestamp and duplicate-free.
type Store struct {
	index     string
	tolerance decimal.Decimal

	mu     sync.RWMutex
	quotes []quote.Quote
}

// NewStore creates an empty store for the given index identifier.
// A non-positive tolerance falls back to DefaultTolerance.
func NewStore(index string, tolerance decimal.Decimal) *Store {
	if tolerance.Sign() <= 0 {
		tolerance = DefaultTolerance
	}
	return &Store{index: index, tolerance: tolerance}
}

// Index returns the identifier this store belongs to.
func (s *Store) Index() string { return s.index }

// Merge inserts each candidate at its sorted position.
//
// Collision policy: a candidate at an existing timestamp whose price is
// within the configured tolerance is the same observation and is ignored;
// beyond tolerance it is a correction and the newer arrival overwrites the
// stored value. Candidates for a different index or with a zero timestamp
// are dropped without being counted.
//
// The whole batch is applied under one write lock, so readers never see a
// partially merged sequence.
func (s *Store) Merge(candidates []quote.Quote) MergeReport {
	var report MergeReport
	if len(candidates) == 0 {
		return report
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candidates {
		if c.Index != s.index || c.Timestamp.IsZero() {
			continue
		}
		c.Timestamp = c.Timestamp.UTC()

		i := sort.Search(len(s.quotes), func(i int) bool {
			return !s.quotes[i].Timestamp.Before(c.Timestamp)
		})
		if i < len(s.quotes) && s.quotes[i].Timestamp.Equal(c.Timestamp) {
			if s.quotes[i].WithinTolerance(c, s.tolerance) {
				report.Duplicates++
				continue
			}
			// Correction: newest arrival wins.
			s.quotes[i] = c
			report.Corrected++
			continue
		}
		s.quotes = append(s.quotes, quote.Quote{})
		copy(s.quotes[i+1:], s.quotes[i:])
		s.quotes[i] = c
		report.Inserted++
	}
	return report
}

// Range returns a copy of the quotes whose timestamps fall in [from, to).
// An out-of-bounds or inverted range yields an empty slice, never an error.
func (s *Store) Range(from, to time.Time) []quote.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.quotes), func(i int) bool {
		return !s.quotes[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(s.quotes), func(i int) bool {
		return !s.quotes[i].Timestamp.Before(to)
	})
	if lo >= hi {
		return nil
	}
	out := make([]quote.Quote, hi-lo)
	copy(out, s.quotes[lo:hi])
	return out
}

// All returns a copy of the full stored sequence.
func (s *Store) All() []quote.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.quotes) == 0 {
		return nil
	}
	out := make([]quote.Quote, len(s.quotes))
	copy(out, s.quotes)
	return out
}

// Latest returns the last quote by timestamp, or false on an empty store.
func (s *Store) Latest() (quote.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.quotes) == 0 {
		return quote.Quote{}, false
	}
	return s.quotes[len(s.quotes)-1], true
}

// Len returns the number of stored quotes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// Retain evicts quotes older than cutoff to bound memory. The single most
// recent quote survives regardless of age. Returns the number evicted.
func (s *Store) Retain(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.quotes) <= 1 {
		return 0
	}
	lo := sort.Search(len(s.quotes), func(i int) bool {
		return !s.quotes[i].Timestamp.Before(cutoff)
	})
	if lo >= len(s.quotes) {
		lo = len(s.quotes) - 1
	}
	if lo == 0 {
		return 0
	}
	kept := make([]quote.Quote, len(s.quotes)-lo)
	copy(kept, s.quotes[lo:])
	s.quotes = kept
	return lo
}
