package quote

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one observed price point for an index. The normalized shape
// produced by all data sources and stored by the series store.
// Price uses decimal arithmetic; never compare index prices as floats.
type Quote struct {
	Index     string          `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume,omitempty"` // 0 when the upstream reports none
}

// New builds a Quote with the timestamp normalized to UTC.
func New(index string, ts time.Time, price decimal.Decimal) Quote {
	return Quote{Index: index, Timestamp: ts.UTC(), Price: price}
}

// Equal reports whether two quotes describe the same observation:
// same index, same instant, same price. Volume does not participate.
func (q Quote) Equal(other Quote) bool {
	return q.Index == other.Index &&
		q.Timestamp.Equal(other.Timestamp) &&
		q.Price.Equal(other.Price)
}

// WithinTolerance reports whether other's price is within tol of q's price.
// Used by the merge collision policy to decide duplicate vs. correction.
func (q Quote) WithinTolerance(other Quote, tol decimal.Decimal) bool {
	return q.Price.Sub(other.Price).Abs().LessThanOrEqual(tol)
}

func (q Quote) String() string {
	return fmt.Sprintf("%s %s @ %s", q.Index, q.Price.String(), q.Timestamp.Format(time.RFC3339))
}

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewRange validates and builds a half-open range.
func NewRange(from, to time.Time) (Range, error) {
	if from.IsZero() || to.IsZero() {
		return Range{}, fmt.Errorf("range endpoints must be set")
	}
	if !from.Before(to) {
		return Range{}, fmt.Errorf("range from %s must be before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Range{From: from.UTC(), To: to.UTC()}, nil
}

// Contains reports whether t falls inside [From, To).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// ContainsRange reports whether other lies entirely inside r.
func (r Range) ContainsRange(other Range) bool {
	return !other.From.Before(r.From) && !other.To.After(r.To)
}

func (r Range) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

func (r Range) Duration() time.Duration { return r.To.Sub(r.From) }

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}
