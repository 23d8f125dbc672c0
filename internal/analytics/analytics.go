// Package analytics derives standard metrics from an immutable snapshot of
// a quote series. All functions are pure: they never mutate their input and
// never fall back to zero or NaN for undersized inputs.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"indexprovider/internal/quote"
)

var (
	// ErrInsufficientData signals the series is too short (or a base price
	// is zero) for the requested metric.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrEmptyRange signals the requested range held no quotes at all.
	ErrEmptyRange = errors.New("empty range")
)

// divisionPrecision for simple returns: eight decimal places is plenty for
// index percentage moves.
const divisionPrecision = 8

// Point is one derived value aligned to an input quote's timestamp.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// SimpleReturn computes (p1 - p0) / p0.
func SimpleReturn(p0, p1 decimal.Decimal) (decimal.Decimal, error) {
	if p0.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("simple return with zero base price: %w", ErrInsufficientData)
	}
	return p1.Sub(p0).DivRound(p0, divisionPrecision), nil
}

// Returns computes the simple return between each consecutive pair of
// quotes. Needs at least two points.
func Returns(quotes []quote.Quote) ([]decimal.Decimal, error) {
	if len(quotes) == 0 {
		return nil, ErrEmptyRange
	}
	if len(quotes) < 2 {
		return nil, fmt.Errorf("returns need at least 2 points, have %d: %w", len(quotes), ErrInsufficientData)
	}
	out := make([]decimal.Decimal, 0, len(quotes)-1)
	for i := 1; i < len(quotes); i++ {
		r, err := SimpleReturn(quotes[i-1].Price, quotes[i].Price)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// MovingAverage produces one output per input point once at least window
// points exist, aligned to the timestamp of the last point in each window.
// Points before the window fills are omitted, not zero-filled, so the
// output length is max(0, len(quotes)-window+1).
func MovingAverage(quotes []quote.Quote, window int) ([]Point, error) {
	if window < 1 {
		return nil, fmt.Errorf("moving average window must be >= 1, got %d", window)
	}
	if len(quotes) == 0 {
		return nil, ErrEmptyRange
	}
	if len(quotes) < window {
		return nil, fmt.Errorf("moving average window %d over %d points: %w", window, len(quotes), ErrInsufficientData)
	}

	w := decimal.NewFromInt(int64(window))
	out := make([]Point, 0, len(quotes)-window+1)
	sum := decimal.Decimal{}
	for i, q := range quotes {
		sum = sum.Add(q.Price)
		if i >= window {
			sum = sum.Sub(quotes[i-window].Price)
		}
		if i >= window-1 {
			out = append(out, Point{
				Timestamp: q.Timestamp,
				Value:     sum.DivRound(w, divisionPrecision),
			})
		}
	}
	return out, nil
}

// Volatility is the standard deviation of the simple returns over the last
// window observations, so it needs at least window+1 points. It uses the
// SAMPLE variance (divides by window-1), which requires window >= 2.
func Volatility(quotes []quote.Quote, window int) (decimal.Decimal, error) {
	if window < 2 {
		return decimal.Decimal{}, fmt.Errorf("volatility window must be >= 2, got %d", window)
	}
	if len(quotes) == 0 {
		return decimal.Decimal{}, ErrEmptyRange
	}
	if len(quotes) < window+1 {
		return decimal.Decimal{}, fmt.Errorf("volatility window %d needs %d points, have %d: %w",
			window, window+1, len(quotes), ErrInsufficientData)
	}

	rets, err := Returns(quotes[len(quotes)-window-1:])
	if err != nil {
		return decimal.Decimal{}, err
	}

	// Standard deviation needs a square root, so the final step runs in
	// float64 on already-small return values.
	vals := make([]float64, len(rets))
	var mean float64
	for i, r := range rets {
		vals[i], _ = r.Float64()
		mean += vals[i]
	}
	mean /= float64(len(vals))

	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(vals)-1))
	return decimal.NewFromFloat(sd).Round(divisionPrecision), nil
}
