package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"indexprovider/internal/quote"
)

// Kind selects a derived metric.
type Kind string

const (
	KindSimpleReturn  Kind = "simple_return"
	KindMovingAverage Kind = "moving_average"
	KindVolatility    Kind = "volatility"
)

// ParseKind maps a wire name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSimpleReturn, KindMovingAverage, KindVolatility:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown analytics kind %q", s)
	}
}

// Params tunes a metric. Window applies to moving averages and volatility;
// a non-zero Range restricts the metric to that slice of the series.
type Params struct {
	Window int         `json:"window,omitempty"`
	Range  quote.Range `json:"range,omitempty"`
}

// Result carries the outcome of one metric computation. Scalar metrics
// (simple return, volatility) set Value; series metrics set Points.
type Result struct {
	Kind   Kind            `json:"kind"`
	Value  decimal.Decimal `json:"value,omitempty"`
	Points []Point         `json:"points,omitempty"`
}

// Compute dispatches a metric over an ordered series snapshot.
//
// simple_return uses the first and last quote of the snapshot;
// moving_average and volatility use Params.Window.
func Compute(kind Kind, quotes []quote.Quote, params Params) (Result, error) {
	switch kind {
	case KindSimpleReturn:
		if len(quotes) == 0 {
			return Result{}, ErrEmptyRange
		}
		if len(quotes) < 2 {
			return Result{}, fmt.Errorf("simple return needs 2 points, have %d: %w", len(quotes), ErrInsufficientData)
		}
		v, err := SimpleReturn(quotes[0].Price, quotes[len(quotes)-1].Price)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: kind, Value: v}, nil

	case KindMovingAverage:
		pts, err := MovingAverage(quotes, params.Window)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: kind, Points: pts}, nil

	case KindVolatility:
		v, err := Volatility(quotes, params.Window)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: kind, Value: v}, nil

	default:
		return Result{}, fmt.Errorf("unknown analytics kind %q", kind)
	}
}
