package source

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for upstream failures. Adapters wrap these with %w so
// callers can classify failures with errors.Is regardless of which
// upstream produced them.
var (
	// ErrUnreachable signals a transport or connection failure.
	ErrUnreachable = errors.New("source unreachable")
	// ErrRateLimited signals the upstream throttled the request.
	ErrRateLimited = errors.New("source rate limited")
	// ErrNotFound signals the index identifier is unknown to the upstream.
	ErrNotFound = errors.New("unknown index")
	// ErrMalformedData signals an unparsable upstream payload.
	ErrMalformedData = errors.New("malformed upstream data")
	// ErrTimeout signals a fetch exceeded its deadline.
	ErrTimeout = errors.New("source timeout")
)

// RateLimitError carries the upstream's retry-after hint when one was given.
// errors.Is(err, ErrRateLimited) holds for it.
type RateLimitError struct {
	RetryAfter time.Duration // 0 when the upstream gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source rate limited, retry after %s", e.RetryAfter)
	}
	return "source rate limited"
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
