// Package bmeapi fetches index quotes from a BME-style (Bolsas y Mercados
// Españoles) close-price HTTP API. It is one concrete IndexDataSource; the
// rest of the system never depends on it directly.
package bmeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"indexprovider/internal/httpx"
	"indexprovider/internal/quote"
	"indexprovider/internal/source"
)

// Config controls the adapter.
type Config struct {
	Name     string            // display name, default: BME
	URL      string            // base URL, e.g. https://api.example.es
	APIKey   string            // optional; sent as Bearer token
	Headers  map[string]string // optional extra headers
	IndexMap map[string]string // optional local ID -> upstream ID
}

// Source implements source.IndexDataSource over the BME quotes endpoint.
// Safe for concurrent use; it holds no per-index state.
type Source struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Source {
	if cfg.Name == "" {
		cfg.Name = "BME"
	}
	return &Source{cfg: cfg, client: hc}
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) Fetch(ctx context.Context, indexID string, r quote.Range) (source.Result, error) {
	if s.cfg.URL == "" {
		return source.Result{}, fmt.Errorf("bmeapi: missing URL")
	}
	upstreamID := indexID
	if v := s.cfg.IndexMap[indexID]; v != "" {
		upstreamID = v
	}

	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return source.Result{}, fmt.Errorf("bmeapi: parse URL: %w", err)
	}
	u = u.JoinPath("v1", "indexes", upstreamID, "quotes")
	q := u.Query()
	q.Set("from", r.From.Format(time.RFC3339))
	q.Set("to", r.To.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return source.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return source.Result{}, fmt.Errorf("bmeapi: GET %s: %w", u.Path, source.ErrTimeout)
		}
		return source.Result{}, fmt.Errorf("bmeapi: GET %s: %v: %w", u.Path, err, source.ErrUnreachable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return source.Result{}, fmt.Errorf("bmeapi: index %q: %w", indexID, source.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return source.Result{}, fmt.Errorf("bmeapi: %w", &source.RateLimitError{RetryAfter: retryAfter(resp)})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return source.Result{}, fmt.Errorf("bmeapi: GET %s -> %d: %s: %w", u.Path, resp.StatusCode, b, source.ErrUnreachable)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return source.Result{}, fmt.Errorf("bmeapi: decode: %v: %w", err, source.ErrMalformedData)
	}
	return s.toResult(indexID, r, body)
}

func (s *Source) toResult(indexID string, requested quote.Range, body apiResponse) (source.Result, error) {
	quotes := make([]quote.Quote, 0, len(body.Quotes))
	for _, e := range body.Quotes {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return source.Result{}, fmt.Errorf("bmeapi: price %q: %w", e.Price, source.ErrMalformedData)
		}
		if e.Timestamp.IsZero() {
			return source.Result{}, fmt.Errorf("bmeapi: quote without timestamp: %w", source.ErrMalformedData)
		}
		q := quote.New(indexID, e.Timestamp, price)
		q.Volume = e.Volume
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return source.Result{Coverage: source.CoverageEmpty}, nil
	}

	covered := requested
	if !body.Coverage.From.IsZero() && !body.Coverage.To.IsZero() {
		if r, err := quote.NewRange(body.Coverage.From, body.Coverage.To); err == nil {
			covered = r
		}
	}
	res := source.Result{Quotes: quotes, Covered: covered, Coverage: source.CoverageComplete}
	if !covered.ContainsRange(requested) {
		res.Coverage = source.CoveragePartial
	}
	return res, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// Response model for the quotes endpoint. Prices come as strings so the
// decimal survives the wire untouched.
type apiResponse struct {
	Index    string     `json:"index"`
	Quotes   []apiQuote `json:"quotes"`
	Coverage struct {
		From time.Time `json:"from"`
		To   time.Time `json:"to"`
	} `json:"coverage"`
}

type apiQuote struct {
	Timestamp time.Time `json:"timestamp"`
	Price     string    `json:"price"`
	Volume    int64     `json:"volume,omitempty"`
}
