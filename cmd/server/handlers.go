package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"indexprovider/internal/analytics"
	"indexprovider/internal/index"
	"indexprovider/internal/market"
	"indexprovider/internal/quote"
	"indexprovider/internal/source"
)

// server holds the request-scoped dependencies of the HTTP API.
type server struct {
	indexes map[string]*index.Index
	market  *market.Market
	log     *logrus.Logger
}

func newServer(indexes map[string]*index.Index, mkt *market.Market, log *logrus.Logger) *server {
	return &server{indexes: indexes, market: mkt, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/indexes", s.handleListIndexes)
	mux.HandleFunc("GET /api/indexes/{id}/price", s.handlePrice)
	mux.HandleFunc("GET /api/indexes/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/indexes/{id}/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/market", s.handleMarket)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type indexSummary struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

func (s *server) handleListIndexes(w http.ResponseWriter, _ *http.Request) {
	out := make([]indexSummary, 0, len(s.indexes))
	for id, ix := range s.indexes {
		md := ix.Metadata()
		row := indexSummary{ID: id, State: md.State.String()}
		if !md.LastRefresh.IsZero() {
			t := md.LastRefresh
			row.LastRefresh = &t
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"indexes": out})
}

func (s *server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, err := ix.CurrentPrice(r.Context(), queryOpts(r)...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.lookup(w, r)
	if !ok {
		return
	}
	rng, err := parseRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := ix.History(r.Context(), rng, queryOpts(r)...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, err := analytics.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var params analytics.Params
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "window must be a positive integer")
			return
		}
		params.Window = n
	}
	if r.URL.Query().Get("from") != "" || r.URL.Query().Get("to") != "" {
		rng, err := parseRange(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Range = rng
	}
	res, err := ix.Analytics(r.Context(), kind, params, queryOpts(r)...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type marketResponse struct {
	Name      string           `json:"name"`
	OpenTime  string           `json:"open_time"`
	CloseTime string           `json:"close_time"`
	Currency  string           `json:"currency"`
	Companies []market.Company `json:"companies"`
}

// handleMarket serves the index description: trading hours, currency and
// constituents. Supports ?q= substring filtering and ?ticker= exact lookup.
func (s *server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		writeJSONError(w, http.StatusNotFound, "no market description configured")
		return
	}
	companies := s.market.Companies()
	if t := r.URL.Query().Get("ticker"); t != "" {
		c, ok := s.market.ByTicker(t)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown ticker "+t)
			return
		}
		companies = []market.Company{c}
	} else if q := r.URL.Query().Get("q"); q != "" {
		companies = s.market.ByName(q)
	}
	writeJSON(w, http.StatusOK, marketResponse{
		Name:      s.market.Name(),
		OpenTime:  s.market.OpenTime(),
		CloseTime: s.market.CloseTime(),
		Currency:  s.market.Currency(),
		Companies: companies,
	})
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*index.Index, bool) {
	id := r.PathValue("id")
	ix, ok := s.indexes[id]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown index "+id)
		return nil, false
	}
	return ix, true
}

// queryOpts maps ?nowait=1 onto the facade's non-blocking mode.
func queryOpts(r *http.Request) []index.QueryOption {
	switch r.URL.Query().Get("nowait") {
	case "1", "true", "yes":
		return []index.QueryOption{index.NoWait()}
	}
	return nil
}

func parseRange(r *http.Request) (quote.Range, error) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		return quote.Range{}, errors.New("from must be RFC3339 or YYYY-MM-DD")
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		return quote.Range{}, errors.New("to must be RFC3339 or YYYY-MM-DD")
	}
	return quote.NewRange(from, to)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// writeError maps domain errors onto HTTP statuses. Upstream failures are
// gateway errors; an empty store in non-blocking mode is a 404.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var rl *source.RateLimitError
	switch {
	case errors.Is(err, index.ErrNoData), errors.Is(err, source.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analytics.ErrInsufficientData), errors.Is(err, analytics.ErrEmptyRange):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", rl.RetryAfter.Round(time.Second).String())
		}
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, source.ErrRateLimited):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, source.ErrUnreachable), errors.Is(err, source.ErrTimeout), errors.Is(err, source.ErrMalformedData):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.WithError(err).Error("unhandled query error")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
