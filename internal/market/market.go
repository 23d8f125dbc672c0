// Package market carries the reference data for an index: market metadata
// (name, trading hours, currency) and the constituent companies keyed by
// ticker. It is static composition data, not quote data; composition
// changes are handled by building a new Market.
package market

import (
	"fmt"
	"sort"
	"strings"
)

// Company describes one constituent of an index.
//
// ExtraID holds a national registry identifier where one exists; for
// Spanish listings that is the NIF. Companies registered elsewhere that are
// still part of an Ibex index leave it empty.
type Company struct {
	FullName string `yaml:"full_name,omitempty" json:"full_name,omitempty"`
	Name     string `yaml:"name" json:"name"`
	Ticker   string `yaml:"ticker" json:"ticker"`
	ISIN     string `yaml:"isin" json:"isin"`
	ExtraID  string `yaml:"extra_id,omitempty" json:"extra_id,omitempty"`
}

func (c Company) String() string { return fmt.Sprintf("%s: %s", c.Ticker, c.Name) }

// Market is a container of companies that belong to one index at the
// moment of construction. Lookups are read-only; a Market never mutates
// after New returns.
type Market struct {
	name      string
	openTime  string // UTC, HH:MM:SS
	closeTime string
	currency  string // ISO 4217
	companies map[string]Company
}

// New builds a Market from its metadata and constituents. It does not
// validate that the companies really belong to the index; the caller
// supplies a composition it trusts.
func New(name, openTime, closeTime, currency string, companies []Company) *Market {
	m := &Market{
		name:      name,
		openTime:  openTime,
		closeTime: closeTime,
		currency:  currency,
		companies: make(map[string]Company, len(companies)),
	}
	for _, c := range companies {
		if c.Ticker != "" {
			m.companies[c.Ticker] = c
		}
	}
	return m
}

// Ibex35 builds the BME Ibex35 index descriptor: open 08:00:00 UTC, close
// 16:30:00 UTC, quoted in EUR.
func Ibex35(companies []Company) *Market {
	return New("BME Ibex35 Index", "08:00:00", "16:30:00", "EUR", companies)
}

func (m *Market) Name() string      { return m.name }
func (m *Market) OpenTime() string  { return m.openTime }
func (m *Market) CloseTime() string { return m.closeTime }
func (m *Market) Currency() string  { return m.currency }

// Tickers lists the constituent tickers, sorted.
func (m *Market) Tickers() []string {
	out := make([]string, 0, len(m.companies))
	for t := range m.companies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Companies returns all constituents, sorted by ticker.
func (m *Market) Companies() []Company {
	out := make([]Company, 0, len(m.companies))
	for _, t := range m.Tickers() {
		out = append(out, m.companies[t])
	}
	return out
}

// ByTicker looks a company up by exact ticker. Partial tickers do not match.
func (m *Market) ByTicker(ticker string) (Company, bool) {
	c, ok := m.companies[ticker]
	return c, ok
}

// ByName returns the companies whose name contains the given string,
// case-insensitively. An ambiguous name may match several.
func (m *Market) ByName(name string) []Company {
	needle := strings.ToLower(name)
	var out []Company
	for _, t := range m.Tickers() {
		c := m.companies[t]
		if strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(strings.ToLower(c.FullName), needle) {
			out = append(out, c)
		}
	}
	return out
}

func (m *Market) Len() int { return len(m.companies) }

func (m *Market) String() string { return m.name }
