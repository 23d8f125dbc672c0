package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"indexprovider/internal/logging"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// Freshness controls the per-index cache behavior.
type Freshness struct {
	MaxAgeSec         int `yaml:"max_age_sec"`
	RefreshTimeoutSec int `yaml:"refresh_timeout_sec"`
	RetentionDays     int `yaml:"retention_days"` // 0 disables eviction
	BackfillDays      int `yaml:"backfill_days"`  // how far the first refresh reaches back
	// PriceTolerance is the merge collision tolerance, as a decimal string.
	PriceTolerance string `yaml:"price_tolerance"`
}

type Analytics struct {
	DefaultWindow int `yaml:"default_window"`
}

type Retry struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms"`
	MaxDelayMS  int     `yaml:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
}

type BME struct {
	Enabled               bool              `yaml:"enabled"`
	Endpoint              string            `yaml:"endpoint"`
	APIKey                string            `yaml:"api_key"`
	IndexMap              map[string]string `yaml:"index_map"`
	MaxRequestsPerMinute  int               `yaml:"max_requests_per_minute"`
	Burst                 int               `yaml:"burst"`
	MinRequestIntervalSec int               `yaml:"min_request_interval_sec"`
	Retry                 Retry             `yaml:"retry"`
}

type Config struct {
	Server    Server         `yaml:"server"`
	Logging   logging.Config `yaml:"logging"`
	Freshness Freshness      `yaml:"freshness"`
	Analytics Analytics      `yaml:"analytics"`
	BME       BME            `yaml:"bme"`
	// Indexes lists the identifiers to expose, e.g. [IBEX35].
	Indexes []string `yaml:"indexes"`
	// MarketFile points at a YAML index description (constituents).
	MarketFile string `yaml:"market_file"`
}

// Tolerance parses the configured merge collision tolerance.
func (c Config) Tolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Freshness.PriceTolerance)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price_tolerance %q: %w", c.Freshness.PriceTolerance, err)
	}
	return d, nil
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Logging: logging.Config{
			Level: "info",
		},
		Freshness: Freshness{
			MaxAgeSec:         300,
			RefreshTimeoutSec: 10,
			RetentionDays:     0,
			BackfillDays:      30,
			PriceTolerance:    "0.01",
		},
		Analytics: Analytics{DefaultWindow: 20},
		BME: BME{
			Enabled:              true,
			MaxRequestsPerMinute: 30,
			Burst:                5,
			Retry: Retry{
				MaxAttempts: 3,
				BaseDelayMS: 250,
				MaxDelayMS:  5000,
				Multiplier:  2,
			},
		},
		Indexes: []string{"IBEX35"},
	}
}

// Load reads YAML config from path. If path is empty it falls back to
// config.yaml when that exists, otherwise defaults. Environment variables
// override select fields so secrets stay out of the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("BME_API_KEY"); v != "" {
		cfg.BME.APIKey = v
	}
	if v := os.Getenv("BME_ENDPOINT"); v != "" {
		cfg.BME.Endpoint = v
	}
	if v := os.Getenv("BME_MAX_RPM"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.BME.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("FRESHNESS_MAX_AGE_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Freshness.MaxAgeSec = x
		}
	}
	if v := os.Getenv("REFRESH_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Freshness.RefreshTimeoutSec = x
		}
	}
	if v := os.Getenv("PRICE_TOLERANCE"); v != "" {
		cfg.Freshness.PriceTolerance = v
	}
	if v := os.Getenv("INDEXES"); v != "" {
		cfg.Indexes = splitCSV(v)
	}
	if v := os.Getenv("MARKET_FILE"); v != "" {
		cfg.MarketFile = v
	}
}

func atoi(s string) int {
	var x int
	_, _ = fmt.Sscanf(s, "%d", &x)
	return x
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
