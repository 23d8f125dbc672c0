// Command fetch runs one query against the configured upstream and prints
// the answer as JSON, for smoke-testing an endpoint before deploying the
// server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"indexprovider/internal/analytics"
	"indexprovider/internal/config"
	"indexprovider/internal/httpx"
	"indexprovider/internal/index"
	"indexprovider/internal/quote"
	"indexprovider/internal/source"
	"indexprovider/internal/source/bmeapi"
	"indexprovider/internal/source/ratelimit"
	"indexprovider/internal/source/retry"
)

func main() {
	var (
		indexID    string
		fromStr    string
		toStr      string
		kindStr    string
		window     int
		configPath string
		timeout    int
	)

	flag.StringVar(&indexID, "index", getenv("INDEX", "IBEX35"), "index identifier")
	flag.StringVar(&fromStr, "from", "", "history range start (RFC3339 or YYYY-MM-DD); omit for current price")
	flag.StringVar(&toStr, "to", "", "history range end (RFC3339 or YYYY-MM-DD)")
	flag.StringVar(&kindStr, "kind", "", "analytics metric: simple_return, moving_average or volatility")
	flag.IntVar(&window, "window", 0, "analytics window (0 uses the configured default)")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml (optional)")
	flag.IntVar(&timeout, "timeout", 30, "overall timeout seconds")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	var src source.IndexDataSource = bmeapi.New(bmeapi.Config{
		Name:     "BME",
		URL:      cfg.BME.Endpoint,
		APIKey:   cfg.BME.APIKey,
		IndexMap: cfg.BME.IndexMap,
	}, httpClient)
	src = retry.New(src, retry.Config{
		MaxAttempts: cfg.BME.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BME.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.BME.Retry.MaxDelayMS) * time.Millisecond,
		Multiplier:  cfg.BME.Retry.Multiplier,
	})
	if cfg.BME.MaxRequestsPerMinute > 0 {
		src = ratelimit.New(src, cfg.BME.MaxRequestsPerMinute, cfg.BME.Burst)
	}

	tolerance, err := cfg.Tolerance()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	ix, err := index.New(indexID, src,
		index.WithMaxAge(time.Duration(cfg.Freshness.MaxAgeSec)*time.Second),
		index.WithRefreshTimeout(time.Duration(cfg.Freshness.RefreshTimeoutSec)*time.Second),
		index.WithBackfill(time.Duration(cfg.Freshness.BackfillDays)*24*time.Hour),
		index.WithTolerance(tolerance),
		index.WithDefaultWindow(cfg.Analytics.DefaultWindow),
	)
	if err != nil {
		logrus.Fatalf("index: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	var out any
	switch {
	case kindStr != "":
		kind, err := analytics.ParseKind(kindStr)
		if err != nil {
			logrus.Fatal(err)
		}
		params := analytics.Params{Window: window}
		if fromStr != "" && toStr != "" {
			params.Range = parseRange(fromStr, toStr)
		}
		out, err = ix.Analytics(ctx, kind, params)
		if err != nil {
			logrus.Fatal(err)
		}
	case fromStr != "" || toStr != "":
		out, err = ix.History(ctx, parseRange(fromStr, toStr))
		if err != nil {
			logrus.Fatal(err)
		}
	default:
		out, err = ix.CurrentPrice(ctx)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logrus.Fatalf("encode: %v", err)
	}
	fmt.Println(string(b))
}

func parseRange(fromStr, toStr string) quote.Range {
	from, err := parseTime(fromStr)
	if err != nil {
		logrus.Fatalf("from: %v", err)
	}
	to, err := parseTime(toStr)
	if err != nil {
		logrus.Fatalf("to: %v", err)
	}
	r, err := quote.NewRange(from, to)
	if err != nil {
		logrus.Fatal(err)
	}
	return r
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
