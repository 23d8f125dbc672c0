package main

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"indexprovider/internal/config"
	"indexprovider/internal/httpx"
	"indexprovider/internal/index"
	"indexprovider/internal/logging"
	"indexprovider/internal/market"
	"indexprovider/internal/source"
	"indexprovider/internal/source/bmeapi"
	"indexprovider/internal/source/ratelimit"
	"indexprovider/internal/source/retry"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	log := logging.New(cfg.Logging)

	if cfg.BME.Enabled && cfg.BME.APIKey == "" {
		log.Warn("bme.enabled=true but BME_API_KEY not set")
	}

	var mkt *market.Market
	if cfg.MarketFile != "" {
		mkt, err = market.Load(cfg.MarketFile)
		if err != nil {
			log.Fatalf("market file %s: %v", cfg.MarketFile, err)
		}
	}

	indexes, err := buildIndexes(cfg, log)
	if err != nil {
		log.Fatalf("indexes: %v", err)
	}
	if len(indexes) == 0 {
		log.Fatal("no indexes configured")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(newServer(indexes, mkt, log).routes()))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("server stopped")
}

// buildIndexes wires one Index per configured ID against the BME adapter,
// wrapped with retry and rate limiting as configured.
func buildIndexes(cfg config.Config, log *logrus.Logger) (map[string]*index.Index, error) {
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	bme := bmeapi.New(bmeapi.Config{
		Name:     "BME",
		URL:      cfg.BME.Endpoint,
		APIKey:   cfg.BME.APIKey,
		IndexMap: cfg.BME.IndexMap,
	}, httpClient)

	var src source.IndexDataSource = bme
	src = retry.New(src, retry.Config{
		MaxAttempts: cfg.BME.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BME.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.BME.Retry.MaxDelayMS) * time.Millisecond,
		Multiplier:  cfg.BME.Retry.Multiplier,
	})
	if cfg.BME.MaxRequestsPerMinute > 0 {
		src = ratelimit.New(src, cfg.BME.MaxRequestsPerMinute, cfg.BME.Burst)
	} else if cfg.BME.MinRequestIntervalSec > 0 {
		src = &ratelimit.MinInterval{
			S:        src,
			Interval: time.Duration(cfg.BME.MinRequestIntervalSec) * time.Second,
		}
	}

	tolerance, err := cfg.Tolerance()
	if err != nil {
		return nil, err
	}

	indexes := make(map[string]*index.Index, len(cfg.Indexes))
	for _, id := range cfg.Indexes {
		ix, err := index.New(id, src,
			index.WithMaxAge(time.Duration(cfg.Freshness.MaxAgeSec)*time.Second),
			index.WithRefreshTimeout(time.Duration(cfg.Freshness.RefreshTimeoutSec)*time.Second),
			index.WithRetention(time.Duration(cfg.Freshness.RetentionDays)*24*time.Hour),
			index.WithBackfill(time.Duration(cfg.Freshness.BackfillDays)*24*time.Hour),
			index.WithTolerance(tolerance),
			index.WithDefaultWindow(cfg.Analytics.DefaultWindow),
			index.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		indexes[id] = ix
	}
	return indexes, nil
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
