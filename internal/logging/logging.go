// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the logging surface of the application config.
type Config struct {
	Level string `yaml:"level"` // debug, info, warn, error
	// File enables rotated file output when set; stdout is used otherwise.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// New builds a JSON-formatted logrus logger per cfg. LOG_LEVEL overrides
// the configured level.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()

	levelStr := cfg.Level
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		levelStr = v
	}
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
	}
	log.SetOutput(out)
	return log
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
