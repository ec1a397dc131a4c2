package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/SaurabhJain708/formbricks/pkg/telemetry"
)

type Config struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`  // debug, info, warn, error
	Format string `envconfig:"LOG_FORMAT" default:"json"` // json, console
	// Service is attached to every record.
	Service string `envconfig:"SERVICE_NAME" default:"formbricks-auditd"`
}

// New builds the process logger. Operational logs only; audit entries go
// through their own sink.
func New(cfg Config, opts ...telemetry.Option) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout, opts...)
}

func NewWithWriter(cfg Config, w io.Writer, opts ...telemetry.Option) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "console" {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(telemetry.NewOTelHandler(handler, opts...))
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
