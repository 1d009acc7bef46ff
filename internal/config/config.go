package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "faultline.db"

	envListenAddr = "FAULTLINE_LISTEN_ADDR"
	envDBPath     = "FAULTLINE_DB_PATH"
	envLogLevel   = "FAULTLINE_LOG_LEVEL"
	envDevices    = "FAULTLINE_DEVICES"
	envFailRate   = "FAULTLINE_FAIL_RATE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Devices is the default device pool size for submitted runs.
	// Zero means auto-detect from the host CPU topology.
	Devices int

	// FailRate is the default injected failure probability for runs
	// that do not specify one. Zero disables injection.
	FailRate float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDevices); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Devices = n
		}
	}
	if v := os.Getenv(envFailRate); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.FailRate = f
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
