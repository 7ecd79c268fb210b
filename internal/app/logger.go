package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process-wide slog.Logger. LOG_FORMAT=json selects
// the JSON handler for production; anything else gets text for local
// readability. Debug level follows non-production environments, where the
// per-request and gateway traffic logs are worth the noise.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
