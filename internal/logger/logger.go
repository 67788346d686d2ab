package logger

import (
	"log/slog"
	"os"
)

// New builds the process-wide logger. Prod emits JSON for the log
// pipeline; everything else gets text at debug for local work.
func New(env string) *slog.Logger {
	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h).With("service", "afyalink-api")
}