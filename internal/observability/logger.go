package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger from Config: JSON or text
// handler writing to stderr, with "service" pre-attached to every record.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	return slog.New(handler.WithAttrs([]slog.Attr{slog.String("service", serviceName)}))
}
