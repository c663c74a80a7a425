// Package observability provides structured logging and Prometheus metrics
// for the conversion engine.
package observability

import "log/slog"

const defaultServiceName = "ac2git"

// Config holds logging and metrics configuration.
type Config struct {
	// ServiceName labels the log/metrics source. Defaults to "ac2git".
	ServiceName string

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON enables JSON-formatted log output; text handler otherwise.
	LogJSON bool

	// MetricsAddr, if non-empty, is the address the Prometheus /metrics
	// endpoint is served on (e.g. ":9090"). Empty disables the endpoint.
	MetricsAddr string
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName: defaultServiceName,
		LogLevel:    slog.LevelInfo,
	}
}
