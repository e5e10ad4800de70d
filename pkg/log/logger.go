// Package log provides structured logging utilities for the SoloForge mining engine.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	// Parse log level
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	// Create base logger with service context
	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	// Add request ID if available
	if reqID := ctx.Value("request_id"); reqID != nil {
		logger = logger.With("request_id", reqID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithWorker returns a logger with worker-specific fields
func (l *Logger) WithWorker(workerID int) *Logger {
	return l.WithFields("worker_id", workerID)
}

// WithTemplate returns a logger with template-specific fields
func (l *Logger) WithTemplate(generation uint64, blockHeight int64) *Logger {
	return l.WithFields("generation", generation, "block_height", blockHeight)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Mining-specific logging helpers

// LogBlockFound logs a candidate that satisfied the difficulty target
func (l *Logger) LogBlockFound(generation, nonce uint64, digest string, blockHeight int64) {
	l.Info("block candidate found",
		"generation", generation,
		"nonce", nonce,
		"digest", digest,
		"block_height", blockHeight,
	)
}

// LogSubmissionOutcome logs the node's verdict on a submitted candidate
func (l *Logger) LogSubmissionOutcome(nonce uint64, status string, latencyMs float64) {
	l.Info("block submission outcome",
		"nonce", nonce,
		"status", status,
		"latency_ms", latencyMs,
	)
}

// LogHashrate logs an aggregated hash rate measurement
func (l *Logger) LogHashrate(hashesTried uint64, hashrate float64, workers int) {
	l.Info("hashrate",
		"hashes_tried", hashesTried,
		"hashrate_hps", hashrate,
		"workers", workers,
	)
}

// LogTemplateSwitch logs a work generation change
func (l *Logger) LogTemplateSwitch(generation uint64, blockHeight int64, prevHash string) {
	l.Info("new work published",
		"generation", generation,
		"block_height", blockHeight,
		"prev_hash", prevHash,
	)
}

// LogConnection logs node connection events
func (l *Logger) LogConnection(event, nodeAddr string) {
	l.Info("connection event",
		"event", event,
		"node_addr", nodeAddr,
	)
}
