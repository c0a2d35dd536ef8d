package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress non-error output
}

// Logger wraps slog.Logger with secure logging practices
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new secure logger instance
func NewLogger(config Config) *Logger {
	// Set default output to stderr if not specified
	if config.Output == nil {
		config.Output = os.Stderr
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	case FormatText:
		handler = slog.NewTextHandler(config.Output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// convertLogLevel converts our LogLevel to slog.Level
func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelError:
		return slog.LevelError
	case LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// Debug logs a diagnostic message
func (l *Logger) Debug(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return // Suppress non-error output in quiet mode
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// InfoContext logs an informational message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	if l.config.Quiet {
		return // Suppress non-error output in quiet mode
	}
	l.logger.InfoContext(ctx, msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

// LogSessionOpen logs session establishment securely
func (l *Logger) LogSessionOpen(endpoint, principal, version string, duration time.Duration) {
	l.Info("session established",
		"endpoint", endpoint,
		"principal", principal,
		"reported_version", version,
		"duration_ms", duration.Milliseconds(),
		// Note: Never log credentials or session tokens
	)
}

// LogSessionOpenError logs session establishment failures securely
func (l *Logger) LogSessionOpenError(endpoint string, err error, attempt int) {
	l.Error("session establishment failed",
		"endpoint", endpoint,
		"error", err.Error(),
		"attempt", attempt,
		// Note: Never log credentials or session tokens
	)
}

// LogSessionClose logs session teardown
func (l *Logger) LogSessionClose(endpoint string) {
	l.Info("session closed",
		"endpoint", endpoint,
	)
}

// LogSessionCloseError logs session teardown failures
func (l *Logger) LogSessionCloseError(endpoint string, err error) {
	l.Error("session close failed",
		"endpoint", endpoint,
		"error", err.Error(),
	)
}

// LogNoSession logs a disconnect request for an endpoint with no active session
func (l *Logger) LogNoSession(endpoint string) {
	l.Info("no active session for endpoint, nothing to disconnect",
		"endpoint", endpoint,
	)
}

// LogVersionGate logs the outcome of the minimum-version check
func (l *Logger) LogVersionGate(endpoint, version, minimum string, admitted bool) {
	l.Info("version gate evaluated",
		"endpoint", endpoint,
		"reported_version", version,
		"minimum_version", minimum,
		"admitted", admitted,
	)
}

// LogTaskStart logs the start of the remote operation on a target
func (l *Logger) LogTaskStart(endpoint string) {
	l.Info("capability discovery started",
		"endpoint", endpoint,
	)
}

// LogTaskComplete logs the terminal state of the remote operation
func (l *Logger) LogTaskComplete(endpoint, state string, duration time.Duration) {
	l.Info("capability discovery finished",
		"endpoint", endpoint,
		"state", state,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogTaskError logs remote operation failures
func (l *Logger) LogTaskError(endpoint string, err error) {
	l.Error("capability discovery failed",
		"endpoint", endpoint,
		"error", err.Error(),
	)
}

// LogTaskPayload logs the raw task result at diagnostic verbosity only
func (l *Logger) LogTaskPayload(endpoint, state, payload string) {
	l.Debug("task result payload",
		"endpoint", endpoint,
		"state", state,
		"payload", payload,
	)
}

// LogCredentialResolved logs successful credential resolution
func (l *Logger) LogCredentialResolved(realm, username string) {
	l.Info("credential resolved",
		"realm", realm,
		"username", username,
		// Note: Never log the secret
	)
}

// LogDiscovery logs target discovery information
func (l *Logger) LogDiscovery(source string, count int) {
	l.Info("targets discovered",
		"source", source,
		"count", count,
	)
}

// LogDiscoveryError logs target discovery errors
func (l *Logger) LogDiscoveryError(source string, err error) {
	l.Error("target discovery failed",
		"source", source,
		"error", err.Error(),
	)
}

// LogHealthWarning logs a non-fatal grouping health warning
func (l *Logger) LogHealthWarning(grouping, health string) {
	l.Warn("workload domain reports an unhealthy status",
		"domain", grouping,
		"health", health,
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded",
		"source", source,
	)
}

// LogConfigError logs configuration errors
func (l *Logger) LogConfigError(source string, err error) {
	l.Error("configuration error",
		"source", source,
		"error", err.Error(),
	)
}

// LogRunStart logs the start of a run
func (l *Logger) LogRunStart(runID, mode string) {
	l.Info("run started",
		"run_id", runID,
		"mode", mode,
	)
}

// LogRunSummary logs the consolidated outcome of a run
func (l *Logger) LogRunSummary(runID string, total, unrestricted, restricted, unsupported, failed int, duration time.Duration) {
	l.Info("run completed",
		"run_id", runID,
		"target_count", total,
		"unrestricted", unrestricted,
		"restricted", restricted,
		"unsupported", unsupported,
		"failed", failed,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// IsQuiet returns whether the logger is in quiet mode
func (l *Logger) IsQuiet() bool {
	return l.config.Quiet
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool) *Logger {
	var level LogLevel
	switch logLevel {
	case "debug":
		level = LevelDebug
	case "error":
		level = LevelError
	case "info":
		level = LevelInfo
	default:
		level = LevelInfo // Default to info level
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		format = FormatText // Default to text format
	}

	config := Config{
		Level:  level,
		Format: format,
		Quiet:  quiet,
	}

	return NewLogger(config)
}
