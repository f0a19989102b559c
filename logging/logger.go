// Package logging provides a tiny abstraction over slog so the orchestration
// core can depend on a minimal interface while callers plug in any structured
// logger. A contextual wrapper adds session/component attributes plus
// domain helpers for tool and model calls.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the minimal structured logging interface used across the module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from an existing *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger { return &SlogAdapter{Logger: logger} }

// NewDefaultLogger creates a Logger backed by slog.Default().
func NewDefaultLogger() Logger { return NewSlogAdapter(slog.Default()) }

// Config configures construction of a ContextLogger.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info-level configuration.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// ContextLogger wraps slog.Logger with cheap contextual cloning helpers and
// domain convenience methods.
type ContextLogger struct {
	logger    *slog.Logger
	component string
	sessionID string
}

// New builds a ContextLogger from cfg (or defaults if nil). Unset fields
// fall back to the defaults individually, so a partial Config is safe.
func New(cfg *Config) *ContextLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &ContextLogger{logger: slog.New(handler), component: cfg.Component}
}

// WithComponent returns a copy bound to a logical component (scheduler,
// engine, pool, ...).
func (l *ContextLogger) WithComponent(c string) *ContextLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithSession returns a copy bound to a session identifier.
func (l *ContextLogger) WithSession(sessionID string) *ContextLogger {
	nl := *l
	nl.sessionID = sessionID
	return &nl
}

func (l *ContextLogger) attrs(extra []any) []any {
	args := make([]any, 0, len(extra)+4)
	if l.component != "" {
		args = append(args, "component", l.component)
	}
	if l.sessionID != "" {
		args = append(args, "session_id", l.sessionID)
	}
	return append(args, extra...)
}

// Debug logs at debug level.
func (l *ContextLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, l.attrs(args)...)
}

// Info logs at info level.
func (l *ContextLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.attrs(args)...)
}

// Warn logs at warn level.
func (l *ContextLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.attrs(args)...)
}

// Error logs at error level.
func (l *ContextLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.attrs(args)...)
}

// LogToolCall records execution details for one tool invocation.
func (l *ContextLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := l.attrs([]any{"tool_name", tool, "duration", dur, "success", success})
	if err != nil {
		args = append(args, "error", err.Error())
	}
	level := slog.LevelInfo
	msg := "tool execution completed"
	if !success {
		level = slog.LevelError
		msg = "tool execution failed"
	}
	l.logger.Log(context.Background(), level, msg, args...)
}

// LogModelCall records model call latency and success.
func (l *ContextLogger) LogModelCall(model string, dur time.Duration, err error) {
	args := l.attrs([]any{"model", model, "duration", dur})
	if err != nil {
		l.logger.Log(context.Background(), slog.LevelError, "model call failed", append(args, "error", err.Error())...)
		return
	}
	l.logger.Log(context.Background(), slog.LevelInfo, "model call completed", args...)
}

// NoOpLogger discards all log messages. Used as the default everywhere a
// Logger is optional.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NoOpLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NoOpLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NoOpLogger) Error(string, ...any) {}
