package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface used across agenttown.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// TownLogger wraps slog.Logger with component and agent context plus
// simulation specific helpers. With* methods return modified copies.
type TownLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]any
	component string
	agentID   string
	tickID    string
}

var _ Logger = (*TownLogger)(nil)

// LoggerConfig configures construction of a TownLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a TownLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *TownLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &TownLogger{logger: slog.New(handler), level: cfg.Level, context: map[string]any{}, component: cfg.Component}
}

// NewSlogLogger creates a TownLogger writing to stdout.
func NewSlogLogger(level LogLevel, format string, addSource bool) *TownLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *TownLogger) clone() *TownLogger {
	nl := *l
	nl.context = make(map[string]any, len(l.context))
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute attached to every log entry.
func (l *TownLogger) WithContext(key string, value any) *TownLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (scheduler, gateway, ...).
func (l *TownLogger) WithComponent(c string) *TownLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithAgent attaches agent and tick identifiers.
func (l *TownLogger) WithAgent(agentID, tickID string) *TownLogger {
	nl := l.clone()
	nl.agentID = agentID
	nl.tickID = tickID
	return nl
}

func (l *TownLogger) baseArgs() []any {
	args := make([]any, 0, len(l.context)+3)
	if l.component != "" {
		args = append(args, slog.String("component", l.component))
	}
	if l.agentID != "" {
		args = append(args, slog.String("agent_id", l.agentID))
	}
	if l.tickID != "" {
		args = append(args, slog.String("tick_id", l.tickID))
	}
	for k, v := range l.context {
		args = append(args, slog.Any(k, v))
	}
	return args
}

func (l *TownLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	l.logger.Log(context.Background(), level, msg, append(l.baseArgs(), args...)...)
}

// Debug logs at debug level.
func (l *TownLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *TownLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *TownLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *TownLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

func outcome(success bool, ok, failed string) (slog.Level, string) {
	if success {
		return slog.LevelInfo, ok
	}
	return slog.LevelError, failed
}

// LogInferenceCall records provider, model, attempts and latency of one
// gateway call.
func (l *TownLogger) LogInferenceCall(provider, model string, attempts int, dur time.Duration, err error) {
	level, msg := outcome(err == nil, "inference call completed", "inference call failed")
	if !l.allowed(level) {
		return
	}
	args := []any{slog.String("provider", provider), slog.String("model", model), slog.Int("attempts", attempts), slog.Duration("duration", dur)}
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	l.log(level, true, msg, args...)
}

// LogTick records the outcome of one agent decision tick. Fallback ticks are
// logged as warnings.
func (l *TownLogger) LogTick(agentID, action string, dur time.Duration, fallback bool, err error) {
	level, msg := slog.LevelInfo, "tick completed"
	if fallback {
		level, msg = slog.LevelWarn, "tick fell back"
	}
	if !l.allowed(level) {
		return
	}
	args := []any{slog.String("tick_agent", agentID), slog.String("action", action), slog.Duration("duration", dur), slog.Bool("fallback", fallback)}
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	l.log(level, true, msg, args...)
}

// LogTaskOutcome records the result of an executed task.
func (l *TownLogger) LogTaskOutcome(category, status string, dur time.Duration, err error) {
	level, msg := outcome(err == nil, "task executed", "task failed")
	if !l.allowed(level) {
		return
	}
	args := []any{slog.String("category", category), slog.String("status", status), slog.Duration("duration", dur)}
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	l.log(level, true, msg, args...)
}

func (l *TownLogger) allowed(level slog.Level) bool {
	return slogLevel(l.level) <= level
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
