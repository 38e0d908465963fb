package core

import (
	"context"
	"time"

	"github.com/hupe1980/agenttown/logging"
)

// TickContext carries the per-tick scope of one agent decision: the
// cancellation context, the agent, the perception gathered for the tick and
// a logger pre-bound to the agent.
type TickContext struct {
	Context    context.Context
	TickID     string
	Agent      *Agent
	Perception Perception
	StartedAt  time.Time

	*loggerAdapter
}

// NewTickContext creates a tick scope with a fresh id.
func NewTickContext(ctx context.Context, agent *Agent, logger logging.Logger) *TickContext {
	tc := &TickContext{
		Context:       ctx,
		TickID:        NewID(),
		Agent:         agent,
		StartedAt:     time.Now(),
		loggerAdapter: newLoggerAdapter(logger),
	}
	tc.bind("agent_id", agent.ID, "tick_id", tc.TickID)
	return tc
}

// Elapsed returns the time since the tick started.
func (tc *TickContext) Elapsed() time.Duration {
	return time.Since(tc.StartedAt)
}

// loggerAdapter guarantees a non-nil logger and prefixes every record with
// the agent and tick identifiers.
type loggerAdapter struct {
	logger logging.Logger
	attrs  []any
}

func newLoggerAdapter(l logging.Logger) *loggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &loggerAdapter{logger: l}
}

// Logger returns the underlying logger.
func (l *loggerAdapter) Logger() logging.Logger {
	return l.logger
}

// bind attaches attributes emitted with every subsequent call.
func (l *loggerAdapter) bind(args ...any) {
	l.attrs = append(l.attrs, args...)
}

func (l *loggerAdapter) with(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

// LogDebug logs a debug message.
func (l *loggerAdapter) LogDebug(msg string, args ...any) {
	l.logger.Debug(msg, l.with(args)...)
}

// LogInfo logs an info message.
func (l *loggerAdapter) LogInfo(msg string, args ...any) {
	l.logger.Info(msg, l.with(args)...)
}

// LogWarn logs a warning message.
func (l *loggerAdapter) LogWarn(msg string, args ...any) {
	l.logger.Warn(msg, l.with(args)...)
}

// LogError logs an error message.
func (l *loggerAdapter) LogError(msg string, args ...any) {
	l.logger.Error(msg, l.with(args)...)
}
