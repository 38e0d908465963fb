// Package logging provides a minimal logging interface and adapters for agenttown.
//
// Every component accepts a Logger through its options and defaults to
// NoOpLogger. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping a *slog.Logger
//   - TownLogger, a slog backed logger with agent/component context and
//     helpers for inference calls, ticks and task outcomes
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	gw, err := inference.New(providers, func(o *inference.Options) { o.Logger = logger })
//
// Arguments after the message are slog style key/value pairs.
package logging
