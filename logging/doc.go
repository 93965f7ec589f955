// Package logging provides a minimal logging interface and a slog backed
// implementation used across convoflow.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// the processor, scheduler and tracker stores log through. This package
// includes:
//
//   - Logger interface for dependency injection
//   - ConversationLogger, a slog logger carrying sender and message ids
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	agent := convoflow.New(d, func(o *convoflow.Options) { o.Logger = logger })
package logging
