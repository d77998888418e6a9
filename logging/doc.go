// Package logging provides a minimal logging interface and adapters for GeminiKit.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the client, stream decoder and chat sessions use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - KitLogger with contextual helpers (component, session, turn)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	client := gemini.NewClient(apiKey, func(o *gemini.ClientOptions) {
//		o.Logger = logger
//	})
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
