// Package logging provides structured logging for fsanet.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and its libraries.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for bench work (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	client.SetLogger(logger.Component("fsa"))
//	logger.Info("actuators registered", "count", 12)
//
// Actuator exchanges are on the hot path: successful exchanges are not
// logged, timeouts are logged at warn, malformed replies at error.
package logging
