// Package logging provides structured logging for the Gray Logic poller.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields and format.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	engine.SetLogger(logger.Component("engine"))
//
// Never log the engine credential or broker passwords.
package logging
