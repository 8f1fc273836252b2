// Package logging provides structured logging for the Autelis bridge.
//
// It wraps log/slog with JSON or text output and attaches the service name
// and version to every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("engine").Info("poll completed", "nodes", 12)
//
// Never log the appliance password or broker credentials.
package logging
