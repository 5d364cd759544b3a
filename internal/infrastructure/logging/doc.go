// Package logging provides structured logging for the FB BUS connector.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-only log file
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/fb-bus-connector.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	busLogger := logger.Component("connector")
//	busLogger.Info("device paired", "address", 3)
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
