// Package logging provides structured logging for Studio Core.
//
// It wraps log/slog. Production deployments use the JSON handler so that
// entries can be shipped to a collector; the text handler is for a terminal.
//
// Logging is configured via the logging section of the config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Device adapters receive a child logger from Device so that every line
// names the unit it came from:
//
//	logger := logging.New(cfg.Logging, version)
//	vmixLog := logger.Device("vmix", "Main")
//	vmixLog.Info("connected")
//
// Never log device passwords or broker credentials.
package logging
