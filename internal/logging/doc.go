// Package logging provides structured logging for nettrace capture sessions.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Every capture session, connection and channel gets a
// child logger so a single log file from a multi-peer test run can be
// filtered per participant afterwards.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (session ID, connection, channel)
//   - Size-based log rotation through lumberjack
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessionLogger := logger.WithSession(id).WithConnection("DOCKER_CONE_CLIENT_1")
//	sessionLogger.Info("capture ready", "interfaces", "any")
package logging
