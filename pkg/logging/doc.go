// Package logging provides a structured logging system for toolgate built on
// Go's standard slog package.
//
// All log entries carry a subsystem identifier so that output from the OAuth
// service, the transport router, and the stores can be filtered independently:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//
//	logging.Info("OAuth", "Issued access token for client %s", clientID)
//	logging.Debug("Transport", "Replayed %d events after %s", n, lastEventID)
//	logging.Error("Router", err, "Failed to write response")
//
// Level filtering happens at the handler, so filtered-out messages cost no
// formatting work. The package is safe for concurrent use.
//
// Credentials must never appear verbatim in logs; use TruncateToken when a
// token value is needed for correlation.
package logging
