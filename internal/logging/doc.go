// Package logging provides structured logging for the acond tools.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used across the client, the poller and the API server.
//
// # Log Levels
//
//   - Debug: device requests and responses, TLS parameters, raw page dumps
//   - Info: writes, refresh results, API requests, stream clients
//   - Warn: stale data, failed refreshes, dropped MQTT connections
//   - Error: startup failures, authentication failures
//
// # Configuration
//
// Logging is silent unless a level is given, either explicitly or through
// the ACOND_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize(level); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// ACOND_LOG_FORMAT=json switches from the colored console encoder to JSON.
// Logs go to stderr so that command output on stdout stays machine readable.
//
// # Device Logging
//
//	logging.LogDeviceRequest("GET", url)
//	logging.LogDeviceResponse("GET", url, 302, location, 0)
//	logging.LogRawBody("/PAGE115.XML", body)
//
// Passwords are never passed to the logger; use Redact when a configured
// secret has to be shown.
package logging
