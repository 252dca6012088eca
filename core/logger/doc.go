// Package logger provides a structured logging facility based on Zap.
//
// It offers a configured logger instance that supports different environments
// (development vs production) and integrates with the Fiber web framework.
//
// # Correlation
//
// The WithRayID helper extracts the RayID (request id) from a Fiber context and
// attaches it to the log entry so that all logs of one request can be correlated.
// WithBatchID does the same for background batch processing, where the unit of
// correlation is the sync batch rather than an HTTP request.
package logger
