// Package httpserver serves the recorder's metrics and session status over
// HTTP.
package httpserver

import "context"

// Server defines the interface for the status HTTP server.
type Server interface {
	// Start begins serving HTTP requests in a background goroutine and
	// returns immediately. Use Shutdown() to stop the server.
	Start()

	// Shutdown gracefully stops the server and releases resources.
	Shutdown() error

	// Run serves until ctx is done, then shuts down.
	Run(ctx context.Context) error
}
