// Package server runs the service's network servers with a unified
// start and graceful shutdown lifecycle.
package server

import "context"

// Lifecycle defines the lifecycle interface for servers.
type Lifecycle interface {
	// Start starts the server. It returns once the server is accepting
	// connections, or with the error that prevented it.
	Start(ctx context.Context) error
	// Stop stops the server gracefully.
	Stop(ctx context.Context) error
}

// Runnable represents a component that can be started and stopped.
type Runnable interface {
	Lifecycle
	// Name returns the server name for identification.
	Name() string
}

// Failer is implemented by servers that can fail after Start returned.
type Failer interface {
	// Err delivers at most one error when the server stops unexpectedly.
	Err() <-chan error
}
