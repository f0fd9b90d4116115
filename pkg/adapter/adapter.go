// Package adapter defines the lifecycle contract of the network listeners run
// by the cloudstore server (the REST API and the metrics endpoint).
package adapter

import (
	"context"
)

// Adapter is a network listener whose lifecycle is managed by server.Server.
//
// Lifecycle:
//  1. Creation: the adapter is built with its handler and configuration
//  2. Startup: Serve() binds the listener and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with a deadline
//
// Thread safety:
// Stop() may be called concurrently with Serve() and more than once.
type Adapter interface {
	// Serve binds the listener and blocks until ctx is cancelled or the
	// listener fails.
	//
	// When ctx is cancelled, Serve shuts down gracefully: it stops accepting
	// connections, waits for in-flight requests (bounded by its own shutdown
	// timeout) and returns nil.
	//
	// If Serve returns an error before ctx is cancelled, the server treats it
	// as fatal and stops every other adapter.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. It must be idempotent and respect the
	// deadline of ctx.
	Stop(ctx context.Context) error

	// Protocol returns the name used in logs, e.g. "HTTP API" or "metrics".
	Protocol() string

	// Port returns the TCP port the adapter listens on.
	Port() int
}
