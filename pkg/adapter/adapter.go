// Package adapter defines the lifecycle shared by the network servers the
// gateway runs.
package adapter

import (
	"context"
)

// Adapter is a network server exposing one or more RPC programs.
//
// Serve blocks until ctx is cancelled or Stop is called, then drains
// in-flight work. Stop may be called concurrently with Serve and more than
// once.
type Adapter interface {
	// Serve binds the listeners and serves until shutdown.
	Serve(ctx context.Context) error

	// Stop initiates a graceful shutdown bounded by ctx.
	Stop(ctx context.Context) error

	// Protocol names the adapter in logs, e.g. "NFS" or "portmap".
	Protocol() string

	// Port is the bound port, or the configured one before Serve.
	Port() int
}
