package handlers

import (
	"context"

	"github.com/marmos91/nfs3gw/pkg/export"
)

// NFSHandlerContext is the per-call context shared by all procedures.
type NFSHandlerContext struct {
	// Context carries cancellation from the connection and server.
	Context context.Context

	// ClientAddr is the remote address, used for logging.
	ClientAddr string

	// AuthFlavor is the credential flavor of the call.
	AuthFlavor uint32

	// UID, GID and GIDs come from AUTH_SYS credentials. They are nil for
	// other flavors.
	UID  *uint32
	GID  *uint32
	GIDs []uint32

	// Access is the export privilege of the client address.
	Access export.Access
}

func (c *NFSHandlerContext) canRead() bool {
	return c.Access >= export.ReadOnly
}

func (c *NFSHandlerContext) canWrite() bool {
	return c.Access >= export.ReadWrite
}

func (c *NFSHandlerContext) isRoot() bool {
	return c.UID != nil && *c.UID == 0
}

func (c *NFSHandlerContext) cancelled() bool {
	return c.Context.Err() != nil
}

// NFSResponseBase is embedded in every response. Status is always the
// first field on the wire.
type NFSResponseBase struct {
	Status uint32
}

// GetStatus returns the nfsstat3 of the response.
func (r *NFSResponseBase) GetStatus() uint32 {
	return r.Status
}

func statusOf(status uint32) NFSResponseBase {
	return NFSResponseBase{Status: status}
}
