package handlers

import (
	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
)

// NullRequest has no arguments.
type NullRequest struct{}

// NullResponse has no results.
type NullResponse struct{}

// GetStatus reports NFS3_OK: NULL cannot fail.
func (resp *NullResponse) GetStatus() uint32 {
	return types.NFS3OK
}

// DecodeNullRequest ignores any argument bytes.
func DecodeNullRequest(data []byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Encode returns an empty body.
func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}

// Null answers NFSPROC3_NULL (RFC 1813 Section 3.3.0). Clients use it to
// probe the server, so it neither checks credentials nor touches the store.
func (h *Handler) Null(ctx *NFSHandlerContext, req *NullRequest) (*NullResponse, error) {
	logger.Debug("NULL: client=%s", ctx.ClientAddr)
	return &NullResponse{}, nil
}
