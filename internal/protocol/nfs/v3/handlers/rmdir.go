package handlers

import (
	"fmt"

	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// DecodeRmdirRequest decodes RMDIR3args, which has the layout of
// REMOVE3args.
func DecodeRmdirRequest(data []byte) (*RemoveRequest, error) {
	what, err := nfsxdr.ReadDirOpArgs(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode RMDIR: %w", err)
	}
	return &RemoveRequest{What: what}, nil
}

// Rmdir removes an empty directory (RFC 1813 Section 3.3.13).
func (h *Handler) Rmdir(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	return h.unlink(ctx, "RMDIR", req, true)
}
