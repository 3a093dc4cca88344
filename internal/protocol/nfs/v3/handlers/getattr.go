package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// GetAttrRequest is GETATTR3args.
type GetAttrRequest struct {
	Handle types.FileHandle
}

// GetAttrResponse is GETATTR3res. Attr is set only on success.
type GetAttrResponse struct {
	NFSResponseBase
	Attr *types.FileAttr
}

// DecodeGetAttrRequest decodes GETATTR3args.
func DecodeGetAttrRequest(data []byte) (*GetAttrRequest, error) {
	r := xdr.NewReader(data)
	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode GETATTR: %w", err)
	}
	return &GetAttrRequest{Handle: handle}, nil
}

// Encode encodes GETATTR3res.
func (resp *GetAttrResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(4 + nfsxdr.EncodedFileAttrSize)
	w.WriteUint32(resp.Status)
	if resp.Status == types.NFS3OK {
		nfsxdr.WriteFileAttr(w, resp.Attr)
	}
	return w.Bytes(), nil
}

// GetAttr returns the attributes of a file (RFC 1813 Section 3.3.1).
func (h *Handler) GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) (*GetAttrResponse, error) {
	logger.Debug("GETATTR: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if !ctx.canRead() {
		return &GetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &GetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		if ctx.cancelled() {
			return &GetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrIO)}, ctx.Context.Err()
		}
		return &GetAttrResponse{NFSResponseBase: statusOf(nfsStatus(err, "GETATTR", ctx.ClientAddr))}, nil
	}

	return &GetAttrResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            h.toFileAttr(info),
	}, nil
}
