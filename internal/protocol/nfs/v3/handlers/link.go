package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// LinkRequest is LINK3args.
type LinkRequest struct {
	Handle types.FileHandle
	Link   nfsxdr.DirOpArgs
}

// LinkResponse is LINK3res.
type LinkResponse struct {
	NFSResponseBase
	Attr    *types.FileAttr
	LinkWcc types.WccData
}

// DecodeLinkRequest decodes LINK3args.
func DecodeLinkRequest(data []byte) (*LinkRequest, error) {
	r := xdr.NewReader(data)
	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode LINK: %w", err)
	}
	link, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode LINK target: %w", err)
	}
	return &LinkRequest{Handle: handle, Link: link}, nil
}

// Encode encodes LINK3res.
func (resp *LinkResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(256)
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	nfsxdr.WriteWccData(w, resp.LinkWcc)
	return w.Bytes(), nil
}

// Link refuses hard links (RFC 1813 Section 3.3.15): a file has exactly
// one parent in the store.
func (h *Handler) Link(ctx *NFSHandlerContext, req *LinkRequest) (*LinkResponse, error) {
	logger.Debug("LINK: handle=%x name='%s' client=%s: not supported", req.Handle, req.Link.Name, ctx.ClientAddr)

	resp := &LinkResponse{NFSResponseBase: statusOf(types.NFS3ErrNotSupp)}
	if !ctx.canRead() {
		return resp, nil
	}
	if id, err := req.Handle.FileID(); err == nil {
		resp.Attr = h.postOpAttr(ctx.Context, id)
	}
	if dirID, err := req.Link.Dir.FileID(); err == nil {
		attr := h.postOpAttr(ctx.Context, dirID)
		resp.LinkWcc = wccOf(attr, attr)
	}
	return resp, nil
}
