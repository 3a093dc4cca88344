package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// AccessRequest is ACCESS3args.
type AccessRequest struct {
	Handle types.FileHandle
	Access uint32
}

// AccessResponse is ACCESS3res.
type AccessResponse struct {
	NFSResponseBase
	Attr   *types.FileAttr
	Access uint32
}

// DecodeAccessRequest decodes ACCESS3args.
func DecodeAccessRequest(data []byte) (*AccessRequest, error) {
	r := xdr.NewReader(data)
	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode ACCESS: %w", err)
	}
	access, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("decode ACCESS mask: %w", err)
	}
	return &AccessRequest{Handle: handle, Access: access}, nil
}

// Encode encodes ACCESS3res.
func (resp *AccessResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(128)
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	if resp.Status == types.NFS3OK {
		w.WriteUint32(resp.Access)
	}
	return w.Bytes(), nil
}

// Access reports which of the requested rights the caller holds
// (RFC 1813 Section 3.3.4). The superuser holds all of them; everyone
// else gets the bits granted by the mode for owner, group or other.
// Read-only exports never grant modification rights.
func (h *Handler) Access(ctx *NFSHandlerContext, req *AccessRequest) (*AccessResponse, error) {
	logger.Debug("ACCESS: handle=%x mask=0x%x client=%s", req.Handle, req.Access, ctx.ClientAddr)

	if !ctx.canRead() {
		return &AccessResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &AccessResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &AccessResponse{NFSResponseBase: statusOf(nfsStatus(err, "ACCESS", ctx.ClientAddr))}, nil
	}
	attr := h.toFileAttr(info)

	var granted uint32
	switch {
	case ctx.isRoot():
		granted = types.AccessAll
	case ctx.UID != nil && ctx.GID != nil:
		granted = accessBits(attr, *ctx.UID, *ctx.GID, ctx.GIDs)
	default:
		granted = accessBits(attr, nobody, nobody, nil)
	}
	if !ctx.canWrite() {
		granted &^= types.AccessModify | types.AccessExtend | types.AccessDelete
	}

	return &AccessResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            attr,
		Access:          req.Access & granted,
	}, nil
}
