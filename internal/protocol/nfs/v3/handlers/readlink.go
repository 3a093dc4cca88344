package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// ReadLinkRequest is READLINK3args.
type ReadLinkRequest struct {
	Handle types.FileHandle
}

// ReadLinkResponse is READLINK3res.
type ReadLinkResponse struct {
	NFSResponseBase
	Attr   *types.FileAttr
	Target string
}

// DecodeReadLinkRequest decodes READLINK3args.
func DecodeReadLinkRequest(data []byte) (*ReadLinkRequest, error) {
	handle, err := nfsxdr.ReadFileHandle(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode READLINK: %w", err)
	}
	return &ReadLinkRequest{Handle: handle}, nil
}

// Encode encodes READLINK3res.
func (resp *ReadLinkResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(128 + len(resp.Target))
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	if resp.Status == types.NFS3OK {
		w.WriteString(resp.Target)
	}
	return w.Bytes(), nil
}

// ReadLink returns the target of a symbolic link (RFC 1813 Section 3.3.5).
// Targets longer than the read transfer limit are answered with
// NFS3ERR_IO.
func (h *Handler) ReadLink(ctx *NFSHandlerContext, req *ReadLinkRequest) (*ReadLinkResponse, error) {
	logger.Debug("READLINK: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if !ctx.canRead() {
		return &ReadLinkResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &ReadLinkResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &ReadLinkResponse{NFSResponseBase: statusOf(nfsStatus(err, "READLINK", ctx.ClientAddr))}, nil
	}
	attr := h.toFileAttr(info)

	if info.Type != store.TypeSymlink {
		logger.Debug("READLINK on non-symlink: fileid=%d type=%s", id, info.Type)
		return &ReadLinkResponse{NFSResponseBase: statusOf(types.NFS3ErrInval), Attr: attr}, nil
	}

	target, err := h.store.ReadSymlink(ctx.Context, id)
	if err != nil {
		return &ReadLinkResponse{NFSResponseBase: statusOf(nfsStatus(err, "READLINK", ctx.ClientAddr)), Attr: attr}, nil
	}

	if uint32(len(target)) > h.cfg.RTMax {
		logger.Warn("READLINK target exceeds rtmax: fileid=%d length=%d rtmax=%d", id, len(target), h.cfg.RTMax)
		return &ReadLinkResponse{NFSResponseBase: statusOf(types.NFS3ErrIO), Attr: attr}, nil
	}

	return &ReadLinkResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            attr,
		Target:          target,
	}, nil
}
