package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// SymlinkRequest is SYMLINK3args.
type SymlinkRequest struct {
	Where  nfsxdr.DirOpArgs
	Attrs  *types.SetAttrs
	Target string
}

// DecodeSymlinkRequest decodes SYMLINK3args.
func DecodeSymlinkRequest(data []byte) (*SymlinkRequest, error) {
	r := xdr.NewReader(data)
	where, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode SYMLINK: %w", err)
	}
	attrs, err := nfsxdr.ReadSetAttrs(r)
	if err != nil {
		return nil, fmt.Errorf("decode SYMLINK attributes: %w", err)
	}
	target, err := nfsxdr.ReadPath(r)
	if err != nil {
		return nil, fmt.Errorf("decode SYMLINK target: %w", err)
	}
	return &SymlinkRequest{Where: where, Attrs: attrs, Target: target}, nil
}

// Symlink creates a symbolic link (RFC 1813 Section 3.3.10).
func (h *Handler) Symlink(ctx *NFSHandlerContext, req *SymlinkRequest) (*CreateResponse, error) {
	logger.Info("SYMLINK: name='%s' target='%s' dir=%x client=%s",
		req.Where.Name, req.Target, req.Where.Dir, ctx.ClientAddr)

	dirID, err := req.Where.Dir.FileID()
	if err != nil {
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	unlock := h.locks.lock(dirID)
	defer unlock()

	dirInfo, err := h.getAttr(ctx.Context, dirID)
	if err != nil {
		return &CreateResponse{NFSResponseBase: statusOf(nfsStatus(err, "SYMLINK", ctx.ClientAddr))}, nil
	}
	pre := h.toFileAttr(dirInfo)

	if !ctx.canWrite() {
		logger.Warn("SYMLINK denied: name='%s' client=%s access=%s", req.Where.Name, ctx.ClientAddr, ctx.Access)
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces), DirWcc: wccOf(pre, pre)}, nil
	}

	if req.Target == "" {
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrInval), DirWcc: wccOf(pre, pre)}, nil
	}

	info, err := h.store.CreateSymlink(ctx.Context, dirID, req.Where.Name, req.Target, h.newFile(ctx, req.Attrs, defaultSymlinkMode))
	if err != nil {
		status := nfsStatus(err, "SYMLINK", ctx.ClientAddr)
		return &CreateResponse{NFSResponseBase: statusOf(status), DirWcc: wccOf(pre, h.postOpAttr(ctx.Context, dirID))}, nil
	}

	logger.Info("SYMLINK successful: name='%s' fileid=%d client=%s", req.Where.Name, info.ID, ctx.ClientAddr)
	return &CreateResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Handle:          fileHandle(info.ID),
		Attr:            h.postOpAttr(ctx.Context, info.ID),
		DirWcc:          wccOf(pre, h.postOpAttr(ctx.Context, dirID)),
	}, nil
}
