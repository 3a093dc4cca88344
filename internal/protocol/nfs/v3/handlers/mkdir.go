package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// MkdirRequest is MKDIR3args.
type MkdirRequest struct {
	Where nfsxdr.DirOpArgs
	Attrs *types.SetAttrs
}

// DecodeMkdirRequest decodes MKDIR3args.
func DecodeMkdirRequest(data []byte) (*MkdirRequest, error) {
	r := xdr.NewReader(data)
	where, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode MKDIR: %w", err)
	}
	attrs, err := nfsxdr.ReadSetAttrs(r)
	if err != nil {
		return nil, fmt.Errorf("decode MKDIR attributes: %w", err)
	}
	return &MkdirRequest{Where: where, Attrs: attrs}, nil
}

// Mkdir creates a directory (RFC 1813 Section 3.3.9). MKDIR3res has the
// shape of CREATE3res.
func (h *Handler) Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*CreateResponse, error) {
	logger.Info("MKDIR: name='%s' dir=%x client=%s auth=%d", req.Where.Name, req.Where.Dir, ctx.ClientAddr, ctx.AuthFlavor)

	if req.Attrs.Size != nil {
		logger.Warn("MKDIR refused: size is not supported: name='%s'", req.Where.Name)
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrInval)}, nil
	}

	dirID, err := req.Where.Dir.FileID()
	if err != nil {
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	unlock := h.locks.lock(dirID)
	defer unlock()

	dirInfo, err := h.getAttr(ctx.Context, dirID)
	if err != nil {
		return &CreateResponse{NFSResponseBase: statusOf(nfsStatus(err, "MKDIR", ctx.ClientAddr))}, nil
	}
	pre := h.toFileAttr(dirInfo)

	if !ctx.canWrite() {
		logger.Warn("MKDIR denied: name='%s' client=%s access=%s", req.Where.Name, ctx.ClientAddr, ctx.Access)
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces), DirWcc: wccOf(pre, pre)}, nil
	}

	info, err := h.store.Mkdir(ctx.Context, dirID, req.Where.Name, h.newFile(ctx, req.Attrs, defaultDirMode))
	if err == nil {
		times := types.SetAttrs{Atime: req.Attrs.Atime, Mtime: req.Attrs.Mtime}
		err = h.applySetAttrs(ctx.Context, info.ID, &times)
	}
	if err != nil {
		status := nfsStatus(err, "MKDIR", ctx.ClientAddr)
		return &CreateResponse{NFSResponseBase: statusOf(status), DirWcc: wccOf(pre, h.postOpAttr(ctx.Context, dirID))}, nil
	}

	logger.Info("MKDIR successful: name='%s' fileid=%d client=%s", req.Where.Name, info.ID, ctx.ClientAddr)
	return &CreateResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Handle:          fileHandle(info.ID),
		Attr:            h.postOpAttr(ctx.Context, info.ID),
		DirWcc:          wccOf(pre, h.postOpAttr(ctx.Context, dirID)),
	}, nil
}
