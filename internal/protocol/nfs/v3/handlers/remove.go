package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// RemoveRequest is REMOVE3args, also used for RMDIR3args.
type RemoveRequest struct {
	What nfsxdr.DirOpArgs
}

// RemoveResponse is REMOVE3res, also used for RMDIR3res.
type RemoveResponse struct {
	NFSResponseBase
	DirWcc types.WccData
}

// DecodeRemoveRequest decodes REMOVE3args.
func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	what, err := nfsxdr.ReadDirOpArgs(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode REMOVE: %w", err)
	}
	return &RemoveRequest{What: what}, nil
}

// Encode encodes REMOVE3res.
func (resp *RemoveResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(256)
	w.WriteUint32(resp.Status)
	nfsxdr.WriteWccData(w, resp.DirWcc)
	return w.Bytes(), nil
}

// Remove unlinks a non-directory entry (RFC 1813 Section 3.3.12).
// Buffered writes of the removed file are discarded.
func (h *Handler) Remove(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	return h.unlink(ctx, "REMOVE", req, false)
}

// unlink implements REMOVE and RMDIR, which differ only in the store call.
func (h *Handler) unlink(ctx *NFSHandlerContext, proc string, req *RemoveRequest, dir bool) (*RemoveResponse, error) {
	logger.Info("%s: name='%s' dir=%x client=%s auth=%d", proc, req.What.Name, req.What.Dir, ctx.ClientAddr, ctx.AuthFlavor)

	// ===== Step 1: directory attributes and access =====

	dirID, err := req.What.Dir.FileID()
	if err != nil {
		return &RemoveResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	unlock := h.locks.lock(dirID)
	defer unlock()

	dirInfo, err := h.getAttr(ctx.Context, dirID)
	if err != nil {
		if ctx.cancelled() {
			return &RemoveResponse{NFSResponseBase: statusOf(types.NFS3ErrIO)}, ctx.Context.Err()
		}
		return &RemoveResponse{NFSResponseBase: statusOf(nfsStatus(err, proc, ctx.ClientAddr))}, nil
	}
	pre := h.toFileAttr(dirInfo)

	if !ctx.canWrite() {
		logger.Warn("%s denied: name='%s' client=%s access=%s", proc, req.What.Name, ctx.ClientAddr, ctx.Access)
		return &RemoveResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces), DirWcc: wccOf(pre, pre)}, nil
	}

	// ===== Step 2: remove =====

	var removed uint64
	if target, err := h.store.Lookup(ctx.Context, dirID, req.What.Name); err == nil {
		removed = target.ID
	}

	if dir {
		err = h.store.Rmdir(ctx.Context, dirID, req.What.Name)
	} else {
		err = h.store.Remove(ctx.Context, dirID, req.What.Name)
	}
	if err != nil {
		status := nfsStatus(err, proc, ctx.ClientAddr)
		return &RemoveResponse{NFSResponseBase: statusOf(status), DirWcc: wccOf(pre, h.postOpAttr(ctx.Context, dirID))}, nil
	}

	if removed != 0 && !dir {
		h.writes.Forget(removed)
	}

	logger.Info("%s successful: name='%s' dir=%x client=%s", proc, req.What.Name, req.What.Dir, ctx.ClientAddr)
	return &RemoveResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		DirWcc:          wccOf(pre, h.postOpAttr(ctx.Context, dirID)),
	}, nil
}
