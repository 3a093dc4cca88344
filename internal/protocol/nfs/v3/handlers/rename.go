package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// RenameRequest is RENAME3args.
type RenameRequest struct {
	From nfsxdr.DirOpArgs
	To   nfsxdr.DirOpArgs
}

// RenameResponse is RENAME3res.
type RenameResponse struct {
	NFSResponseBase
	FromWcc types.WccData
	ToWcc   types.WccData
}

// DecodeRenameRequest decodes RENAME3args.
func DecodeRenameRequest(data []byte) (*RenameRequest, error) {
	r := xdr.NewReader(data)
	from, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode RENAME source: %w", err)
	}
	to, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode RENAME target: %w", err)
	}
	return &RenameRequest{From: from, To: to}, nil
}

// Encode encodes RENAME3res.
func (resp *RenameResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(512)
	w.WriteUint32(resp.Status)
	nfsxdr.WriteWccData(w, resp.FromWcc)
	nfsxdr.WriteWccData(w, resp.ToWcc)
	return w.Bytes(), nil
}

// Rename moves an entry (RFC 1813 Section 3.3.14). Both directories are
// locked for the duration so each wcc_data brackets only this rename.
func (h *Handler) Rename(ctx *NFSHandlerContext, req *RenameRequest) (*RenameResponse, error) {
	logger.Info("RENAME: from='%s' dir=%x to='%s' dir=%x client=%s auth=%d",
		req.From.Name, req.From.Dir, req.To.Name, req.To.Dir, ctx.ClientAddr, ctx.AuthFlavor)

	fromID, err := req.From.Dir.FileID()
	if err != nil {
		return &RenameResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}
	toID, err := req.To.Dir.FileID()
	if err != nil {
		return &RenameResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	unlock := h.locks.lock(fromID, toID)
	defer unlock()

	// ===== Step 1: pre-operation attributes and access =====

	fromInfo, err := h.getAttr(ctx.Context, fromID)
	if err != nil {
		return &RenameResponse{NFSResponseBase: statusOf(nfsStatus(err, "RENAME", ctx.ClientAddr))}, nil
	}
	fromPre := h.toFileAttr(fromInfo)

	toInfo, err := h.getAttr(ctx.Context, toID)
	if err != nil {
		return &RenameResponse{
			NFSResponseBase: statusOf(nfsStatus(err, "RENAME", ctx.ClientAddr)),
			FromWcc:         wccOf(fromPre, fromPre),
		}, nil
	}
	toPre := h.toFileAttr(toInfo)

	if !ctx.canWrite() {
		logger.Warn("RENAME denied: client=%s access=%s", ctx.ClientAddr, ctx.Access)
		return &RenameResponse{
			NFSResponseBase: statusOf(types.NFS3ErrAcces),
			FromWcc:         wccOf(fromPre, fromPre),
			ToWcc:           wccOf(toPre, toPre),
		}, nil
	}

	// ===== Step 2: rename =====

	var replaced uint64
	if target, err := h.store.Lookup(ctx.Context, toID, req.To.Name); err == nil && !target.IsDir() {
		replaced = target.ID
	}
	moved, _ := h.store.Lookup(ctx.Context, fromID, req.From.Name)

	err = h.store.Rename(ctx.Context, fromID, req.From.Name, toID, req.To.Name)

	resp := &RenameResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		FromWcc:         wccOf(fromPre, h.postOpAttr(ctx.Context, fromID)),
		ToWcc:           wccOf(toPre, h.postOpAttr(ctx.Context, toID)),
	}
	if err != nil {
		resp.Status = nfsStatus(err, "RENAME", ctx.ClientAddr)
		return resp, nil
	}

	if replaced != 0 && (moved == nil || moved.ID != replaced) {
		h.writes.Forget(replaced)
	}

	logger.Info("RENAME successful: from='%s' to='%s' client=%s", req.From.Name, req.To.Name, ctx.ClientAddr)
	return resp, nil
}
