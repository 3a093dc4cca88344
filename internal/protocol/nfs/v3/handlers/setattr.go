package handlers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/identity"
)

// SetAttrRequest is SETATTR3args.
type SetAttrRequest struct {
	Handle types.FileHandle
	Attrs  *types.SetAttrs

	// Guard, when set, must equal the current ctime for the change to
	// apply.
	Guard *types.NfsTime
}

// SetAttrResponse is SETATTR3res.
type SetAttrResponse struct {
	NFSResponseBase
	Wcc types.WccData
}

// DecodeSetAttrRequest decodes SETATTR3args.
func DecodeSetAttrRequest(data []byte) (*SetAttrRequest, error) {
	r := xdr.NewReader(data)
	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode SETATTR: %w", err)
	}
	attrs, err := nfsxdr.ReadSetAttrs(r)
	if err != nil {
		return nil, fmt.Errorf("decode SETATTR: %w", err)
	}
	guard, err := nfsxdr.ReadSattrGuard(r)
	if err != nil {
		return nil, fmt.Errorf("decode SETATTR guard: %w", err)
	}
	return &SetAttrRequest{Handle: handle, Attrs: attrs, Guard: guard}, nil
}

// Encode encodes SETATTR3res.
func (resp *SetAttrResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(256)
	w.WriteUint32(resp.Status)
	nfsxdr.WriteWccData(w, resp.Wcc)
	return w.Bytes(), nil
}

// SetAttr changes the attributes of a file (RFC 1813 Section 3.3.2).
//
// Size changes are refused with NFS3ERR_INVAL: the store cannot truncate.
// A guard that does not match the current ctime yields NFS3ERR_NOT_SYNC.
func (h *Handler) SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) (*SetAttrResponse, error) {
	logger.Info("SETATTR: handle=%x client=%s auth=%d", req.Handle, ctx.ClientAddr, ctx.AuthFlavor)

	// ===== Step 1: validate =====

	if req.Attrs.Size != nil {
		logger.Warn("SETATTR refused: size changes are not supported: handle=%x client=%s", req.Handle, ctx.ClientAddr)
		return &SetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrInval)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &SetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	unlock := h.locks.lock(id)
	defer unlock()

	// ===== Step 2: pre-operation attributes and guard =====

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &SetAttrResponse{NFSResponseBase: statusOf(nfsStatus(err, "SETATTR", ctx.ClientAddr))}, nil
	}
	pre := h.toFileAttr(info)

	if req.Guard != nil && *req.Guard != pre.Ctime {
		logger.Debug("SETATTR guard mismatch: handle=%x guard=%v ctime=%v", req.Handle, *req.Guard, pre.Ctime)
		return &SetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrNotSync), Wcc: wccOf(pre, pre)}, nil
	}

	if !ctx.canWrite() {
		logger.Warn("SETATTR denied: handle=%x client=%s access=%s", req.Handle, ctx.ClientAddr, ctx.Access)
		return &SetAttrResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces), Wcc: wccOf(pre, pre)}, nil
	}

	// ===== Step 3: apply =====

	if err := h.applySetAttrs(ctx.Context, id, req.Attrs); err != nil {
		status := nfsStatus(err, "SETATTR", ctx.ClientAddr)
		return &SetAttrResponse{NFSResponseBase: statusOf(status), Wcc: wccOf(pre, h.postOpAttr(ctx.Context, id))}, nil
	}

	logger.Info("SETATTR successful: handle=%x client=%s", req.Handle, ctx.ClientAddr)
	return &SetAttrResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Wcc:             wccOf(pre, h.postOpAttr(ctx.Context, id)),
	}, nil
}

// applySetAttrs applies mode, owner and times from sattr3. Size must have
// been rejected by the caller.
func (h *Handler) applySetAttrs(ctx context.Context, id uint64, attrs *types.SetAttrs) error {
	if attrs.Mode != nil {
		if err := h.store.SetPermission(ctx, id, *attrs.Mode&0o7777); err != nil {
			return err
		}
	}

	if attrs.UID != nil || attrs.GID != nil {
		var owner, group string
		if attrs.UID != nil {
			owner = h.ids.UserName(*attrs.UID, identity.FormatID(*attrs.UID))
		}
		if attrs.GID != nil {
			group = h.ids.GroupName(*attrs.GID, identity.FormatID(*attrs.GID))
		}
		if err := h.store.SetOwner(ctx, id, owner, group); err != nil {
			return err
		}
	}

	now := time.Now()
	atime := setTime(attrs.Atime, now)
	mtime := setTime(attrs.Mtime, now)
	if atime == nil && mtime == nil {
		return nil
	}
	if mtime != nil {
		// Buffered writes would otherwise override the new mtime.
		if err := h.writes.CommitBeforeRead(ctx, id, math.MaxUint64); err != nil {
			logger.Warn("SETATTR: flushing buffered writes failed: fileid=%d error=%v", id, err)
		}
	}
	return h.store.SetTimes(ctx, id, atime, mtime)
}

func setTime(st types.SetTime, now time.Time) *time.Time {
	switch st.How {
	case types.SetToServerTime:
		return &now
	case types.SetToClientTime:
		t := st.Time.Time()
		return &t
	}
	return nil
}
