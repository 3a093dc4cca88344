package handlers

import (
	"errors"
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/identity"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// Default permissions of objects created without a mode.
const (
	defaultFileMode    = 0o644
	defaultDirMode     = 0o755
	defaultSymlinkMode = 0o777
)

// CreateRequest is CREATE3args.
type CreateRequest struct {
	Where nfsxdr.DirOpArgs
	Mode  uint32

	// Attrs is set for UNCHECKED and GUARDED creates.
	Attrs *types.SetAttrs

	// Verifier is set for EXCLUSIVE creates.
	Verifier uint64
}

// CreateResponse is CREATE3res, also used for MKDIR, SYMLINK and MKNOD
// whose results have the same shape.
type CreateResponse struct {
	NFSResponseBase
	Handle types.FileHandle
	Attr   *types.FileAttr
	DirWcc types.WccData
}

// DecodeCreateRequest decodes CREATE3args.
func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	r := xdr.NewReader(data)
	where, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode CREATE: %w", err)
	}
	req := &CreateRequest{Where: where}
	if req.Mode, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode CREATE mode: %w", err)
	}

	switch req.Mode {
	case types.CreateUnchecked, types.CreateGuarded:
		if req.Attrs, err = nfsxdr.ReadSetAttrs(r); err != nil {
			return nil, fmt.Errorf("decode CREATE attributes: %w", err)
		}
	case types.CreateExclusive:
		if req.Verifier, err = r.ReadUint64(); err != nil {
			return nil, fmt.Errorf("decode CREATE verifier: %w", err)
		}
		req.Attrs = &types.SetAttrs{}
	default:
		return nil, fmt.Errorf("%w: invalid createmode %d", xdr.ErrMalformed, req.Mode)
	}
	return req, nil
}

// Encode encodes CREATE3res.
func (resp *CreateResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(512)
	w.WriteUint32(resp.Status)
	if resp.Status == types.NFS3OK {
		nfsxdr.WritePostOpFileHandle(w, resp.Handle)
		nfsxdr.WritePostOpAttr(w, resp.Attr)
	}
	nfsxdr.WriteWccData(w, resp.DirWcc)
	return w.Bytes(), nil
}

// Create makes a regular file (RFC 1813 Section 3.3.8).
//
//   - UNCHECKED returns an existing regular file of the same name after
//     applying the requested attributes.
//   - GUARDED fails with NFS3ERR_EXIST if the name exists.
//   - EXCLUSIVE succeeds again for a retransmission carrying the same
//     verifier.
//
// Setting a non-zero size is refused. Ownership defaults to the caller.
func (h *Handler) Create(ctx *NFSHandlerContext, req *CreateRequest) (*CreateResponse, error) {
	logger.Info("CREATE: name='%s' dir=%x mode=%d client=%s auth=%d",
		req.Where.Name, req.Where.Dir, req.Mode, ctx.ClientAddr, ctx.AuthFlavor)

	// ===== Step 1: validate =====

	if req.Mode != types.CreateExclusive && req.Attrs.Size != nil && *req.Attrs.Size != 0 {
		logger.Warn("CREATE refused: size is not supported: name='%s' size=%d", req.Where.Name, *req.Attrs.Size)
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrInval)}, nil
	}

	dirID, err := req.Where.Dir.FileID()
	if err != nil {
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	unlock := h.locks.lock(dirID)
	defer unlock()

	// ===== Step 2: directory attributes and access =====

	dirInfo, err := h.getAttr(ctx.Context, dirID)
	if err != nil {
		return &CreateResponse{NFSResponseBase: statusOf(nfsStatus(err, "CREATE", ctx.ClientAddr))}, nil
	}
	pre := h.toFileAttr(dirInfo)

	if !ctx.canWrite() {
		logger.Warn("CREATE denied: name='%s' client=%s access=%s", req.Where.Name, ctx.ClientAddr, ctx.Access)
		return &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces), DirWcc: wccOf(pre, pre)}, nil
	}

	failed := func(err error) (*CreateResponse, error) {
		status := nfsStatus(err, "CREATE", ctx.ClientAddr)
		return &CreateResponse{NFSResponseBase: statusOf(status), DirWcc: wccOf(pre, h.postOpAttr(ctx.Context, dirID))}, nil
	}

	// ===== Step 3: create =====

	existed := false
	if req.Mode != types.CreateExclusive {
		_, err := h.store.Lookup(ctx.Context, dirID, req.Where.Name)
		switch {
		case err == nil:
			existed = true
			if req.Mode == types.CreateGuarded {
				return failed(store.ErrExist)
			}
		case !errors.Is(err, store.ErrNoEntry):
			return failed(err)
		}
	}

	nf := h.newFile(ctx, req.Attrs, defaultFileMode)
	nf.Verifier = req.Verifier
	info, err := h.store.Create(ctx.Context, dirID, req.Where.Name, nf, req.Mode == types.CreateExclusive)
	if err != nil {
		return failed(err)
	}

	attrs := *req.Attrs
	attrs.Size = nil
	if !existed {
		attrs.Mode, attrs.UID, attrs.GID = nil, nil, nil
	}
	if err := h.applySetAttrs(ctx.Context, info.ID, &attrs); err != nil {
		return failed(err)
	}

	if h.writes.AddOpenFileStream(info.ID) {
		logger.Debug("CREATE: opened write stream: fileid=%d", info.ID)
	}

	logger.Info("CREATE successful: name='%s' fileid=%d client=%s", req.Where.Name, info.ID, ctx.ClientAddr)
	return &CreateResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Handle:          fileHandle(info.ID),
		Attr:            h.postOpAttr(ctx.Context, info.ID),
		DirWcc:          wccOf(pre, h.postOpAttr(ctx.Context, dirID)),
	}, nil
}

// newFile derives the mode and ownership of a new object from sattr3,
// falling back to defaultMode and the caller's credentials.
func (h *Handler) newFile(ctx *NFSHandlerContext, attrs *types.SetAttrs, defaultMode uint32) store.NewFile {
	nf := store.NewFile{Mode: defaultMode}
	if attrs != nil && attrs.Mode != nil {
		nf.Mode = *attrs.Mode & 0o7777
	}

	uid, gid := ctx.UID, ctx.GID
	if attrs != nil && attrs.UID != nil {
		uid = attrs.UID
	}
	if attrs != nil && attrs.GID != nil {
		gid = attrs.GID
	}
	if uid != nil {
		nf.Owner = h.ids.UserName(*uid, identity.FormatID(*uid))
	}
	if gid != nil {
		nf.Group = h.ids.GroupName(*gid, identity.FormatID(*gid))
	}
	return nf
}
