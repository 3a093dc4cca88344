package handlers

import (
	"errors"
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// LookupRequest is LOOKUP3args.
type LookupRequest struct {
	What nfsxdr.DirOpArgs
}

// LookupResponse is LOOKUP3res. DirAttr is returned on both arms.
type LookupResponse struct {
	NFSResponseBase
	Handle  types.FileHandle
	Attr    *types.FileAttr
	DirAttr *types.FileAttr
}

// DecodeLookupRequest decodes LOOKUP3args.
func DecodeLookupRequest(data []byte) (*LookupRequest, error) {
	what, err := nfsxdr.ReadDirOpArgs(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode LOOKUP: %w", err)
	}
	return &LookupRequest{What: what}, nil
}

// Encode encodes LOOKUP3res.
func (resp *LookupResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(256)
	w.WriteUint32(resp.Status)
	if resp.Status == types.NFS3OK {
		nfsxdr.WriteFileHandle(w, resp.Handle)
		nfsxdr.WritePostOpAttr(w, resp.Attr)
	}
	nfsxdr.WritePostOpAttr(w, resp.DirAttr)
	return w.Bytes(), nil
}

// Lookup resolves a name in a directory (RFC 1813 Section 3.3.3).
func (h *Handler) Lookup(ctx *NFSHandlerContext, req *LookupRequest) (*LookupResponse, error) {
	logger.Debug("LOOKUP: name='%s' dir=%x client=%s", req.What.Name, req.What.Dir, ctx.ClientAddr)

	if !ctx.canRead() {
		return &LookupResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	dirID, err := req.What.Dir.FileID()
	if err != nil {
		return &LookupResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	if len(req.What.Name) > types.MaxNameLen {
		return &LookupResponse{
			NFSResponseBase: statusOf(types.NFS3ErrNameTooLong),
			DirAttr:         h.postOpAttr(ctx.Context, dirID),
		}, nil
	}

	info, err := h.store.Lookup(ctx.Context, dirID, req.What.Name)
	if err != nil {
		if ctx.cancelled() {
			return &LookupResponse{NFSResponseBase: statusOf(types.NFS3ErrIO)}, ctx.Context.Err()
		}
		resp := &LookupResponse{NFSResponseBase: statusOf(nfsStatus(err, "LOOKUP", ctx.ClientAddr))}
		if !errors.Is(err, store.ErrNotFound) {
			resp.DirAttr = h.postOpAttr(ctx.Context, dirID)
		}
		return resp, nil
	}

	logger.Debug("LOOKUP successful: name='%s' fileid=%d client=%s", req.What.Name, info.ID, ctx.ClientAddr)
	return &LookupResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Handle:          fileHandle(info.ID),
		Attr:            h.postOpAttr(ctx.Context, info.ID),
		DirAttr:         h.postOpAttr(ctx.Context, dirID),
	}, nil
}
