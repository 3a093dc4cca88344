package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// unlimitedObjects is reported as the file slot count when none is
// configured.
const unlimitedObjects = 1<<31 - 1

// FsStatRequest is FSSTAT3args.
type FsStatRequest struct {
	Handle types.FileHandle
}

// FsStatResponse is FSSTAT3res.
type FsStatResponse struct {
	NFSResponseBase
	Attr     *types.FileAttr
	Tbytes   uint64
	Fbytes   uint64
	Abytes   uint64
	Tfiles   uint64
	Ffiles   uint64
	Afiles   uint64
	Invarsec uint32
}

// DecodeFsStatRequest decodes FSSTAT3args.
func DecodeFsStatRequest(data []byte) (*FsStatRequest, error) {
	handle, err := nfsxdr.ReadFileHandle(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode FSSTAT: %w", err)
	}
	return &FsStatRequest{Handle: handle}, nil
}

// Encode encodes FSSTAT3res.
func (resp *FsStatResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(160)
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	if resp.Status == types.NFS3OK {
		w.WriteUint64(resp.Tbytes)
		w.WriteUint64(resp.Fbytes)
		w.WriteUint64(resp.Abytes)
		w.WriteUint64(resp.Tfiles)
		w.WriteUint64(resp.Ffiles)
		w.WriteUint64(resp.Afiles)
		w.WriteUint32(resp.Invarsec)
	}
	return w.Bytes(), nil
}

// FsStat reports capacity and file slots (RFC 1813 Section 3.3.18).
func (h *Handler) FsStat(ctx *NFSHandlerContext, req *FsStatRequest) (*FsStatResponse, error) {
	logger.Debug("FSSTAT: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if !ctx.canRead() {
		return &FsStatResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &FsStatResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &FsStatResponse{NFSResponseBase: statusOf(nfsStatus(err, "FSSTAT", ctx.ClientAddr))}, nil
	}
	attr := h.toFileAttr(info)

	status, err := h.store.DiskStatus(ctx.Context)
	if err != nil {
		return &FsStatResponse{NFSResponseBase: statusOf(nfsStatus(err, "FSSTAT", ctx.ClientAddr)), Attr: attr}, nil
	}

	total := h.cfg.MaxObjects
	if total == 0 {
		total = unlimitedObjects
	}
	free := uint64(0)
	if status.Files < total {
		free = total - status.Files
	}

	return &FsStatResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            attr,
		Tbytes:          status.Capacity,
		Fbytes:          status.Remaining,
		Abytes:          status.Remaining,
		Tfiles:          total,
		Ffiles:          free,
		Afiles:          free,
	}, nil
}
