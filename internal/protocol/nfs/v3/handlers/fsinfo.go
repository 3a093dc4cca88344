package handlers

import (
	"fmt"
	"math"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// FsInfoRequest is FSINFO3args.
type FsInfoRequest struct {
	Handle types.FileHandle
}

// FsInfoResponse is FSINFO3res.
type FsInfoResponse struct {
	NFSResponseBase
	Attr        *types.FileAttr
	RTMax       uint32
	RTPref      uint32
	RTMult      uint32
	WTMax       uint32
	WTPref      uint32
	WTMult      uint32
	DTPref      uint32
	MaxFileSize uint64
	TimeDelta   types.NfsTime
	Properties  uint32
}

// DecodeFsInfoRequest decodes FSINFO3args.
func DecodeFsInfoRequest(data []byte) (*FsInfoRequest, error) {
	handle, err := nfsxdr.ReadFileHandle(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode FSINFO: %w", err)
	}
	return &FsInfoRequest{Handle: handle}, nil
}

// Encode encodes FSINFO3res.
func (resp *FsInfoResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(160)
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	if resp.Status == types.NFS3OK {
		w.WriteUint32(resp.RTMax)
		w.WriteUint32(resp.RTPref)
		w.WriteUint32(resp.RTMult)
		w.WriteUint32(resp.WTMax)
		w.WriteUint32(resp.WTPref)
		w.WriteUint32(resp.WTMult)
		w.WriteUint32(resp.DTPref)
		w.WriteUint64(resp.MaxFileSize)
		nfsxdr.WriteNfsTime(w, resp.TimeDelta)
		w.WriteUint32(resp.Properties)
	}
	return w.Bytes(), nil
}

// FsInfo reports static server limits (RFC 1813 Section 3.3.19).
func (h *Handler) FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) (*FsInfoResponse, error) {
	logger.Debug("FSINFO: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if !ctx.canRead() {
		return &FsInfoResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &FsInfoResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &FsInfoResponse{NFSResponseBase: statusOf(nfsStatus(err, "FSINFO", ctx.ClientAddr))}, nil
	}

	return &FsInfoResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            h.toFileAttr(info),
		RTMax:           h.cfg.RTMax,
		RTPref:          h.cfg.RTMax,
		RTMult:          1,
		WTMax:           h.cfg.WTMax,
		WTPref:          h.cfg.WTMax,
		WTMult:          1,
		DTPref:          h.cfg.DTPref,
		MaxFileSize:     math.MaxInt64,
		TimeDelta:       types.NfsTime{Seconds: 0, Nseconds: 1},
		Properties:      types.FSFCanSetTime | types.FSFHomogeneous | types.FSFSymlink,
	}, nil
}
