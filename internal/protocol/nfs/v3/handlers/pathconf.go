package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// PathConfRequest is PATHCONF3args.
type PathConfRequest struct {
	Handle types.FileHandle
}

// PathConfResponse is PATHCONF3res.
type PathConfResponse struct {
	NFSResponseBase
	Attr            *types.FileAttr
	LinkMax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

// DecodePathConfRequest decodes PATHCONF3args.
func DecodePathConfRequest(data []byte) (*PathConfRequest, error) {
	handle, err := nfsxdr.ReadFileHandle(xdr.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode PATHCONF: %w", err)
	}
	return &PathConfRequest{Handle: handle}, nil
}

// Encode encodes PATHCONF3res.
func (resp *PathConfResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(128)
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	if resp.Status == types.NFS3OK {
		w.WriteUint32(resp.LinkMax)
		w.WriteUint32(resp.NameMax)
		w.WriteBool(resp.NoTrunc)
		w.WriteBool(resp.ChownRestricted)
		w.WriteBool(resp.CaseInsensitive)
		w.WriteBool(resp.CasePreserving)
	}
	return w.Bytes(), nil
}

// PathConf reports POSIX limits (RFC 1813 Section 3.3.20). Hard links are
// not supported, hence a link maximum of zero.
func (h *Handler) PathConf(ctx *NFSHandlerContext, req *PathConfRequest) (*PathConfResponse, error) {
	logger.Debug("PATHCONF: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if !ctx.canRead() {
		return &PathConfResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &PathConfResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &PathConfResponse{NFSResponseBase: statusOf(nfsStatus(err, "PATHCONF", ctx.ClientAddr))}, nil
	}

	return &PathConfResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            h.toFileAttr(info),
		LinkMax:         0,
		NameMax:         types.MaxNameLen,
		NoTrunc:         true,
		ChownRestricted: true,
		CasePreserving:  true,
	}, nil
}
