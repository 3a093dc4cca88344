package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// MknodRequest holds the part of MKNOD3args needed to answer: the target
// directory and name. The device specification is not decoded.
type MknodRequest struct {
	Where nfsxdr.DirOpArgs
	Type  uint32
}

// DecodeMknodRequest decodes the leading fields of MKNOD3args.
func DecodeMknodRequest(data []byte) (*MknodRequest, error) {
	r := xdr.NewReader(data)
	where, err := nfsxdr.ReadDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode MKNOD: %w", err)
	}
	typ, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("decode MKNOD type: %w", err)
	}
	return &MknodRequest{Where: where, Type: typ}, nil
}

// Mknod refuses to create special files (RFC 1813 Section 3.3.11): the
// store holds regular files, directories and symlinks only.
func (h *Handler) Mknod(ctx *NFSHandlerContext, req *MknodRequest) (*CreateResponse, error) {
	logger.Debug("MKNOD: name='%s' type=%d client=%s: not supported", req.Where.Name, req.Type, ctx.ClientAddr)

	resp := &CreateResponse{NFSResponseBase: statusOf(types.NFS3ErrNotSupp)}
	if dirID, err := req.Where.Dir.FileID(); err == nil && ctx.canRead() {
		attr := h.postOpAttr(ctx.Context, dirID)
		resp.DirWcc = wccOf(attr, attr)
	}
	return resp, nil
}
