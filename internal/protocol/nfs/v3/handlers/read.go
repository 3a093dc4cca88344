package handlers

import (
	"fmt"
	"math"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// ReadRequest is READ3args.
type ReadRequest struct {
	Handle types.FileHandle
	Offset uint64
	Count  uint32
}

// ReadResponse is READ3res.
type ReadResponse struct {
	NFSResponseBase
	Attr  *types.FileAttr
	Count uint32
	EOF   bool
	Data  []byte
}

// DecodeReadRequest decodes READ3args.
func DecodeReadRequest(data []byte) (*ReadRequest, error) {
	r := xdr.NewReader(data)
	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode READ: %w", err)
	}
	req := &ReadRequest{Handle: handle}
	if req.Offset, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode READ offset: %w", err)
	}
	if req.Count, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode READ count: %w", err)
	}
	return req, nil
}

// Encode encodes READ3res.
func (resp *ReadResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(128 + len(resp.Data))
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.Attr)
	if resp.Status == types.NFS3OK {
		w.WriteUint32(resp.Count)
		w.WriteBool(resp.EOF)
		w.WriteOpaque(resp.Data)
	}
	return w.Bytes(), nil
}

// rangeEnd returns offset+count, saturating at the largest offset.
func rangeEnd(offset uint64, count uint32) uint64 {
	end := offset + uint64(count)
	if end < offset {
		return math.MaxUint64
	}
	return end
}

// Read returns file data (RFC 1813 Section 3.3.6).
//
// Buffered writes overlapping the requested range are flushed first so a
// READ observes every WRITE already acknowledged. A failed flush is only
// logged: the read proceeds with what the store holds. Replies are capped
// at rtmax bytes.
func (h *Handler) Read(ctx *NFSHandlerContext, req *ReadRequest) (*ReadResponse, error) {
	logger.Debug("READ: handle=%x offset=%d count=%d client=%s", req.Handle, req.Offset, req.Count, ctx.ClientAddr)

	// ===== Step 1: access and attributes =====

	if !ctx.canRead() {
		return &ReadResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	id, err := req.Handle.FileID()
	if err != nil {
		return &ReadResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)}, nil
	}

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return &ReadResponse{NFSResponseBase: statusOf(nfsStatus(err, "READ", ctx.ClientAddr))}, nil
	}
	attr := h.toFileAttr(info)

	if info.IsDir() {
		return &ReadResponse{NFSResponseBase: statusOf(types.NFS3ErrIsDir), Attr: attr}, nil
	}

	if req.Count == 0 {
		return &ReadResponse{
			NFSResponseBase: statusOf(types.NFS3OK),
			Attr:            attr,
			EOF:             req.Offset >= attr.Size,
			Data:            []byte{},
		}, nil
	}

	// ===== Step 2: make acknowledged writes visible =====

	if err := h.writes.CommitBeforeRead(ctx.Context, id, rangeEnd(req.Offset, req.Count)); err != nil {
		logger.Warn("READ: flushing buffered writes failed: fileid=%d error=%v", id, err)
	}

	// ===== Step 3: read =====

	count := min(req.Count, h.cfg.RTMax)
	data, err := h.store.Read(ctx.Context, id, req.Offset, count)
	if err != nil {
		if ctx.cancelled() {
			return &ReadResponse{NFSResponseBase: statusOf(types.NFS3ErrIO), Attr: attr}, ctx.Context.Err()
		}
		return &ReadResponse{NFSResponseBase: statusOf(nfsStatus(err, "READ", ctx.ClientAddr)), Attr: attr}, nil
	}

	if post := h.postOpAttr(ctx.Context, id); post != nil {
		attr = post
	}
	eof := req.Offset+uint64(len(data)) >= attr.Size

	logger.Debug("READ successful: fileid=%d offset=%d read=%d eof=%t", id, req.Offset, len(data), eof)
	return &ReadResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		Attr:            attr,
		Count:           uint32(len(data)),
		EOF:             eof,
		Data:            data,
	}, nil
}
