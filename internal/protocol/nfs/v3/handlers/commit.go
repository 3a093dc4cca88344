package handlers

import (
	"fmt"
	"sync"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/writemgr"
)

// CommitRequest is COMMIT3args.
type CommitRequest struct {
	Handle types.FileHandle
	Offset uint64
	Count  uint32
}

// CommitResponse is COMMIT3res.
type CommitResponse struct {
	NFSResponseBase
	Wcc      types.WccData
	Verifier uint64
}

// DecodeCommitRequest decodes COMMIT3args.
func DecodeCommitRequest(data []byte) (*CommitRequest, error) {
	r := xdr.NewReader(data)
	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode COMMIT: %w", err)
	}
	req := &CommitRequest{Handle: handle}
	if req.Offset, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode COMMIT offset: %w", err)
	}
	if req.Count, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode COMMIT count: %w", err)
	}
	return req, nil
}

// Encode encodes COMMIT3res.
func (resp *CommitResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(256)
	w.WriteUint32(resp.Status)
	nfsxdr.WriteWccData(w, resp.Wcc)
	if resp.Status == types.NFS3OK {
		w.WriteUint64(resp.Verifier)
	}
	return w.Bytes(), nil
}

// Commit makes buffered writes durable (RFC 1813 Section 3.3.21). Like
// Write, the reply is delivered through reply, possibly asynchronously.
// A count of zero commits from offset zero to the end of the file.
func (h *Handler) Commit(ctx *NFSHandlerContext, req *CommitRequest, reply func(*CommitResponse)) {
	logger.Debug("COMMIT: handle=%x offset=%d count=%d client=%s", req.Handle, req.Offset, req.Count, ctx.ClientAddr)

	id, err := req.Handle.FileID()
	if err != nil {
		reply(&CommitResponse{NFSResponseBase: statusOf(types.NFS3ErrBadHandle)})
		return
	}

	unlock := h.locks.lock(id)
	var once sync.Once
	release := func() { once.Do(unlock) }

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		release()
		reply(&CommitResponse{NFSResponseBase: statusOf(nfsStatus(err, "COMMIT", ctx.ClientAddr))})
		return
	}
	pre := h.toFileAttr(info)

	if !ctx.canWrite() {
		release()
		logger.Warn("COMMIT denied: fileid=%d client=%s access=%s", id, ctx.ClientAddr, ctx.Access)
		reply(&CommitResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces), Wcc: wccOf(pre, pre)})
		return
	}

	offset := req.Offset
	if req.Count == 0 {
		offset = 0
	}

	h.writes.HandleCommit(ctx.Context, id, offset, info, func(res writemgr.CommitResult) {
		post := h.toFileAttr(res.Post)
		release()

		if res.Err != nil {
			if post == nil {
				post = h.postOpAttr(ctx.Context, id)
			}
			reply(&CommitResponse{
				NFSResponseBase: statusOf(nfsStatus(res.Err, "COMMIT", ctx.ClientAddr)),
				Wcc:             wccOf(pre, post),
			})
			return
		}

		logger.Debug("COMMIT successful: fileid=%d", id)
		reply(&CommitResponse{
			NFSResponseBase: statusOf(types.NFS3OK),
			Wcc:             wccOf(pre, post),
			Verifier:        res.Verifier,
		})
	})
}
