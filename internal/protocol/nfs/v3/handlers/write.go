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

// WriteRequest is WRITE3args.
type WriteRequest struct {
	Handle types.FileHandle
	Offset uint64
	Count  uint32
	Stable uint32

	// Data is owned by the request: it does not alias the call buffer.
	Data []byte
}

// WriteResponse is WRITE3res.
type WriteResponse struct {
	NFSResponseBase
	Wcc       types.WccData
	Count     uint32
	Committed uint32
	Verifier  uint64
}

// DecodeWriteRequest decodes WRITE3args.
func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
	r := xdr.NewReader(data)
	r.SetMaxOpaque(uint32(len(data)))

	handle, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE: %w", err)
	}
	req := &WriteRequest{Handle: handle}
	if req.Offset, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode WRITE offset: %w", err)
	}
	if req.Count, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode WRITE count: %w", err)
	}
	if req.Stable, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode WRITE stable: %w", err)
	}
	payload, err := r.ReadOpaque(0)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE data: %w", err)
	}
	req.Data = append([]byte(nil), payload...)
	return req, nil
}

// Encode encodes WRITE3res.
func (resp *WriteResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(256)
	w.WriteUint32(resp.Status)
	nfsxdr.WriteWccData(w, resp.Wcc)
	if resp.Status == types.NFS3OK {
		w.WriteUint32(resp.Count)
		w.WriteUint32(resp.Committed)
		w.WriteUint64(resp.Verifier)
	}
	return w.Bytes(), nil
}

// Write hands data to the write manager and calls reply once it is
// buffered, or durable for stable writes (RFC 1813 Section 3.3.7). reply
// may run on another goroutine, or before Write returns when the request
// fails validation.
//
// The file lock is held until reply runs so the wcc_data brackets exactly
// this write.
func (h *Handler) Write(ctx *NFSHandlerContext, req *WriteRequest, reply func(*WriteResponse)) {
	logger.Debug("WRITE: handle=%x offset=%d count=%d stable=%d client=%s",
		req.Handle, req.Offset, req.Count, req.Stable, ctx.ClientAddr)

	fail := func(status uint32, wcc types.WccData) {
		reply(&WriteResponse{NFSResponseBase: statusOf(status), Wcc: wcc})
	}

	// ===== Step 1: validate =====

	id, err := req.Handle.FileID()
	if err != nil {
		fail(types.NFS3ErrBadHandle, types.WccData{})
		return
	}

	if uint32(len(req.Data)) < req.Count {
		logger.Warn("WRITE invalid: data shorter than count: fileid=%d count=%d data=%d client=%s",
			id, req.Count, len(req.Data), ctx.ClientAddr)
		fail(types.NFS3ErrInval, types.WccData{})
		return
	}
	data := req.Data[:req.Count]

	unlock := h.locks.lock(id)
	var once sync.Once
	release := func() { once.Do(unlock) }

	// ===== Step 2: pre-operation attributes and access =====

	info, err := h.getAttr(ctx.Context, id)
	if err != nil {
		release()
		fail(nfsStatus(err, "WRITE", ctx.ClientAddr), types.WccData{})
		return
	}
	pre := h.toFileAttr(info)

	if !ctx.canWrite() {
		release()
		logger.Warn("WRITE denied: fileid=%d client=%s access=%s", id, ctx.ClientAddr, ctx.Access)
		fail(types.NFS3ErrAcces, wccOf(pre, pre))
		return
	}
	if info.IsDir() {
		release()
		fail(types.NFS3ErrIsDir, wccOf(pre, pre))
		return
	}

	// ===== Step 3: hand off =====

	stable := writemgr.Unstable
	switch req.Stable {
	case types.WriteDataSync:
		stable = writemgr.DataSync
	case types.WriteFileSync:
		stable = writemgr.FileSync
	}

	args := writemgr.WriteArgs{FileID: id, Offset: req.Offset, Data: data, Stable: stable}
	h.writes.HandleWrite(ctx.Context, args, info, func(res writemgr.WriteResult) {
		post := h.toFileAttr(res.Post)
		release()

		if res.Err != nil {
			if post == nil {
				post = h.postOpAttr(ctx.Context, id)
			}
			reply(&WriteResponse{
				NFSResponseBase: statusOf(nfsStatus(res.Err, "WRITE", ctx.ClientAddr)),
				Wcc:             wccOf(pre, post),
			})
			return
		}

		logger.Debug("WRITE successful: fileid=%d offset=%d count=%d committed=%d", id, req.Offset, res.Count, res.Committed)
		reply(&WriteResponse{
			NFSResponseBase: statusOf(types.NFS3OK),
			Wcc:             wccOf(pre, post),
			Count:           res.Count,
			Committed:       res.Committed,
			Verifier:        res.Verifier,
		})
	})
}
