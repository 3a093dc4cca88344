package handlers

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// ReadDirPlusRequest is READDIRPLUS3args.
type ReadDirPlusRequest struct {
	Dir      types.FileHandle
	Cookie   uint64
	Verifier uint64

	// DirCount bounds the directory information, MaxCount the whole reply.
	DirCount uint32
	MaxCount uint32
}

// ReadDirPlusResponse is READDIRPLUS3res.
type ReadDirPlusResponse struct {
	NFSResponseBase
	DirAttr  *types.FileAttr
	Verifier uint64
	Entries  []DirEntry
	EOF      bool
}

// DecodeReadDirPlusRequest decodes READDIRPLUS3args.
func DecodeReadDirPlusRequest(data []byte) (*ReadDirPlusRequest, error) {
	r := xdr.NewReader(data)
	dir, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS: %w", err)
	}
	req := &ReadDirPlusRequest{Dir: dir}
	if req.Cookie, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS cookie: %w", err)
	}
	if req.Verifier, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS cookieverf: %w", err)
	}
	if req.DirCount, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS dircount: %w", err)
	}
	if req.MaxCount, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS maxcount: %w", err)
	}
	return req, nil
}

// Encode encodes READDIRPLUS3res.
func (resp *ReadDirPlusResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(dirReplyOverhead + (32+dirPlusExtra)*len(resp.Entries))
	w.WriteUint32(resp.Status)
	nfsxdr.WritePostOpAttr(w, resp.DirAttr)
	if resp.Status != types.NFS3OK {
		return w.Bytes(), nil
	}

	w.WriteUint64(resp.Verifier)
	for _, e := range resp.Entries {
		w.WriteBool(true)
		w.WriteUint64(e.FileID)
		w.WriteString(e.Name)
		w.WriteUint64(e.Cookie)
		nfsxdr.WritePostOpAttr(w, e.Attr)
		nfsxdr.WritePostOpFileHandle(w, e.Handle)
	}
	w.WriteBool(false)
	w.WriteBool(resp.EOF)
	return w.Bytes(), nil
}

// ReadDirPlus lists a directory with attributes and handles
// (RFC 1813 Section 3.3.17). Cookies and verifiers follow ReadDir. Zero
// dircount or maxcount is invalid.
func (h *Handler) ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error) {
	logger.Debug("READDIRPLUS: dir=%x cookie=%d dircount=%d maxcount=%d client=%s",
		req.Dir, req.Cookie, req.DirCount, req.MaxCount, ctx.ClientAddr)

	if !ctx.canRead() {
		return &ReadDirPlusResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	if req.DirCount == 0 || req.MaxCount == 0 {
		logger.Debug("READDIRPLUS invalid counts: dircount=%d maxcount=%d", req.DirCount, req.MaxCount)
		return &ReadDirPlusResponse{NFSResponseBase: statusOf(types.NFS3ErrInval)}, nil
	}

	dir, attr, status := h.openDir(ctx, "READDIRPLUS", req.Dir, req.Verifier)
	if status != types.NFS3OK {
		return &ReadDirPlusResponse{NFSResponseBase: statusOf(status), DirAttr: attr}, nil
	}

	usedMax := dirReplyOverhead
	usedDir := 0
	fits := func(name string) bool {
		size := entrySize(name)
		if usedMax+size+dirPlusExtra > int(req.MaxCount) || usedDir+size > int(req.DirCount) {
			return false
		}
		usedMax += size + dirPlusExtra
		usedDir += size
		return true
	}

	entries, eof, err := h.listDir(ctx.Context, dir, req.Cookie, fits)
	if err != nil {
		return &ReadDirPlusResponse{NFSResponseBase: statusOf(nfsStatus(err, "READDIRPLUS", ctx.ClientAddr)), DirAttr: attr}, nil
	}
	if tooSmall(req.Cookie, entries, eof) {
		logger.Debug("READDIRPLUS counts too small: dir=%d dircount=%d maxcount=%d", dir.ID, req.DirCount, req.MaxCount)
		return &ReadDirPlusResponse{NFSResponseBase: statusOf(types.NFS3ErrTooSmall), DirAttr: attr}, nil
	}

	resp := &ReadDirPlusResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		DirAttr:         attr,
		Verifier:        cookieVerifier(dir),
		EOF:             eof,
	}
	for _, e := range entries {
		entryAttr := h.postOpAttr(ctx.Context, e.info.ID)
		var handle types.FileHandle
		if entryAttr != nil {
			handle = fileHandle(e.info.ID)
		}
		resp.Entries = append(resp.Entries, DirEntry{
			FileID: e.info.ID,
			Name:   e.name,
			Cookie: e.cookie,
			Attr:   entryAttr,
			Handle: handle,
		})
	}

	logger.Debug("READDIRPLUS successful: dir=%d entries=%d eof=%t", dir.ID, len(resp.Entries), eof)
	return resp, nil
}
