package handlers

import (
	"context"
	"fmt"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// listBatch is how many entries are fetched from the store at a time.
const listBatch = 128

// Encoded sizes used to fit directory listings into the client's count.
const (
	// status, post_op_attr, cookieverf, list terminator and eof.
	dirReplyOverhead = 4 + 4 + nfsxdr.EncodedFileAttrSize + types.CookieVerfSize + 4 + 4

	// post_op_attr and post_op_fh3 of an entryplus3.
	dirPlusExtra = 4 + nfsxdr.EncodedFileAttrSize + 4 + 4 + types.FileHandleSize
)

// entrySize is the encoded size of an entry3: the value-follows flag,
// fileid, name and cookie.
func entrySize(name string) int {
	return 4 + 8 + 4 + len(name) + xdr.Pad(len(name)) + 8
}

// ReadDirRequest is READDIR3args.
type ReadDirRequest struct {
	Dir      types.FileHandle
	Cookie   uint64
	Verifier uint64
	Count    uint32
}

// DirEntry is one entry3 or entryplus3. Attr and Handle are used by
// READDIRPLUS only.
type DirEntry struct {
	FileID uint64
	Name   string
	Cookie uint64
	Attr   *types.FileAttr
	Handle types.FileHandle
}

// ReadDirResponse is READDIR3res.
type ReadDirResponse struct {
	NFSResponseBase
	DirAttr  *types.FileAttr
	Verifier uint64
	Entries  []DirEntry
	EOF      bool
}

// DecodeReadDirRequest decodes READDIR3args.
func DecodeReadDirRequest(data []byte) (*ReadDirRequest, error) {
	r := xdr.NewReader(data)
	dir, err := nfsxdr.ReadFileHandle(r)
	if err != nil {
		return nil, fmt.Errorf("decode READDIR: %w", err)
	}
	req := &ReadDirRequest{Dir: dir}
	if req.Cookie, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode READDIR cookie: %w", err)
	}
	if req.Verifier, err = r.ReadUint64(); err != nil {
		return nil, fmt.Errorf("decode READDIR cookieverf: %w", err)
	}
	if req.Count, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("decode READDIR count: %w", err)
	}
	return req, nil
}

// Encode encodes READDIR3res.
func (resp *ReadDirResponse) Encode() ([]byte, error) {
	w := xdr.NewWriter(dirReplyOverhead + 32*len(resp.Entries))
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
	}
	w.WriteBool(false)
	w.WriteBool(resp.EOF)
	return w.Bytes(), nil
}

// ReadDir lists a directory (RFC 1813 Section 3.3.16).
//
// The cookie of an entry is its file id, except "." which has cookie 0
// and ".." whose cookie is the parent id. Listing resumes after the entry
// whose id equals the cookie; the parent id cookie resumes from the first
// child. The cookie verifier is the directory mtime: a mismatch yields
// NFS3ERR_BAD_COOKIE unless AIX compatibility is on.
func (h *Handler) ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) (*ReadDirResponse, error) {
	logger.Debug("READDIR: dir=%x cookie=%d count=%d client=%s", req.Dir, req.Cookie, req.Count, ctx.ClientAddr)

	if !ctx.canRead() {
		return &ReadDirResponse{NFSResponseBase: statusOf(types.NFS3ErrAcces)}, nil
	}

	dir, attr, status := h.openDir(ctx, "READDIR", req.Dir, req.Verifier)
	if status != types.NFS3OK {
		return &ReadDirResponse{NFSResponseBase: statusOf(status), DirAttr: attr}, nil
	}

	resp := &ReadDirResponse{
		NFSResponseBase: statusOf(types.NFS3OK),
		DirAttr:         attr,
		Verifier:        cookieVerifier(dir),
	}
	if req.Count == 0 {
		return resp, nil
	}

	used := dirReplyOverhead
	fits := func(name string) bool {
		size := entrySize(name)
		if used+size > int(req.Count) {
			return false
		}
		used += size
		return true
	}

	entries, eof, err := h.listDir(ctx.Context, dir, req.Cookie, fits)
	if err != nil {
		return &ReadDirResponse{NFSResponseBase: statusOf(nfsStatus(err, "READDIR", ctx.ClientAddr)), DirAttr: attr}, nil
	}
	if tooSmall(req.Cookie, entries, eof) {
		logger.Debug("READDIR count too small: dir=%d count=%d", dir.ID, req.Count)
		return &ReadDirResponse{NFSResponseBase: statusOf(types.NFS3ErrTooSmall), DirAttr: attr}, nil
	}

	for _, e := range entries {
		resp.Entries = append(resp.Entries, DirEntry{FileID: e.info.ID, Name: e.name, Cookie: e.cookie})
	}
	resp.EOF = eof

	logger.Debug("READDIR successful: dir=%d entries=%d eof=%t", dir.ID, len(resp.Entries), eof)
	return resp, nil
}

// cookieVerifier derives the cookieverf3 of a directory from its mtime.
func cookieVerifier(dir *store.FileInfo) uint64 {
	return uint64(dir.Mtime.UnixNano())
}

// openDir loads the directory of a READDIR or READDIRPLUS and validates
// its cookie verifier. The attributes are returned whenever known.
func (h *Handler) openDir(ctx *NFSHandlerContext, proc string, handle types.FileHandle, verifier uint64) (*store.FileInfo, *types.FileAttr, uint32) {
	id, err := handle.FileID()
	if err != nil {
		return nil, nil, types.NFS3ErrBadHandle
	}

	dir, err := h.getAttr(ctx.Context, id)
	if err != nil {
		return nil, nil, nfsStatus(err, proc, ctx.ClientAddr)
	}
	attr := h.toFileAttr(dir)

	if !dir.IsDir() {
		return nil, attr, types.NFS3ErrNotDir
	}

	if verifier != 0 && verifier != cookieVerifier(dir) {
		if !h.cfg.AIXCompat {
			logger.Debug("%s cookie verifier mismatch: dir=%d got=%d want=%d", proc, id, verifier, cookieVerifier(dir))
			return nil, attr, types.NFS3ErrBadCookie
		}
		logger.Debug("%s ignoring cookie verifier mismatch in AIX compatibility mode: dir=%d", proc, id)
	}
	return dir, attr, types.NFS3OK
}

type listedEntry struct {
	info   *store.FileInfo
	name   string
	cookie uint64
}

// listDir walks dir from cookie, keeping entries while fits accepts their
// name. eof is true when the listing reached the last entry.
func (h *Handler) listDir(ctx context.Context, dir *store.FileInfo, cookie uint64, fits func(name string) bool) ([]listedEntry, bool, error) {
	var entries []listedEntry

	start := cookie
	switch {
	case cookie == 0:
		parent, err := h.store.GetAttributes(ctx, dir.Parent)
		if err != nil {
			return nil, false, err
		}
		for _, e := range []listedEntry{
			{info: dir, name: ".", cookie: 0},
			{info: parent, name: "..", cookie: parent.ID},
		} {
			if !fits(e.name) {
				return entries, false, nil
			}
			entries = append(entries, e)
		}
	case cookie == dir.Parent:
		start = 0
	}

	for {
		batch, more, err := h.store.ListDirectory(ctx, dir.ID, start, listBatch)
		if err != nil {
			return nil, false, err
		}
		for _, info := range batch {
			if !fits(info.Name) {
				return entries, false, nil
			}
			entries = append(entries, listedEntry{info: info, name: info.Name, cookie: info.ID})
			start = info.ID
		}
		if !more {
			return entries, true, nil
		}
	}
}

// tooSmall reports whether a listing made no progress: nothing fit, or a
// fresh listing could not return both "." and "..". The client would
// otherwise resume from the same cookie forever.
func tooSmall(cookie uint64, entries []listedEntry, eof bool) bool {
	if cookie == 0 {
		return len(entries) < 2
	}
	return len(entries) == 0 && !eof
}
