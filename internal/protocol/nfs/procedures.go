package nfs

import (
	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/v3/handlers"
)

// ============================================================================
// Procedure Dispatch Table
// ============================================================================

// replyFunc receives the encoded results of a procedure and its nfsstat3.
type replyFunc func(body []byte, status uint32)

// procedureHandler decodes the arguments, runs the procedure and calls
// reply exactly once. Synchronous procedures call reply before returning.
type procedureHandler func(d *Dispatcher, ctx *handlers.NFSHandlerContext, data []byte, reply replyFunc)

// procedureInfo contains metadata about an NFS procedure for dispatch.
type procedureInfo struct {
	// Name is the RFC 1813 procedure name, used in logs, spans and metrics.
	Name string

	Handler procedureHandler

	// NeedsAuth requires AUTH_SYS or RPCSEC_GSS credentials.
	NeedsAuth bool

	// NonIdempotent procedures go through the call cache so a retransmission
	// replays the original reply instead of running twice.
	NonIdempotent bool

	// Async procedures reply through rpc.Deferred.
	Async bool
}

var dispatchTable map[uint32]*procedureInfo

func init() {
	initDispatchTable()
}

func initDispatchTable() {
	dispatchTable = map[uint32]*procedureInfo{
		types.ProcNull: {
			Name: "NULL",
			Handler: serve(handlers.DecodeNullRequest, (*handlers.Handler).Null,
				func(uint32) *handlers.NullResponse { return &handlers.NullResponse{} }),
		},
		types.ProcGetAttr: {
			Name:      "GETATTR",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeGetAttrRequest, (*handlers.Handler).GetAttr,
				func(s uint32) *handlers.GetAttrResponse {
					return &handlers.GetAttrResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcSetAttr: {
			Name:          "SETATTR",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeSetAttrRequest, (*handlers.Handler).SetAttr,
				func(s uint32) *handlers.SetAttrResponse {
					return &handlers.SetAttrResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcLookup: {
			Name:      "LOOKUP",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeLookupRequest, (*handlers.Handler).Lookup,
				func(s uint32) *handlers.LookupResponse {
					return &handlers.LookupResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcAccess: {
			Name:      "ACCESS",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeAccessRequest, (*handlers.Handler).Access,
				func(s uint32) *handlers.AccessResponse {
					return &handlers.AccessResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcReadLink: {
			Name:      "READLINK",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeReadLinkRequest, (*handlers.Handler).ReadLink,
				func(s uint32) *handlers.ReadLinkResponse {
					return &handlers.ReadLinkResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcRead: {
			Name:      "READ",
			NeedsAuth: true,
			Handler:   handleRead,
		},
		types.ProcWrite: {
			Name:          "WRITE",
			NeedsAuth:     true,
			NonIdempotent: true,
			Async:         true,
			Handler:       handleWrite,
		},
		types.ProcCreate: {
			Name:          "CREATE",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeCreateRequest, (*handlers.Handler).Create,
				createError),
		},
		types.ProcMkdir: {
			Name:          "MKDIR",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeMkdirRequest, (*handlers.Handler).Mkdir,
				createError),
		},
		types.ProcSymlink: {
			Name:          "SYMLINK",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeSymlinkRequest, (*handlers.Handler).Symlink,
				createError),
		},
		types.ProcMknod: {
			Name:          "MKNOD",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeMknodRequest, (*handlers.Handler).Mknod,
				createError),
		},
		types.ProcRemove: {
			Name:          "REMOVE",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeRemoveRequest, (*handlers.Handler).Remove,
				removeError),
		},
		types.ProcRmdir: {
			Name:          "RMDIR",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeRmdirRequest, (*handlers.Handler).Rmdir,
				removeError),
		},
		types.ProcRename: {
			Name:          "RENAME",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeRenameRequest, (*handlers.Handler).Rename,
				func(s uint32) *handlers.RenameResponse {
					return &handlers.RenameResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcLink: {
			Name:          "LINK",
			NeedsAuth:     true,
			NonIdempotent: true,
			Handler: serve(handlers.DecodeLinkRequest, (*handlers.Handler).Link,
				func(s uint32) *handlers.LinkResponse {
					return &handlers.LinkResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcReadDir: {
			Name:      "READDIR",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeReadDirRequest, (*handlers.Handler).ReadDir,
				func(s uint32) *handlers.ReadDirResponse {
					return &handlers.ReadDirResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcReadDirPlus: {
			Name:      "READDIRPLUS",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeReadDirPlusRequest, (*handlers.Handler).ReadDirPlus,
				func(s uint32) *handlers.ReadDirPlusResponse {
					return &handlers.ReadDirPlusResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcFsStat: {
			Name:      "FSSTAT",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeFsStatRequest, (*handlers.Handler).FsStat,
				func(s uint32) *handlers.FsStatResponse {
					return &handlers.FsStatResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcFsInfo: {
			Name:      "FSINFO",
			NeedsAuth: true,
			Handler: serve(handlers.DecodeFsInfoRequest, (*handlers.Handler).FsInfo,
				func(s uint32) *handlers.FsInfoResponse {
					return &handlers.FsInfoResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcPathConf: {
			Name:      "PATHCONF",
			NeedsAuth: true,
			Handler: serve(handlers.DecodePathConfRequest, (*handlers.Handler).PathConf,
				func(s uint32) *handlers.PathConfResponse {
					return &handlers.PathConfResponse{NFSResponseBase: status(s)}
				}),
		},
		types.ProcCommit: {
			Name:      "COMMIT",
			NeedsAuth: true,
			Async:     true,
			Handler:   handleCommit,
		},
	}
}

// ============================================================================
// Procedure Handlers
// ============================================================================

// nfsResponse is implemented by every *XResponse of the handlers package.
type nfsResponse interface {
	Encode() ([]byte, error)
	GetStatus() uint32
}

// handleRequest decodes, runs and encodes one procedure. Undecodable
// arguments yield NFS3ERR_INVAL and a failed handler NFS3ERR_IO; neither
// leaks the Go error to the client.
func handleRequest[Req any, Resp nfsResponse](
	data []byte,
	decode func([]byte) (Req, error),
	handle func(Req) (Resp, error),
	makeErrorResp func(uint32) Resp,
) ([]byte, uint32) {
	req, err := decode(data)
	if err != nil {
		logger.Debug("Error decoding request: %v", err)
		return encodeResponse(makeErrorResp(types.NFS3ErrInval), makeErrorResp)
	}

	resp, err := handle(req)
	if err != nil {
		logger.Debug("Handler error: %v", err)
		return encodeResponse(makeErrorResp(types.NFS3ErrIO), makeErrorResp)
	}

	return encodeResponse(resp, makeErrorResp)
}

func encodeResponse[Resp nfsResponse](resp Resp, makeErrorResp func(uint32) Resp) ([]byte, uint32) {
	encoded, err := resp.Encode()
	if err != nil {
		logger.Error("Error encoding response: %v", err)
		fault := makeErrorResp(types.NFS3ErrServerFault)
		encoded, _ = fault.Encode()
		return encoded, types.NFS3ErrServerFault
	}
	return encoded, resp.GetStatus()
}

// serve adapts a synchronous procedure of the handlers package.
func serve[Req any, Resp nfsResponse](
	decode func([]byte) (Req, error),
	handle func(*handlers.Handler, *handlers.NFSHandlerContext, Req) (Resp, error),
	makeErrorResp func(uint32) Resp,
) procedureHandler {
	return func(d *Dispatcher, ctx *handlers.NFSHandlerContext, data []byte, reply replyFunc) {
		reply(handleRequest(
			data,
			decode,
			func(req Req) (Resp, error) {
				return handle(d.handler, ctx, req)
			},
			makeErrorResp,
		))
	}
}

func handleRead(d *Dispatcher, ctx *handlers.NFSHandlerContext, data []byte, reply replyFunc) {
	reply(handleRequest(
		data,
		handlers.DecodeReadRequest,
		func(req *handlers.ReadRequest) (*handlers.ReadResponse, error) {
			resp, err := d.handler.Read(ctx, req)
			if err == nil && resp.Status == types.NFS3OK {
				d.metrics.RecordBytesTransferred("read", int64(len(resp.Data)))
			}
			return resp, err
		},
		func(s uint32) *handlers.ReadResponse {
			return &handlers.ReadResponse{NFSResponseBase: status(s)}
		},
	))
}

func handleWrite(d *Dispatcher, ctx *handlers.NFSHandlerContext, data []byte, reply replyFunc) {
	makeErrorResp := func(s uint32) *handlers.WriteResponse {
		return &handlers.WriteResponse{NFSResponseBase: status(s)}
	}

	req, err := handlers.DecodeWriteRequest(data)
	if err != nil {
		logger.Debug("Error decoding WRITE request: %v", err)
		reply(encodeResponse(makeErrorResp(types.NFS3ErrInval), makeErrorResp))
		return
	}

	d.handler.Write(ctx, req, func(resp *handlers.WriteResponse) {
		if resp.Status == types.NFS3OK {
			d.metrics.RecordBytesTransferred("write", int64(resp.Count))
		}
		reply(encodeResponse(resp, makeErrorResp))
	})
}

func handleCommit(d *Dispatcher, ctx *handlers.NFSHandlerContext, data []byte, reply replyFunc) {
	makeErrorResp := func(s uint32) *handlers.CommitResponse {
		return &handlers.CommitResponse{NFSResponseBase: status(s)}
	}

	req, err := handlers.DecodeCommitRequest(data)
	if err != nil {
		logger.Debug("Error decoding COMMIT request: %v", err)
		reply(encodeResponse(makeErrorResp(types.NFS3ErrInval), makeErrorResp))
		return
	}

	d.handler.Commit(ctx, req, func(resp *handlers.CommitResponse) {
		reply(encodeResponse(resp, makeErrorResp))
	})
}

func status(s uint32) handlers.NFSResponseBase {
	return handlers.NFSResponseBase{Status: s}
}

func createError(s uint32) *handlers.CreateResponse {
	return &handlers.CreateResponse{NFSResponseBase: status(s)}
}

func removeError(s uint32) *handlers.RemoveResponse {
	return &handlers.RemoveResponse{NFSResponseBase: status(s)}
}
