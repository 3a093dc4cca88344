package portmap

import (
	"context"
	"net"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// Handler serves port mapper version 2 over any rpc transport.
//
// SET and UNSET are only honoured for loopback clients; remote callers get
// FALSE. CALLIT is not served and answers PROC_UNAVAIL, which avoids the
// amplification vector it represents.
type Handler struct {
	Registry *Registry
}

// NewHandler returns a handler backed by registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{Registry: registry}
}

func (h *Handler) Program() rpc.Program {
	return rpc.Program{
		Name:               "portmap",
		Number:             Program,
		Low:                Version,
		High:               Version,
		AllowInsecurePorts: true,
	}
}

func (h *Handler) ServeRPC(_ context.Context, req *rpc.Request) rpc.Response {
	call := req.Call
	xid := call.XID
	client := req.Remote

	switch call.Procedure {
	case ProcNull:
		logger.Debug("PORTMAP NULL: client=%s", client)
		return rpc.Reply(rpc.SuccessReply(xid, nil))

	case ProcSet:
		m, err := DecodeMapping(req.Args)
		if err != nil {
			return rpc.Reply(rpc.ErrorReply(xid, rpc.GarbageArgs))
		}
		ok := false
		if isLoopback(req.ClientIP()) {
			ok = h.Registry.Set(m)
		} else {
			logger.Warn("PORTMAP SET rejected: non-loopback client=%s %s", client, m)
		}
		logger.Info("PORTMAP SET: %s client=%s result=%t", m, client, ok)
		return rpc.Reply(rpc.SuccessReply(xid, encodeBool(ok)))

	case ProcUnset:
		m, err := DecodeMapping(req.Args)
		if err != nil {
			return rpc.Reply(rpc.ErrorReply(xid, rpc.GarbageArgs))
		}
		ok := false
		if isLoopback(req.ClientIP()) {
			ok = h.Registry.Unset(m)
		} else {
			logger.Warn("PORTMAP UNSET rejected: non-loopback client=%s %s", client, m)
		}
		logger.Info("PORTMAP UNSET: %s client=%s result=%t", m, client, ok)
		return rpc.Reply(rpc.SuccessReply(xid, encodeBool(ok)))

	case ProcGetport:
		m, err := DecodeMapping(req.Args)
		if err != nil {
			return rpc.Reply(rpc.ErrorReply(xid, rpc.GarbageArgs))
		}
		port := h.Registry.Getport(m.Prog, m.Vers, m.Prot)
		logger.Debug("PORTMAP GETPORT: prog=%d vers=%d prot=%s port=%d client=%s",
			m.Prog, m.Vers, ProtoName(m.Prot), port, client)
		w := xdr.NewWriter(4)
		w.WriteUint32(port)
		return rpc.Reply(rpc.SuccessReply(xid, w.Bytes()))

	case ProcDump:
		mappings := h.Registry.Dump()
		logger.Debug("PORTMAP DUMP: entries=%d client=%s", len(mappings), client)
		return rpc.Reply(rpc.SuccessReply(xid, EncodeDump(mappings)))

	default:
		logger.Debug("PORTMAP: unsupported procedure %d client=%s", call.Procedure, client)
		return rpc.Reply(rpc.ErrorReply(xid, rpc.ProcUnavail))
	}
}

func encodeBool(v bool) []byte {
	w := xdr.NewWriter(4)
	w.WriteBool(v)
	return w.Bytes()
}

func isLoopback(ip net.IP) bool {
	return ip != nil && ip.IsLoopback()
}
