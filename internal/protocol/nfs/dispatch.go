package nfs

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc/callcache"
	"github.com/marmos91/nfs3gw/internal/telemetry"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/marmos91/nfs3gw/pkg/metrics"
)

// Config holds the dispatcher options.
type Config struct {
	// AllowInsecurePorts accepts calls from source ports above 1023.
	AllowInsecurePorts bool
}

// Dispatcher serves NFS version 3 as an rpc.Handler.
//
// For every call it checks the credential flavor, resolves the client's
// export access, consults the call cache for non-idempotent procedures,
// and routes the arguments to the matching procedure in the handlers
// package. WRITE and COMMIT reply asynchronously through rpc.Deferred.
type Dispatcher struct {
	handler *handlers.Handler
	exports *export.Table
	cache   *callcache.Cache
	metrics metrics.RPCMetrics
	cfg     Config
}

// NewDispatcher wires the procedures to their collaborators. cache and m
// may be nil.
func NewDispatcher(h *handlers.Handler, exports *export.Table, cache *callcache.Cache, m metrics.RPCMetrics, cfg Config) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopRPCMetrics()
	}
	return &Dispatcher{
		handler: h,
		exports: exports,
		cache:   cache,
		metrics: m,
		cfg:     cfg,
	}
}

// Program describes NFS version 3.
func (d *Dispatcher) Program() rpc.Program {
	return rpc.Program{
		Name:               "nfs",
		Number:             types.ProgramNFS,
		Low:                types.NFSVersion,
		High:               types.NFSVersion,
		AllowInsecurePorts: d.cfg.AllowInsecurePorts,
	}
}

// ServeRPC dispatches one NFS call.
func (d *Dispatcher) ServeRPC(ctx context.Context, req *rpc.Request) rpc.Response {
	call := req.Call
	xid := call.XID

	info, ok := dispatchTable[call.Procedure]
	if !ok {
		logger.Debug("NFS: unknown procedure %d: xid=0x%x client=%s", call.Procedure, xid, req.Remote)
		return rpc.Reply(rpc.ErrorReply(xid, rpc.ProcUnavail))
	}

	// ===== Authentication =====

	flavor := call.Flavor()
	if info.NeedsAuth && flavor != rpc.AuthSys && flavor != rpc.AuthGSS {
		logger.Warn("NFS %s rejected: auth flavor %d too weak: xid=0x%x client=%s", info.Name, flavor, xid, req.Remote)
		return rpc.Reply(rpc.AuthErrorReply(xid, rpc.AuthTooWeak))
	}

	clientIP := req.ClientIP()

	// ===== Retransmission check =====

	cached := info.NonIdempotent && d.cache != nil && clientIP != nil
	if cached {
		entry, hit := d.cache.CheckOrAdd(clientIP, xid)
		if hit {
			switch entry.State {
			case callcache.Completed:
				logger.Info("NFS %s retransmission replayed: xid=0x%x client=%s", info.Name, xid, req.Remote)
				d.metrics.RecordRetransmission("replayed")
				return rpc.Reply(entry.Reply)
			default:
				logger.Debug("NFS %s retransmission dropped: in progress: xid=0x%x client=%s", info.Name, xid, req.Remote)
				d.metrics.RecordRetransmission("dropped")
				return rpc.Drop()
			}
		}
	}

	// ===== Execution =====

	hctx := d.handlerContext(ctx, req, clientIP)

	spanCtx, span := telemetry.StartRPCSpan(ctx, "nfs", call.Program, call.Version, info.Name,
		telemetry.RPCXID(xid),
		telemetry.ClientAddr(hctx.ClientAddr),
		telemetry.RPCAuth(flavor),
		telemetry.RPCTransport(req.Transport),
		telemetry.NFSAccess(hctx.Access.String()),
	)
	hctx.Context = spanCtx

	c := &pendingCall{
		d:        d,
		info:     info,
		xid:      xid,
		clientIP: clientIP,
		cached:   cached,
		span:     span,
		start:    time.Now(),
	}
	d.metrics.RecordRequestStart("nfs", info.Name)

	// The transport recovers panics. Release the call first so the
	// client's retransmission is not dropped as in progress.
	defer func() {
		if r := recover(); r != nil {
			c.abandon()
			panic(r)
		}
	}()

	if info.Async {
		deferred := rpc.NewDeferred(xid, req.Sender, c.record)
		info.Handler(d, hctx, req.Args, func(body []byte, status uint32) {
			c.finish(status)
			if err := deferred.Complete(body); err != nil {
				logger.Warn("NFS %s: sending deferred reply failed: xid=0x%x client=%s error=%v",
					info.Name, xid, hctx.ClientAddr, err)
			}
		})
		return rpc.Defer()
	}

	var body []byte
	var status uint32
	info.Handler(d, hctx, req.Args, func(b []byte, s uint32) {
		body, status = b, s
	})
	c.finish(status)

	reply := rpc.SuccessReply(xid, body)
	c.record(reply)
	return rpc.Reply(reply)
}

// handlerContext builds the per-call context handed to the procedures.
func (d *Dispatcher) handlerContext(ctx context.Context, req *rpc.Request, clientIP net.IP) *handlers.NFSHandlerContext {
	hctx := &handlers.NFSHandlerContext{
		Context:    ctx,
		ClientAddr: addrString(req.Remote),
		AuthFlavor: req.Call.Flavor(),
		Access:     export.None,
	}

	if sys := req.Call.Sys(); sys != nil {
		uid, gid := sys.UID, sys.GID
		hctx.UID = &uid
		hctx.GID = &gid
		hctx.GIDs = append([]uint32(nil), sys.AuxGIDs...)
	}

	if d.exports != nil && clientIP != nil {
		hctx.Access = d.exports.Access(clientIP)
	}
	return hctx
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// pendingCall tracks one call from dispatch until its reply is built.
type pendingCall struct {
	d        *Dispatcher
	info     *procedureInfo
	xid      uint32
	clientIP net.IP
	cached   bool
	span     trace.Span
	start    time.Time
	finished atomic.Bool
}

// finish records metrics and closes the span once the status is known.
func (c *pendingCall) finish(status uint32) {
	if !c.finished.CompareAndSwap(false, true) {
		return
	}
	name := types.StatusName(status)
	c.d.metrics.RecordRequestEnd("nfs", c.info.Name)
	c.d.metrics.RecordRequest("nfs", c.info.Name, name, time.Since(c.start))

	c.span.SetAttributes(telemetry.NFSStatus(status))
	c.span.End()

	if status != types.NFS3OK {
		logger.Debug("NFS %s: xid=0x%x status=%s", c.info.Name, c.xid, name)
	}
}

// abandon releases a call whose procedure panicked before replying.
func (c *pendingCall) abandon() {
	if c.cached {
		c.d.cache.Remove(c.clientIP, c.xid)
	}
	if c.finished.CompareAndSwap(false, true) {
		c.d.metrics.RecordRequestEnd("nfs", c.info.Name)
		c.span.End()
	}
	logger.Error("NFS %s panicked: xid=0x%x client=%s", c.info.Name, c.xid, c.clientIP)
}

// record stores the serialised reply in the call cache.
func (c *pendingCall) record(reply []byte) {
	if c.cached {
		c.d.cache.Completed(c.clientIP, c.xid, reply)
	}
}
