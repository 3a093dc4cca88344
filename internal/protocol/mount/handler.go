// Package mount implements the MOUNT program (RFC 1813 Appendix I),
// versions 1 to 3. Clients use it to obtain the root file handle of the
// export before talking NFS.
package mount

import (
	"context"
	"errors"
	"net"
	"path"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/telemetry"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/marmos91/nfs3gw/pkg/metrics"
)

// DefaultPath is the directory clients pass to MNT when none is configured.
const DefaultPath = "/"

// errGarbageArgs marks arguments that could not be decoded.
var errGarbageArgs = errors.New("mount: cannot decode arguments")

// Config holds the MOUNT options.
type Config struct {
	// Path is the exported directory name. Clients must mount exactly this
	// path.
	Path string

	// AllowInsecurePorts accepts calls from source ports above 1023.
	AllowInsecurePorts bool
}

// Handler serves the MOUNT program as an rpc.Handler.
type Handler struct {
	root     []byte
	exports  *export.Table
	registry *Registry
	metrics  metrics.RPCMetrics
	cfg      Config
}

// New returns a Handler handing out root as the handle of cfg.Path.
// registry and m may be nil.
func New(root []byte, exports *export.Table, registry *Registry, m metrics.RPCMetrics, cfg Config) *Handler {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	cfg.Path = path.Clean(cfg.Path)
	if registry == nil {
		registry = NewRegistry()
	}
	if m == nil {
		m = metrics.NewNoopRPCMetrics()
	}
	return &Handler{
		root:     root,
		exports:  exports,
		registry: registry,
		metrics:  m,
		cfg:      cfg,
	}
}

// Registry returns the mount list.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Program describes MOUNT versions 1 to 3.
func (h *Handler) Program() rpc.Program {
	return rpc.Program{
		Name:               "mount",
		Number:             Program,
		Low:                VersionLow,
		High:               Version,
		AllowInsecurePorts: h.cfg.AllowInsecurePorts,
	}
}

// MountContext is the per-call context of the MOUNT procedures.
type MountContext struct {
	Context context.Context

	// ClientIP is the textual client address, as recorded in the mount list.
	ClientIP string

	// Version selects the MNT reply layout.
	Version uint32

	AuthFlavor uint32
	Access     export.Access
}

// procedureHandler returns the encoded results and a mountstat3 for
// metrics. errGarbageArgs becomes GARBAGE_ARGS.
type procedureHandler func(h *Handler, ctx *MountContext, data []byte) ([]byte, uint32, error)

var dispatchTable = map[uint32]procedureHandler{
	ProcNull:    handleNull,
	ProcMnt:     handleMnt,
	ProcDump:    handleDump,
	ProcUmnt:    handleUmnt,
	ProcUmntAll: handleUmntAll,
	ProcExport:  handleExport,
}

// ServeRPC dispatches one MOUNT call.
func (h *Handler) ServeRPC(ctx context.Context, req *rpc.Request) rpc.Response {
	call := req.Call

	handle, ok := dispatchTable[call.Procedure]
	if !ok {
		logger.Debug("MOUNT: unknown procedure %d: xid=0x%x client=%s", call.Procedure, call.XID, req.Remote)
		return rpc.Reply(rpc.ErrorReply(call.XID, rpc.ProcUnavail))
	}
	name := procNames[call.Procedure]

	ip := req.ClientIP()
	mctx := &MountContext{
		Context:    ctx,
		ClientIP:   clientIP(ip, req.Remote),
		Version:    call.Version,
		AuthFlavor: call.Flavor(),
		Access:     export.None,
	}
	if h.exports != nil {
		mctx.Access = h.exports.Access(ip)
	}

	spanCtx, span := telemetry.StartRPCSpan(ctx, "mount", call.Program, call.Version, name,
		telemetry.RPCXID(call.XID),
		telemetry.ClientAddr(mctx.ClientIP),
		telemetry.RPCAuth(mctx.AuthFlavor),
		telemetry.RPCTransport(req.Transport),
	)
	defer span.End()
	mctx.Context = spanCtx

	start := time.Now()
	h.metrics.RecordRequestStart("mount", name)
	defer h.metrics.RecordRequestEnd("mount", name)

	body, status, err := handle(h, mctx, req.Args)
	if err != nil {
		logger.Debug("MOUNT %s: %v: xid=0x%x client=%s", name, err, call.XID, mctx.ClientIP)
		h.metrics.RecordRequest("mount", name, "GARBAGE_ARGS", time.Since(start))
		telemetry.RecordError(spanCtx, err)
		return rpc.Reply(rpc.ErrorReply(call.XID, rpc.GarbageArgs))
	}

	h.metrics.RecordRequest("mount", name, StatusName(status), time.Since(start))
	return rpc.Reply(rpc.SuccessReply(call.XID, body))
}

func clientIP(ip net.IP, remote net.Addr) string {
	if ip != nil {
		return ip.String()
	}
	if remote != nil {
		return remote.String()
	}
	return ""
}
