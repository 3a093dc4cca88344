package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrClientAddr = "client.address"

	AttrRPCXID       = "rpc.xid"
	AttrRPCProgram   = "rpc.program"
	AttrRPCVersion   = "rpc.version"
	AttrRPCProcedure = "rpc.procedure"
	AttrRPCAuthType  = "rpc.auth_type"
	AttrRPCTransport = "rpc.transport"

	AttrNFSHandle = "nfs.handle"
	AttrNFSStatus = "nfs.status"
	AttrNFSAccess = "nfs.export_access"

	AttrCacheState = "cache.state"

	AttrUID = "user.uid"
	AttrGID = "user.gid"
)

func ClientAddr(addr string) attribute.KeyValue { return attribute.String(AttrClientAddr, addr) }
func RPCXID(xid uint32) attribute.KeyValue      { return attribute.Int64(AttrRPCXID, int64(xid)) }
func RPCAuth(flavor uint32) attribute.KeyValue  { return attribute.Int64(AttrRPCAuthType, int64(flavor)) }
func RPCTransport(t string) attribute.KeyValue  { return attribute.String(AttrRPCTransport, t) }
func NFSStatus(status uint32) attribute.KeyValue {
	return attribute.Int64(AttrNFSStatus, int64(status))
}
func NFSAccess(access string) attribute.KeyValue { return attribute.String(AttrNFSAccess, access) }
func CacheState(state string) attribute.KeyValue { return attribute.String(AttrCacheState, state) }
func UID(uid uint32) attribute.KeyValue          { return attribute.Int64(AttrUID, int64(uid)) }
func GID(gid uint32) attribute.KeyValue          { return attribute.Int64(AttrGID, int64(gid)) }

// NFSHandle renders a file handle as hex.
func NFSHandle(handle []byte) attribute.KeyValue {
	return attribute.String(AttrNFSHandle, fmt.Sprintf("%x", handle))
}

// StartRPCSpan starts the span of one RPC procedure, named
// "<program>.<procedure>".
func StartRPCSpan(ctx context.Context, program string, prog, vers uint32, procedure string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{
		attribute.Int64(AttrRPCProgram, int64(prog)),
		attribute.Int64(AttrRPCVersion, int64(vers)),
		attribute.String(AttrRPCProcedure, procedure),
	}, attrs...)
	return StartSpan(ctx, program+"."+procedure,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...),
	)
}
