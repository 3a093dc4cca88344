package rpc

// RPCVersion is the only ONC RPC protocol version served (RFC 5531).
const RPCVersion = 2

// Well-known program numbers.
//
// Reference: RFC 1833 (portmap), RFC 1813 (NFS and MOUNT)
const (
	// ProgramPortmap is the port mapper program number (RFC 1833).
	ProgramPortmap = 100000

	// ProgramNFS is the NFS program number (RFC 1813).
	ProgramNFS = 100003

	// ProgramMount is the MOUNT program number (RFC 1813 Appendix I).
	ProgramMount = 100005
)

// Message types (msg_type).
const (
	// MsgCall indicates an RPC call message.
	MsgCall = 0

	// MsgReply indicates an RPC reply message.
	MsgReply = 1
)

// Reply states (reply_stat).
const (
	// MsgAccepted indicates the server accepted the call. The accept_stat
	// tells whether the procedure actually ran.
	MsgAccepted = 0

	// MsgDenied indicates the call was rejected before dispatch, because of
	// an RPC version mismatch or an authentication failure.
	MsgDenied = 1
)

// Accept status (accept_stat) of an accepted reply.
//
// Reference: RFC 5531 Section 9
const (
	// Success means the procedure executed and results follow.
	Success = 0

	// ProgUnavail means the program is not exported by this server.
	ProgUnavail = 1

	// ProgMismatch means the version is not supported. The reply carries
	// the lowest and highest supported versions.
	ProgMismatch = 2

	// ProcUnavail means the program cannot support the procedure.
	ProcUnavail = 3

	// GarbageArgs means the procedure could not decode its arguments.
	GarbageArgs = 4

	// SystemErr means the server failed for a reason unrelated to the call,
	// such as memory allocation failure.
	SystemErr = 5
)

// Reject status (reject_stat) of a denied reply.
const (
	// RPCMismatch means the RPC version is not 2. The reply carries the
	// supported range.
	RPCMismatch = 0

	// AuthError means the caller could not be authenticated. The reply
	// carries an auth_stat.
	AuthError = 1
)

// Authentication status (auth_stat) carried by an AUTH_ERROR reply.
const (
	AuthOK           = 0
	AuthBadCred      = 1
	AuthRejectedCred = 2
	AuthBadVerf      = 3
	AuthRejectedVerf = 4
	AuthTooWeak      = 5
)

// Authentication flavors.
//
// Reference: RFC 5531 Section 8.2, RFC 2203 (RPCSEC_GSS)
const (
	// AuthNone carries no identity (AUTH_NONE, formerly AUTH_NULL).
	AuthNone = 0

	// AuthSys carries Unix uid/gid credentials (AUTH_SYS, formerly AUTH_UNIX).
	AuthSys = 1

	// AuthShort is the server-issued shorthand credential. Not accepted.
	AuthShort = 2

	// AuthDH is Diffie-Hellman authentication. Not accepted.
	AuthDH = 3

	// AuthGSS is RPCSEC_GSS. Recognised and routed, never validated.
	AuthGSS = 6
)

// Transport protocol numbers as used by portmap mappings.
const (
	IPProtoTCP = 6
	IPProtoUDP = 17
)

const (
	// MaxAuthBody is the largest credential or verifier body (RFC 5531).
	MaxAuthBody = 400

	// MaxMachineName bounds the AUTH_SYS machine name.
	MaxMachineName = 255

	// MaxAuxGIDs bounds the AUTH_SYS supplementary group list.
	MaxAuxGIDs = 16

	// PrivilegedPortLimit is the highest source port considered privileged.
	PrivilegedPortLimit = 1023
)
