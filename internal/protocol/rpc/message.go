package rpc

import (
	"errors"
	"fmt"

	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// callHeader is the fixed-layout prefix of every call message.
type callHeader struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
}

// Call is a decoded RPC call message.
//
// Wire format (RFC 5531 Section 9):
//
//	xid, msg_type=CALL, rpcvers=2, prog, vers, proc,
//	opaque_auth cred, opaque_auth verf, procedure arguments...
type Call struct {
	XID         uint32
	RPCVersion  uint32
	Program     uint32
	Version     uint32
	Procedure   uint32
	Credentials Credentials
	Verifier    OpaqueAuth
}

// Flavor returns the credential flavor, or AuthNone when none was decoded.
func (c *Call) Flavor() uint32 {
	if c.Credentials == nil {
		return AuthNone
	}
	return c.Credentials.Flavor()
}

// Sys returns the AUTH_SYS credential, or nil for any other flavor.
func (c *Call) Sys() *CredentialsSys {
	sys, _ := c.Credentials.(*CredentialsSys)
	return sys
}

// ReadCall decodes a call header, its credentials and verifier. On success
// the reader is positioned at the procedure arguments.
//
// When the credential flavor is unsupported the returned Call is non-nil
// with the header fields populated, so that the caller can send a denied
// reply carrying the right XID. The error wraps ErrUnsupportedFlavor.
func ReadCall(r *xdr.Reader) (*Call, error) {
	var hdr callHeader
	if err := r.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("read call header: %w", err)
	}
	if hdr.MsgType != MsgCall {
		return nil, fmt.Errorf("%w: expected CALL (0), got %d", xdr.ErrMalformed, hdr.MsgType)
	}

	call := &Call{
		XID:        hdr.XID,
		RPCVersion: hdr.RPCVersion,
		Program:    hdr.Program,
		Version:    hdr.Version,
		Procedure:  hdr.Procedure,
	}

	creds, err := ReadCredentials(r)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFlavor) {
			return call, err
		}
		return nil, err
	}
	call.Credentials = creds

	verf, err := readOpaqueAuth(r)
	if err != nil {
		return nil, fmt.Errorf("read verifier: %w", err)
	}
	call.Verifier = verf

	return call, nil
}

// Write encodes the call header, credentials and verifier. Procedure
// arguments are appended by the caller.
func (c *Call) Write(w *xdr.Writer) error {
	hdr := callHeader{
		XID:        c.XID,
		MsgType:    MsgCall,
		RPCVersion: RPCVersion,
		Program:    c.Program,
		Version:    c.Version,
		Procedure:  c.Procedure,
	}
	if err := w.Encode(&hdr); err != nil {
		return err
	}

	creds := c.Credentials
	if creds == nil {
		creds = CredentialsNone{}
	}
	creds.write(w)
	writeOpaqueAuth(w, c.Verifier)
	return nil
}

// ============================================================================
// Replies
// ============================================================================

// replyHeader is the fixed prefix shared by accepted and denied replies.
type replyHeader struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
}

// NewAcceptedReply starts an accepted reply with an AUTH_NONE verifier and
// the given accept status. Procedure results are appended to the returned
// writer by the caller.
func NewAcceptedReply(xid uint32, acceptStat uint32) *xdr.Writer {
	w := xdr.NewWriter(128)
	writeAcceptedHeader(w, xid, acceptStat)
	return w
}

func writeAcceptedHeader(w *xdr.Writer, xid uint32, acceptStat uint32) {
	w.WriteUint32(xid)
	w.WriteUint32(MsgReply)
	w.WriteUint32(MsgAccepted)
	writeOpaqueAuth(w, VerifierNone)
	w.WriteUint32(acceptStat)
}

// SuccessReply builds a complete SUCCESS reply around already-encoded results.
func SuccessReply(xid uint32, results []byte) []byte {
	w := xdr.NewWriter(24 + len(results))
	writeAcceptedHeader(w, xid, Success)
	_, _ = w.Write(results)
	return w.Bytes()
}

// ErrorReply builds an accepted reply carrying a failure accept status
// (PROG_UNAVAIL, PROC_UNAVAIL, GARBAGE_ARGS or SYSTEM_ERR).
func ErrorReply(xid uint32, acceptStat uint32) []byte {
	return NewAcceptedReply(xid, acceptStat).Bytes()
}

// ProgMismatchReply builds an accepted PROG_MISMATCH reply with the
// supported version range.
func ProgMismatchReply(xid uint32, low, high uint32) []byte {
	w := NewAcceptedReply(xid, ProgMismatch)
	w.WriteUint32(low)
	w.WriteUint32(high)
	return w.Bytes()
}

// RPCMismatchReply builds a denied RPC_MISMATCH reply.
func RPCMismatchReply(xid uint32) []byte {
	w := xdr.NewWriter(24)
	_ = w.Encode(&replyHeader{XID: xid, MsgType: MsgReply, ReplyState: MsgDenied})
	w.WriteUint32(RPCMismatch)
	w.WriteUint32(RPCVersion)
	w.WriteUint32(RPCVersion)
	return w.Bytes()
}

// AuthErrorReply builds a denied AUTH_ERROR reply with the given auth_stat.
func AuthErrorReply(xid uint32, authStat uint32) []byte {
	w := xdr.NewWriter(20)
	_ = w.Encode(&replyHeader{XID: xid, MsgType: MsgReply, ReplyState: MsgDenied})
	w.WriteUint32(AuthError)
	w.WriteUint32(authStat)
	return w.Bytes()
}

// ReplyHeader is a decoded reply header, used by the client side.
type ReplyHeader struct {
	XID      uint32
	Accepted bool
	Verifier OpaqueAuth

	// AcceptStat is valid when Accepted is true.
	AcceptStat uint32

	// RejectStat and AuthStat are valid when Accepted is false.
	RejectStat uint32
	AuthStat   uint32

	// Low and High carry the range of a PROG_MISMATCH or RPC_MISMATCH.
	Low  uint32
	High uint32
}

// ReadReply decodes a reply header. On an accepted SUCCESS reply the reader
// is positioned at the procedure results.
func ReadReply(r *xdr.Reader) (*ReplyHeader, error) {
	var hdr replyHeader
	if err := r.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("read reply header: %w", err)
	}
	if hdr.MsgType != MsgReply {
		return nil, fmt.Errorf("%w: expected REPLY (1), got %d", xdr.ErrMalformed, hdr.MsgType)
	}

	reply := &ReplyHeader{XID: hdr.XID}
	var err error

	switch hdr.ReplyState {
	case MsgAccepted:
		reply.Accepted = true
		if reply.Verifier, err = readOpaqueAuth(r); err != nil {
			return nil, fmt.Errorf("read verifier: %w", err)
		}
		if reply.AcceptStat, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if reply.AcceptStat == ProgMismatch {
			if reply.Low, err = r.ReadUint32(); err != nil {
				return nil, err
			}
			if reply.High, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		}

	case MsgDenied:
		if reply.RejectStat, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		switch reply.RejectStat {
		case RPCMismatch:
			if reply.Low, err = r.ReadUint32(); err != nil {
				return nil, err
			}
			if reply.High, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		case AuthError:
			if reply.AuthStat, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown reject status %d", xdr.ErrMalformed, reply.RejectStat)
		}

	default:
		return nil, fmt.Errorf("%w: unknown reply state %d", xdr.ErrMalformed, hdr.ReplyState)
	}

	return reply, nil
}

// Err converts a non-successful reply into an error, or returns nil.
func (r *ReplyHeader) Err() error {
	if r.Accepted {
		switch r.AcceptStat {
		case Success:
			return nil
		case ProgMismatch:
			return fmt.Errorf("rpc: program version mismatch (supported %d-%d)", r.Low, r.High)
		default:
			return &AcceptError{Stat: r.AcceptStat}
		}
	}
	if r.RejectStat == AuthError {
		return fmt.Errorf("rpc: call denied: auth error %d", r.AuthStat)
	}
	return fmt.Errorf("rpc: call denied: rpc version mismatch (supported %d-%d)", r.Low, r.High)
}

// AcceptError reports an accepted reply with a failure status.
type AcceptError struct {
	Stat uint32
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("rpc: call failed: %s", AcceptStatName(e.Stat))
}

// AcceptStatName returns the RFC name of an accept status.
func AcceptStatName(stat uint32) string {
	switch stat {
	case Success:
		return "SUCCESS"
	case ProgUnavail:
		return "PROG_UNAVAIL"
	case ProgMismatch:
		return "PROG_MISMATCH"
	case ProcUnavail:
		return "PROC_UNAVAIL"
	case GarbageArgs:
		return "GARBAGE_ARGS"
	case SystemErr:
		return "SYSTEM_ERR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", stat)
	}
}
