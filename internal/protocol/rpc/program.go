package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// Program describes an RPC program served by this process.
type Program struct {
	// Name is used in logs only.
	Name string

	// Number is the RPC program number.
	Number uint32

	// Low and High bound the supported versions, inclusive.
	Low  uint32
	High uint32

	// AllowInsecurePorts disables the privileged source port check.
	AllowInsecurePorts bool
}

// Supports reports whether version lies in [Low, High].
func (p Program) Supports(version uint32) bool {
	return version >= p.Low && version <= p.High
}

func (p Program) String() string {
	return fmt.Sprintf("%s(%d v%d-%d)", p.Name, p.Number, p.Low, p.High)
}

// ReplySender writes a complete reply message back to the caller. TCP
// senders add record marking. Implementations must be safe for concurrent
// use because deferred replies arrive from other goroutines.
type ReplySender interface {
	SendReply(msg []byte) error
}

// Request is a call accepted by the transport and routed to a program.
type Request struct {
	Call *Call

	// Args holds the procedure arguments that follow the verifier.
	Args []byte

	Remote    net.Addr
	Transport string
	Sender    ReplySender
}

// ClientIP returns the IP of the remote address, or nil.
func (r *Request) ClientIP() net.IP {
	return AddrIP(r.Remote)
}

// ClientPort returns the source port of the remote address, or 0.
func (r *Request) ClientPort() int {
	switch a := r.Remote.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return 0
}

// AddrIP extracts the IP of a TCP or UDP address.
func AddrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// ResponseKind tells the transport what to do after a handler returns.
type ResponseKind int

const (
	// ReplyNow means Body holds the full reply to send immediately.
	ReplyNow ResponseKind = iota

	// ReplyDeferred means the reply will be sent later through a Deferred.
	ReplyDeferred

	// ReplyDropped means no reply is sent, e.g. a retransmission of a call
	// still in progress.
	ReplyDropped
)

// Response is the outcome of dispatching a call.
type Response struct {
	Kind ResponseKind
	Body []byte
}

// Reply returns a ReplyNow response.
func Reply(body []byte) Response {
	return Response{Kind: ReplyNow, Body: body}
}

// Defer returns a ReplyDeferred response.
func Defer() Response {
	return Response{Kind: ReplyDeferred}
}

// Drop returns a ReplyDropped response.
func Drop() Response {
	return Response{Kind: ReplyDropped}
}

// Handler serves the calls of one program.
type Handler interface {
	Program() Program
	ServeRPC(ctx context.Context, req *Request) Response
}

// Mux routes calls to the handler registered for their program.
//
// Before a handler sees a call the mux answers:
//   - RPC version other than 2: denied RPC_MISMATCH
//   - unsupported credential flavor: denied AUTH_ERROR(AUTH_BADCRED)
//   - unknown program: PROG_UNAVAIL
//   - version outside the program range: PROG_MISMATCH(low, high)
//   - non-privileged source port when required: denied AUTH_ERROR(AUTH_TOOWEAK)
type Mux struct {
	mu       sync.RWMutex
	handlers map[uint32]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[uint32]Handler)}
}

// Handle registers h for its program number, replacing any previous handler.
func (m *Mux) Handle(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[h.Program().Number] = h
}

// Programs returns the registered programs ordered by number.
func (m *Mux) Programs() []Program {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Program, 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h.Program())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ServeMessage decodes one complete call message and dispatches it.
//
// A message that cannot be parsed far enough to learn its XID returns an
// error and no response; the transport decides whether to drop the datagram
// or keep the connection.
func (m *Mux) ServeMessage(ctx context.Context, msg []byte, remote net.Addr, transport string, sender ReplySender) (Response, error) {
	r := xdr.NewReader(msg)
	call, err := ReadCall(r)
	if err != nil {
		if call != nil && errors.Is(err, ErrUnsupportedFlavor) {
			logger.Debug("RPC: xid=0x%x client=%s: %v", call.XID, remote, err)
			return Reply(AuthErrorReply(call.XID, AuthBadCred)), nil
		}
		return Response{}, fmt.Errorf("parse call: %w", err)
	}

	req := &Request{
		Call:      call,
		Args:      r.Rest(),
		Remote:    remote,
		Transport: transport,
		Sender:    sender,
	}
	return m.Dispatch(ctx, req), nil
}

// Dispatch applies the program checks and invokes the matching handler.
func (m *Mux) Dispatch(ctx context.Context, req *Request) Response {
	call := req.Call

	if call.RPCVersion != RPCVersion {
		logger.Debug("RPC: xid=0x%x unsupported rpc version %d from %s", call.XID, call.RPCVersion, req.Remote)
		return Reply(RPCMismatchReply(call.XID))
	}

	m.mu.RLock()
	h, ok := m.handlers[call.Program]
	m.mu.RUnlock()

	if !ok {
		logger.Debug("RPC: xid=0x%x unknown program %d from %s", call.XID, call.Program, req.Remote)
		return Reply(ErrorReply(call.XID, ProgUnavail))
	}

	prog := h.Program()
	if !prog.Supports(call.Version) {
		logger.Debug("RPC: xid=0x%x %s version %d not supported", call.XID, prog.Name, call.Version)
		return Reply(ProgMismatchReply(call.XID, prog.Low, prog.High))
	}

	if !prog.AllowInsecurePorts && call.Procedure != 0 {
		if port := req.ClientPort(); port > PrivilegedPortLimit {
			logger.Warn("RPC: %s rejected call from unprivileged port: client=%s", prog.Name, req.Remote)
			return Reply(AuthErrorReply(call.XID, AuthTooWeak))
		}
	}

	return h.ServeRPC(ctx, req)
}
