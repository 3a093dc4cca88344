package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// DefaultCallTimeout bounds a client call when no timeout is configured.
const DefaultCallTimeout = 10 * time.Second

// Client issues single RPC calls to a remote program. A new connection is
// used for every call, which suits the infrequent registration and query
// traffic it is used for.
type Client struct {
	network string
	address string
	timeout time.Duration
	xids    *XIDGenerator
	creds   Credentials
}

// NewClient returns a client for network ("tcp" or "udp") and address.
func NewClient(network, address string, timeout time.Duration, xids *XIDGenerator) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if xids == nil {
		xids = NewXIDGenerator()
	}
	return &Client{
		network: network,
		address: address,
		timeout: timeout,
		xids:    xids,
		creds:   CredentialsNone{},
	}
}

// WithCredentials sets the credentials sent with every call.
func (c *Client) WithCredentials(creds Credentials) *Client {
	c.creds = creds
	return c
}

// Call sends one call and returns the procedure results of a SUCCESS reply.
// Any other reply is returned as an error.
func (c *Client) Call(ctx context.Context, prog, vers, proc uint32, args []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	xid := c.xids.Next(fmt.Sprintf("%s:%d", c.address, prog))
	call := &Call{
		XID:         xid,
		Program:     prog,
		Version:     vers,
		Procedure:   proc,
		Credentials: c.creds,
		Verifier:    VerifierNone,
	}

	w := xdr.NewWriter(64 + len(args))
	if err := call.Write(w); err != nil {
		return nil, err
	}
	_, _ = w.Write(args)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", c.network, c.address, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var msg []byte
	switch c.network {
	case "udp", "udp4", "udp6":
		msg, err = roundTripDatagram(conn, w.Bytes(), xid)
	default:
		msg, err = roundTripStream(conn, w.Bytes(), xid)
	}
	if err != nil {
		return nil, fmt.Errorf("call prog=%d vers=%d proc=%d on %s: %w", prog, vers, proc, c.address, err)
	}

	r := xdr.NewReader(msg)
	reply, err := ReadReply(r)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return r.Rest(), nil
}

func roundTripDatagram(conn net.Conn, msg []byte, xid uint32) ([]byte, error) {
	if _, err := conn.Write(msg); err != nil {
		return nil, err
	}

	buf := make([]byte, 65536)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		if n >= 4 && replyXID(buf[:n]) == xid {
			return buf[:n], nil
		}
	}
}

func roundTripStream(conn net.Conn, msg []byte, xid uint32) ([]byte, error) {
	if err := WriteRecord(conn, msg); err != nil {
		return nil, err
	}

	dec := NewRecordDecoder(0)
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				return nil, ferr
			}
			for _, m := range msgs {
				if len(m) >= 4 && replyXID(m) == xid {
					return m, nil
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func replyXID(msg []byte) uint32 {
	return uint32(msg[0])<<24 | uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3])
}
