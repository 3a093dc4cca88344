package portmap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// Client talks to a port mapper.
type Client struct {
	rpc *rpc.Client
}

// NewClient returns a client for the port mapper at host:port over network.
func NewClient(network, host string, port int, timeout time.Duration, xids *rpc.XIDGenerator) *Client {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Client{rpc: rpc.NewClient(network, addr, timeout, xids)}
}

// Null pings the port mapper.
func (c *Client) Null(ctx context.Context) error {
	_, err := c.rpc.Call(ctx, Program, Version, ProcNull, nil)
	return err
}

// Set registers m and returns the boolean answer.
func (c *Client) Set(ctx context.Context, m Mapping) (bool, error) {
	return c.boolCall(ctx, ProcSet, m)
}

// Unset removes m and returns the boolean answer.
func (c *Client) Unset(ctx context.Context, m Mapping) (bool, error) {
	return c.boolCall(ctx, ProcUnset, m)
}

// GetPort returns the port of (prog, vers, prot), or 0 if unregistered.
func (c *Client) GetPort(ctx context.Context, prog, vers, prot uint32) (uint32, error) {
	out, err := c.rpc.Call(ctx, Program, Version, ProcGetport, EncodeMapping(Mapping{Prog: prog, Vers: vers, Prot: prot}))
	if err != nil {
		return 0, err
	}
	return xdr.NewReader(out).ReadUint32()
}

// Dump lists every mapping.
func (c *Client) Dump(ctx context.Context) ([]Mapping, error) {
	out, err := c.rpc.Call(ctx, Program, Version, ProcDump, nil)
	if err != nil {
		return nil, err
	}
	return DecodeDump(out)
}

func (c *Client) boolCall(ctx context.Context, proc uint32, m Mapping) (bool, error) {
	out, err := c.rpc.Call(ctx, Program, Version, proc, EncodeMapping(m))
	if err != nil {
		return false, err
	}
	return xdr.NewReader(out).ReadBool()
}

// Registration is one program served on one transport.
type Registration struct {
	Program rpc.Program
	Network string
	Port    int
}

func (r Registration) mappings() ([]Mapping, error) {
	prot, err := ProtoNumber(r.Network)
	if err != nil {
		return nil, err
	}
	out := make([]Mapping, 0, r.Program.High-r.Program.Low+1)
	for vers := r.Program.Low; vers <= r.Program.High; vers++ {
		out = append(out, Mapping{Prog: r.Program.Number, Vers: vers, Prot: prot, Port: uint32(r.Port)})
	}
	return out, nil
}

// Register sets a mapping for every version low..high of the program.
// Stale mappings left by a previous run are removed first. Any failure or
// FALSE answer is returned as an error; the caller treats it as fatal.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	mappings, err := reg.mappings()
	if err != nil {
		return err
	}
	for _, m := range mappings {
		stale := m
		stale.Port = 0
		if _, err := c.Unset(ctx, stale); err != nil {
			return fmt.Errorf("portmap unset %s: %w", m, err)
		}
		ok, err := c.Set(ctx, m)
		if err != nil {
			return fmt.Errorf("portmap set %s: %w", m, err)
		}
		if !ok {
			return fmt.Errorf("portmap set %s: rejected", m)
		}
		logger.Info("Registered %s with portmap: %s", reg.Program.Name, m)
	}
	return nil
}

// Unregister removes every version of the program. Failures are logged and
// the first one is returned after all versions were attempted.
func (c *Client) Unregister(ctx context.Context, reg Registration) error {
	mappings, err := reg.mappings()
	if err != nil {
		return err
	}
	var first error
	for _, m := range mappings {
		if _, err := c.Unset(ctx, m); err != nil {
			logger.Warn("Failed to unregister %s from portmap: %s: %v", reg.Program.Name, m, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
