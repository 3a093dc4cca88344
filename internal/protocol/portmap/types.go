// Package portmap implements the port mapper program (RFC 1833, version 2):
// a registry of (program, version, protocol) to port mappings, the RPC
// handler serving it, and the client used by every program to register
// itself at startup.
package portmap

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

const (
	// Program is the port mapper program number.
	Program = rpc.ProgramPortmap

	// Version is the only port mapper version served.
	Version = 2

	// DefaultPort is the well-known port mapper port.
	DefaultPort = 111
)

// Procedures of port mapper version 2.
const (
	ProcNull    = 0
	ProcSet     = 1
	ProcUnset   = 2
	ProcGetport = 3
	ProcDump    = 4
	ProcCallit  = 5
)

// Protocol numbers used in mappings.
const (
	ProtoTCP = rpc.IPProtoTCP
	ProtoUDP = rpc.IPProtoUDP
)

// Mapping is a single port mapper registration.
//
//	struct mapping {
//	    unsigned int prog;
//	    unsigned int vers;
//	    unsigned int prot;
//	    unsigned int port;
//	};
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

func (m Mapping) String() string {
	return fmt.Sprintf("prog=%d vers=%d prot=%s port=%d", m.Prog, m.Vers, ProtoName(m.Prot), m.Port)
}

// ProtoName returns "tcp", "udp" or the protocol number.
func ProtoName(prot uint32) string {
	switch prot {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	}
	return fmt.Sprintf("%d", prot)
}

// ProtoNumber maps a network name to its mapping protocol number.
func ProtoNumber(network string) (uint32, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return ProtoTCP, nil
	case "udp", "udp4", "udp6":
		return ProtoUDP, nil
	}
	return 0, fmt.Errorf("unknown transport %q", network)
}

// DecodeMapping reads a mapping argument.
func DecodeMapping(data []byte) (Mapping, error) {
	var m Mapping
	if err := xdr.NewReader(data).Decode(&m); err != nil {
		return Mapping{}, fmt.Errorf("decode mapping: %w", err)
	}
	return m, nil
}

// EncodeMapping writes a mapping argument.
func EncodeMapping(m Mapping) []byte {
	w := xdr.NewWriter(16)
	_ = w.Encode(&m)
	return w.Bytes()
}

// EncodeDump writes a DUMP result: an XDR optional-data linked list where
// each entry is preceded by TRUE and the list ends with FALSE.
func EncodeDump(mappings []Mapping) []byte {
	w := xdr.NewWriter(4 + 20*len(mappings))
	for i := range mappings {
		w.WriteBool(true)
		_ = w.Encode(&mappings[i])
	}
	w.WriteBool(false)
	return w.Bytes()
}

// DecodeDump reads a DUMP result.
func DecodeDump(data []byte) ([]Mapping, error) {
	r := xdr.NewReader(data)
	var out []Mapping
	for {
		more, err := r.ReadBool()
		if err != nil {
			return nil, fmt.Errorf("decode dump: %w", err)
		}
		if !more {
			return out, nil
		}
		var m Mapping
		if err := r.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode dump entry: %w", err)
		}
		out = append(out, m)
	}
}
