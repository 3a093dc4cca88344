package rpc

import (
	"errors"
	"fmt"

	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// ErrUnsupportedFlavor is returned when a call carries a credential flavor
// this server does not decode (AUTH_SHORT, AUTH_DH, or an unknown value).
var ErrUnsupportedFlavor = errors.New("rpc: unsupported authentication flavor")

// OpaqueAuth is the wire form of a credential or verifier: a flavor tag and
// an opaque body of at most MaxAuthBody bytes.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// VerifierNone is the AUTH_NONE verifier used in every reply.
var VerifierNone = OpaqueAuth{Flavor: AuthNone}

func readOpaqueAuth(r *xdr.Reader) (OpaqueAuth, error) {
	flavor, err := r.ReadUint32()
	if err != nil {
		return OpaqueAuth{}, err
	}
	body, err := r.ReadOpaque(MaxAuthBody)
	if err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: flavor, Body: body}, nil
}

func writeOpaqueAuth(w *xdr.Writer, a OpaqueAuth) {
	w.WriteUint32(a.Flavor)
	w.WriteOpaque(a.Body)
}

// Credentials is the decoded credential of a call. The concrete type is one
// of CredentialsNone, *CredentialsSys or *CredentialsGSS.
type Credentials interface {
	Flavor() uint32
	write(w *xdr.Writer)
}

// CredentialsNone is the empty AUTH_NONE credential.
type CredentialsNone struct{}

func (CredentialsNone) Flavor() uint32 { return AuthNone }

func (CredentialsNone) write(w *xdr.Writer) {
	writeOpaqueAuth(w, OpaqueAuth{Flavor: AuthNone})
}

// CredentialsSys is an AUTH_SYS credential.
//
// Wire format of the body:
//
//	struct authsys_parms {
//	    unsigned int stamp;
//	    string machinename<255>;
//	    unsigned int uid;
//	    unsigned int gid;
//	    unsigned int gids<16>;
//	};
type CredentialsSys struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	AuxGIDs     []uint32
}

func (*CredentialsSys) Flavor() uint32 { return AuthSys }

func (c *CredentialsSys) write(w *xdr.Writer) {
	body := xdr.NewWriter(24 + len(c.MachineName) + 4*len(c.AuxGIDs))
	body.WriteUint32(c.Stamp)
	body.WriteString(c.MachineName)
	body.WriteUint32(c.UID)
	body.WriteUint32(c.GID)
	body.WriteUint32(uint32(len(c.AuxGIDs)))
	for _, gid := range c.AuxGIDs {
		body.WriteUint32(gid)
	}
	writeOpaqueAuth(w, OpaqueAuth{Flavor: AuthSys, Body: body.Bytes()})
}

// String returns a human-readable form for logging.
func (c *CredentialsSys) String() string {
	return fmt.Sprintf("AUTH_SYS{machine=%s uid=%d gid=%d gids=%v}",
		c.MachineName, c.UID, c.GID, c.AuxGIDs)
}

// CredentialsGSS holds an RPCSEC_GSS credential body as received. The body
// is not interpreted.
type CredentialsGSS struct {
	Body []byte
}

func (*CredentialsGSS) Flavor() uint32 { return AuthGSS }

func (c *CredentialsGSS) write(w *xdr.Writer) {
	writeOpaqueAuth(w, OpaqueAuth{Flavor: AuthGSS, Body: c.Body})
}

// ReadCredentials decodes a credential: the flavor tag first, then the body
// whose layout depends on the flavor.
func ReadCredentials(r *xdr.Reader) (Credentials, error) {
	auth, err := readOpaqueAuth(r)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	switch auth.Flavor {
	case AuthNone:
		return CredentialsNone{}, nil
	case AuthSys:
		return ParseSysCredentials(auth.Body)
	case AuthGSS:
		body := make([]byte, len(auth.Body))
		copy(body, auth.Body)
		return &CredentialsGSS{Body: body}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFlavor, auth.Flavor)
	}
}

// ParseSysCredentials decodes an AUTH_SYS credential body.
func ParseSysCredentials(body []byte) (*CredentialsSys, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty AUTH_SYS body", xdr.ErrMalformed)
	}

	r := xdr.NewReader(body)
	c := &CredentialsSys{}

	var err error
	if c.Stamp, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}
	if c.MachineName, err = r.ReadString(MaxMachineName); err != nil {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	if c.UID, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if c.GID, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	count, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("read gid count: %w", err)
	}
	if count > MaxAuxGIDs {
		return nil, fmt.Errorf("%w: too many gids (%d)", xdr.ErrMalformed, count)
	}

	c.AuxGIDs = make([]uint32, count)
	for i := range c.AuxGIDs {
		if c.AuxGIDs[i], err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("read gid %d: %w", i, err)
		}
	}

	return c, nil
}
