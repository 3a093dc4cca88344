// Package handlers implements the NFSv3 procedures (RFC 1813) on top of a
// store.Store.
//
// Each procedure has a Request type with a DecodeXRequest function, a
// Response type with an Encode method, and a method on Handler that turns
// one into the other. Handlers never return internal error text to the
// client: every failure becomes an nfsstat3 code, and every mutating
// procedure carries wcc_data on success and failure alike.
package handlers

import (
	"github.com/marmos91/nfs3gw/pkg/identity"
	"github.com/marmos91/nfs3gw/pkg/store"
	"github.com/marmos91/nfs3gw/pkg/writemgr"
)

// Default transfer sizes advertised by FSINFO.
const (
	DefaultRTMax  = 1 << 20
	DefaultWTMax  = 1 << 20
	DefaultDTPref = 64 << 10
)

// Config holds the tunables of the NFS procedures.
type Config struct {
	// RTMax bounds READ and READLINK replies.
	RTMax uint32

	// WTMax is the largest WRITE advertised by FSINFO.
	WTMax uint32

	// DTPref is the preferred READDIR request size.
	DTPref uint32

	// AIXCompat ignores READDIR cookie verifier mismatches. AIX clients
	// reuse a stale verifier across independent directory reads.
	AIXCompat bool

	// MaxObjects is the file slot count reported by FSSTAT. Zero means
	// unlimited.
	MaxObjects uint64
}

func (c *Config) applyDefaults() {
	if c.RTMax == 0 {
		c.RTMax = DefaultRTMax
	}
	if c.WTMax == 0 {
		c.WTMax = DefaultWTMax
	}
	if c.DTPref == 0 {
		c.DTPref = DefaultDTPref
	}
}

// Handler serves the NFSv3 procedures.
type Handler struct {
	store  store.Store
	writes *writemgr.Manager
	ids    identity.Service
	cfg    Config
	locks  *fileLocks
}

// New builds a Handler. writes must wrap the same store.
func New(st store.Store, writes *writemgr.Manager, ids identity.Service, cfg Config) *Handler {
	cfg.applyDefaults()
	return &Handler{
		store:  st,
		writes: writes,
		ids:    ids,
		cfg:    cfg,
		locks:  newFileLocks(),
	}
}

// Config returns the effective configuration.
func (h *Handler) Config() Config {
	return h.cfg
}

// RootHandle returns the handle of the export root, as handed out by MOUNT.
func (h *Handler) RootHandle() []byte {
	return fileHandle(h.store.Root())
}
