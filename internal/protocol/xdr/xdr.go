// Package xdr implements the External Data Representation codec (RFC 4506)
// shared by the RPC, Portmap, MOUNT and NFS layers.
//
// Reader decodes from a byte slice with a read cursor and Writer encodes into
// a growing buffer with a write cursor. Every variable-length item is padded
// to a 4-byte boundary. Reading past the end of the buffer, or a declared
// length larger than the configured cap, fails with ErrMalformed before any
// allocation happens.
//
// Fixed-layout structures are delegated to github.com/rasky/go-xdr/xdr2 via
// Reader.Decode and Writer.Encode.
package xdr

import (
	"errors"
	"fmt"
)

// ErrMalformed reports input that is not valid XDR for the expected shape:
// truncated data, an oversized length prefix, or a bad discriminant.
var ErrMalformed = errors.New("xdr: malformed message")

const (
	// DefaultMaxOpaque caps variable-length opaque data and strings.
	// Large enough for a WRITE payload at the maximum transfer size.
	DefaultMaxOpaque = 1 << 20

	// MaxNameLen is the longest filename accepted in a filename3.
	MaxNameLen = 255

	// MaxPathLen is the longest symlink target accepted in a nfspath3.
	MaxPathLen = 4096
)

// Pad returns the number of zero bytes needed to align n to 4 bytes.
func Pad(n int) int {
	return (4 - n%4) % 4
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
