package xdr

import (
	"bytes"
	"encoding/binary"
	"io"

	xdr2 "github.com/rasky/go-xdr/xdr2"
)

// Reader decodes XDR values from a byte slice.
//
// The reader never copies the input for fixed opaque reads; callers that
// retain returned slices beyond the life of the input must copy them.
type Reader struct {
	buf       []byte
	off       int
	maxOpaque uint32
}

// NewReader returns a Reader over data with the default opaque cap.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data, maxOpaque: DefaultMaxOpaque}
}

// SetMaxOpaque changes the cap applied to variable-length opaque and string
// lengths. Zero restores the default.
func (r *Reader) SetMaxOpaque(n uint32) {
	if n == 0 {
		n = DefaultMaxOpaque
	}
	r.maxOpaque = n
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Offset returns the read cursor position.
func (r *Reader) Offset() int {
	return r.off
}

// Rest returns the unread bytes without advancing the cursor.
func (r *Reader) Rest() []byte {
	return r.buf[r.off:]
}

// Read implements io.Reader so structured decoders can consume from the cursor.
func (r *Reader) Read(p []byte) (int, error) {
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	return n, nil
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, malformed("need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadUint32 decodes an unsigned int.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadInt32 decodes a signed int.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 decodes an unsigned hyper.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadInt64 decodes a signed hyper.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadBool decodes a bool. Values other than 0 and 1 are malformed.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, malformed("invalid bool %d", v)
}

// ReadFixedOpaque decodes n bytes of fixed-length opaque data and skips
// the trailing padding. The returned slice aliases the input.
func (r *Reader) ReadFixedOpaque(n int) ([]byte, error) {
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	if _, err := r.next(Pad(n)); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadOpaque decodes variable-length opaque data bounded by max, or by the
// reader's cap when max is zero. The returned slice aliases the input.
func (r *Reader) ReadOpaque(max uint32) ([]byte, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	limit := r.maxOpaque
	if max > 0 && max < limit {
		limit = max
	}
	if length > limit {
		return nil, malformed("opaque length %d exceeds maximum %d", length, limit)
	}
	return r.ReadFixedOpaque(int(length))
}

// ReadString decodes a string bounded by max bytes.
func (r *Reader) ReadString(max uint32) (string, error) {
	b, err := r.ReadOpaque(max)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.next(n)
	return err
}

// Decode unmarshals a fixed-layout structure from the cursor.
func (r *Reader) Decode(v any) error {
	rest := r.Rest()
	n, err := xdr2.Unmarshal(bytes.NewReader(rest), v)
	if err != nil {
		return malformed("decode %T: %v", v, err)
	}
	r.off += n
	return nil
}
