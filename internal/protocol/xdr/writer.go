package xdr

import (
	"encoding/binary"
	"fmt"

	xdr2 "github.com/rasky/go-xdr/xdr2"
)

var zeroPad [4]byte

// Writer encodes XDR values into an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded bytes. The slice aliases the writer's buffer
// and is valid until the next write.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of encoded bytes.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset empties the buffer while keeping its capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Write implements io.Writer. Raw bytes are appended without padding.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteUint32 encodes an unsigned int.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteInt32 encodes a signed int.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 encodes an unsigned hyper.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteInt64 encodes a signed hyper (writeLongAsHyper).
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteBool encodes a bool as 0 or 1.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint32(1)
		return
	}
	w.WriteUint32(0)
}

// WriteFixedOpaque encodes data as fixed-length opaque, padded to 4 bytes.
func (w *Writer) WriteFixedOpaque(data []byte) {
	w.buf = append(w.buf, data...)
	w.buf = append(w.buf, zeroPad[:Pad(len(data))]...)
}

// WriteFixedOpaqueN encodes exactly n bytes: data truncated or zero-filled to n.
func (w *Writer) WriteFixedOpaqueN(data []byte, n int) {
	if len(data) >= n {
		w.WriteFixedOpaque(data[:n])
		return
	}
	w.buf = append(w.buf, data...)
	w.buf = append(w.buf, make([]byte, n-len(data))...)
	w.buf = append(w.buf, zeroPad[:Pad(n)]...)
}

// WriteOpaque encodes variable-length opaque data.
func (w *Writer) WriteOpaque(data []byte) {
	w.WriteUint32(uint32(len(data)))
	w.WriteFixedOpaque(data)
}

// WriteString encodes a string.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, zeroPad[:Pad(len(s))]...)
}

// Encode marshals a fixed-layout structure at the cursor.
func (w *Writer) Encode(v any) error {
	if _, err := xdr2.Marshal(w, v); err != nil {
		return fmt.Errorf("xdr: encode %T: %w", v, err)
	}
	return nil
}
