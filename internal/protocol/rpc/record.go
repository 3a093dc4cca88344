package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Record marking (RFC 5531 Section 11).
//
// On stream transports each message is sent as one or more fragments.
// Every fragment starts with a 4-byte big-endian header: the top bit marks
// the last fragment of the message, the low 31 bits hold the fragment length.
const (
	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7fffffff

	// DefaultMaxRecordSize bounds an assembled message. It leaves room for
	// a 1 MiB WRITE payload plus headers.
	DefaultMaxRecordSize = 1<<20 + 64<<10
)

// ErrRecordTooLarge is returned when a fragment or the assembled message
// exceeds the decoder limit. The connection cannot be resynchronised.
var ErrRecordTooLarge = errors.New("rpc: record exceeds maximum size")

// RecordState is the position of a RecordDecoder in its state machine.
type RecordState int

const (
	// AwaitingHeader means no fragment of the next message is buffered.
	AwaitingHeader RecordState = iota

	// AccumulatingFragment means bytes of a fragment, or complete non-final
	// fragments, are buffered.
	AccumulatingFragment
)

func (s RecordState) String() string {
	if s == AwaitingHeader {
		return "AwaitingHeader"
	}
	return "AccumulatingFragment"
}

// RecordDecoder reassembles record-marked messages from a byte stream.
//
// Bytes are fed in arrival order. A fragment header is consumed only once
// its whole fragment is buffered, so a partial fragment never advances the
// decoder. A RecordDecoder is owned by one connection and is not safe for
// concurrent use.
type RecordDecoder struct {
	buf       []byte
	msg       []byte
	fragments int
	maxSize   int
}

// NewRecordDecoder returns a decoder rejecting messages larger than maxSize
// bytes. Zero selects DefaultMaxRecordSize.
func NewRecordDecoder(maxSize int) *RecordDecoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	return &RecordDecoder{maxSize: maxSize}
}

// Feed appends p to the stream and returns every message completed by it,
// in order. Each returned message is an independent slice.
func (d *RecordDecoder) Feed(p []byte) ([][]byte, error) {
	d.buf = append(d.buf, p...)

	var out [][]byte
	off := 0
	for len(d.buf)-off >= 4 {
		header := binary.BigEndian.Uint32(d.buf[off:])
		last := header&lastFragmentBit != 0
		length := int(header & fragmentLenMask)

		if length > d.maxSize || len(d.msg)+length > d.maxSize {
			return out, fmt.Errorf("%w: fragment %d bytes, assembled %d, limit %d",
				ErrRecordTooLarge, length, len(d.msg), d.maxSize)
		}
		if len(d.buf)-off-4 < length {
			break
		}

		d.msg = append(d.msg, d.buf[off+4:off+4+length]...)
		d.fragments++
		off += 4 + length

		if last {
			msg := d.msg
			if msg == nil {
				msg = []byte{}
			}
			out = append(out, msg)
			d.msg = nil
			d.fragments = 0
		}
	}

	if off > 0 {
		n := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:n]
	}
	return out, nil
}

// State reports whether the decoder is between messages.
func (d *RecordDecoder) State() RecordState {
	if len(d.buf) == 0 && d.fragments == 0 {
		return AwaitingHeader
	}
	return AccumulatingFragment
}

// Buffered returns the number of bytes held but not yet part of a complete
// fragment.
func (d *RecordDecoder) Buffered() int {
	return len(d.buf)
}

// WriteRecord writes msg as a single last fragment.
func WriteRecord(w io.Writer, msg []byte) error {
	return WriteFragments(w, msg, fragmentLenMask)
}

// WriteFragments writes msg split into fragments of at most size bytes.
// An empty message is written as one empty last fragment. The record is
// assembled in memory and handed to w in a single Write.
func WriteFragments(w io.Writer, msg []byte, size int) error {
	if size <= 0 || size > fragmentLenMask {
		size = fragmentLenMask
	}

	count := (len(msg) + size - 1) / size
	if count == 0 {
		count = 1
	}

	out := make([]byte, 0, len(msg)+4*count)
	for i := 0; i < count; i++ {
		start := i * size
		end := min(start+size, len(msg))

		header := uint32(end - start)
		if i == count-1 {
			header |= lastFragmentBit
		}
		out = binary.BigEndian.AppendUint32(out, header)
		out = append(out, msg[start:end]...)
	}

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
