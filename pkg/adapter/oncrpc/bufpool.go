package oncrpc

import "sync"

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// datagramPool recycles UDP receive buffers.
var datagramPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxDatagram)
		return &b
	},
}

func getDatagram() *[]byte {
	return datagramPool.Get().(*[]byte)
}

func putDatagram(b *[]byte) {
	*b = (*b)[:cap(*b)]
	datagramPool.Put(b)
}
