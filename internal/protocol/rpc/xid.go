package rpc

import (
	"hash/fnv"
	"sync/atomic"
	"time"
)

// XIDGenerator produces transaction ids for outgoing calls.
//
// The counter is seeded from the wall clock so that a restarted process does
// not reuse the ids of its previous incarnation while replies may still be
// in flight. Create one per process and share it.
type XIDGenerator struct {
	counter atomic.Uint32
}

// NewXIDGenerator returns a generator seeded from the current time.
func NewXIDGenerator() *XIDGenerator {
	g := &XIDGenerator{}
	g.counter.Store(uint32(time.Now().Unix()) << 12)
	return g
}

// Next advances the counter and mixes in a hash of caller, so distinct
// callers sharing the generator land in different id ranges.
func (g *XIDGenerator) Next(caller string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(caller))
	return g.counter.Add(1) + h.Sum32()
}
