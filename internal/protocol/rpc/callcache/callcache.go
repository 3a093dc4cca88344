// Package callcache implements the at-most-once execution cache for
// non-idempotent RPC procedures.
//
// Entries are keyed by client IP and XID. The first sighting of a key
// inserts an in-progress marker; a retransmission either finds the marker
// (the call is still running and the retransmission is dropped) or finds
// the completed reply, which is replayed byte for byte. Capacity is fixed
// and the least recently inserted entry is evicted when it is exceeded.
package callcache

import (
	"container/list"
	"net"
	"sync"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 256

// State is the execution state of a cached call.
type State int

const (
	InProgress State = iota
	Completed
)

func (s State) String() string {
	if s == Completed {
		return "COMPLETED"
	}
	return "IN_PROGRESS"
}

// Entry is a snapshot of a cached call.
type Entry struct {
	State State
	Reply []byte
}

type key struct {
	client string
	xid    uint32
}

type entry struct {
	key   key
	state State
	reply []byte
}

// Observer receives cache events. pkg/metrics provides a Prometheus one.
type Observer interface {
	Hit(state State)
	Miss()
	Evicted()
	Size(n int)
}

type nopObserver struct{}

func (nopObserver) Hit(State) {}
func (nopObserver) Miss()     {}
func (nopObserver) Evicted()  {}
func (nopObserver) Size(int)  {}

// Cache is safe for concurrent use. Every operation holds the lock for a
// map lookup and a list splice only.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[key]*list.Element
	order    *list.List
	observer Observer
}

// New returns a cache holding at most capacity entries. A non-positive
// capacity selects DefaultCapacity. observer may be nil.
func New(capacity int, observer Observer) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[key]*list.Element, capacity),
		order:    list.New(),
		observer: observer,
	}
}

// CheckOrAdd looks up (client, xid). On first sight it records an
// in-progress marker and returns (Entry{}, false). On a retransmission it
// returns a copy of the existing entry and true.
func (c *Cache) CheckOrAdd(client net.IP, xid uint32) (Entry, bool) {
	k := key{client: client.String(), xid: xid}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[k]; ok {
		e := el.Value.(*entry)
		c.observer.Hit(e.state)
		return Entry{State: e.state, Reply: e.reply}, true
	}

	c.entries[k] = c.order.PushBack(&entry{key: k, state: InProgress})
	c.observer.Miss()

	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
		c.observer.Evicted()
	}
	c.observer.Size(c.order.Len())

	return Entry{}, false
}

// Completed stores the serialised reply for (client, xid) and marks the
// entry completed. An entry evicted while in progress is re-inserted so
// that a late retransmission still gets the reply.
func (c *Cache) Completed(client net.IP, xid uint32, reply []byte) {
	k := key{client: client.String(), xid: xid}
	stored := append([]byte(nil), reply...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[k]; ok {
		e := el.Value.(*entry)
		e.state = Completed
		e.reply = stored
		return
	}

	c.entries[k] = c.order.PushBack(&entry{key: k, state: Completed, reply: stored})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
		c.observer.Evicted()
	}
	c.observer.Size(c.order.Len())
}

// Remove drops the entry for (client, xid) so the next retransmission
// executes again. It is used when a call ends without a reply.
func (c *Cache) Remove(client net.IP, xid uint32) {
	k := key{client: client.String(), xid: xid}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[k]; ok {
		c.order.Remove(el)
		delete(c.entries, k)
		c.observer.Size(c.order.Len())
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
