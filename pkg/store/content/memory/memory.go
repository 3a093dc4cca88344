// Package memory is an in-process store.ContentStore, mainly for tests and
// ephemeral exports.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/nfs3gw/pkg/store"
)

// ContentStore keeps file contents in a map.
type ContentStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     uint64
	capacity uint64
}

var (
	_ store.ContentStore  = (*ContentStore)(nil)
	_ store.ContentLister = (*ContentStore)(nil)
)

// New returns an empty store. A non-zero capacity makes writes that would
// exceed it fail with store.ErrNoSpace.
func New(capacity uint64) *ContentStore {
	return &ContentStore{
		data:     make(map[string][]byte),
		capacity: capacity,
	}
}

func (s *ContentStore) ReadAt(ctx context.Context, id string, offset uint64, n uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.data[id]
	if offset >= uint64(len(buf)) {
		return []byte{}, nil
	}
	end := offset + uint64(n)
	if end > uint64(len(buf)) {
		end = uint64(len(buf))
	}
	out := make([]byte, end-offset)
	copy(out, buf[offset:end])
	return out, nil
}

func (s *ContentStore) WriteAt(ctx context.Context, id string, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.data[id]
	end := offset + uint64(len(data))
	if end > uint64(len(buf)) {
		growth := end - uint64(len(buf))
		if s.capacity > 0 && s.used+growth > s.capacity {
			return store.ErrNoSpace
		}
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
		s.used += growth
	}
	copy(buf[offset:], data)
	s.data[id] = buf
	return nil
}

func (s *ContentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= uint64(len(s.data[id]))
	delete(s.data, id)
	return nil
}

func (s *ContentStore) Sync(ctx context.Context, id string) error { return nil }

func (s *ContentStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *ContentStore) Usage(ctx context.Context) (store.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Usage{Capacity: s.capacity, Used: s.used}, nil
}
