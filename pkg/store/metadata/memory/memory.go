// Package memory is an in-process store.MetadataStore. Contents are lost on
// restart, so file handles do not survive a server restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/marmos91/nfs3gw/pkg/store"
)

// MetadataStore keeps the file table and directory index in maps guarded
// by one RWMutex. Update transactions keep an undo log and roll back
// partial changes when the callback fails.
type MetadataStore struct {
	mu       sync.RWMutex
	files    map[uint64]*store.FileInfo
	children map[uint64]map[string]uint64

	nextID atomic.Uint64
}

var _ store.MetadataStore = (*MetadataStore)(nil)

// New returns an empty store. Ids start after store.RootID.
func New() *MetadataStore {
	s := &MetadataStore{
		files:    make(map[uint64]*store.FileInfo),
		children: make(map[uint64]map[string]uint64),
	}
	s.nextID.Store(store.RootID)
	return s
}

func (s *MetadataStore) NextID() (uint64, error) {
	return s.nextID.Add(1), nil
}

func (s *MetadataStore) View(ctx context.Context, fn func(tx store.MetadataTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{s: s})
}

func (s *MetadataStore) Update(ctx context.Context, fn func(tx store.MetadataTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{s: s, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MetadataStore) Close() error { return nil }

type txn struct {
	s        *MetadataStore
	writable bool
	undo     []func()
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txn) Get(id uint64) (*store.FileInfo, error) {
	info, ok := t.s.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return info.Clone(), nil
}

func (t *txn) Insert(info *store.FileInfo) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	if _, ok := t.s.files[info.ID]; ok {
		return store.ErrExist
	}
	t.s.files[info.ID] = info.Clone()
	id := info.ID
	t.undo = append(t.undo, func() { delete(t.s.files, id) })
	return nil
}

func (t *txn) Put(info *store.FileInfo) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	prev, ok := t.s.files[info.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.files[info.ID] = info.Clone()
	t.undo = append(t.undo, func() { t.s.files[prev.ID] = prev })
	return nil
}

func (t *txn) Delete(id uint64) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	prev, ok := t.s.files[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(t.s.files, id)
	entries := t.s.children[id]
	delete(t.s.children, id)
	t.undo = append(t.undo, func() {
		t.s.files[id] = prev
		if entries != nil {
			t.s.children[id] = entries
		}
	})
	return nil
}

func (t *txn) Child(dir uint64, name string) (uint64, error) {
	id, ok := t.s.children[dir][name]
	if !ok {
		return 0, store.ErrNoEntry
	}
	return id, nil
}

func (t *txn) Link(dir uint64, name string, id uint64) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	entries := t.s.children[dir]
	if entries == nil {
		entries = make(map[string]uint64)
		t.s.children[dir] = entries
	}
	if _, ok := entries[name]; ok {
		return store.ErrExist
	}
	entries[name] = id
	t.undo = append(t.undo, func() { delete(entries, name) })
	return nil
}

func (t *txn) Unlink(dir uint64, name string, id uint64) error {
	if !t.writable {
		return store.ErrReadOnly
	}
	entries := t.s.children[dir]
	if got, ok := entries[name]; !ok || got != id {
		return store.ErrNoEntry
	}
	delete(entries, name)
	t.undo = append(t.undo, func() { entries[name] = id })
	return nil
}

func (t *txn) Children(dir, startAfter uint64, limit int) ([]uint64, bool, error) {
	entries := t.s.children[dir]
	ids := make([]uint64, 0, len(entries))
	for _, id := range entries {
		if id > startAfter {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	if limit > 0 && len(ids) > limit {
		return ids[:limit], true, nil
	}
	return ids, false, nil
}

func (t *txn) Count() (uint64, error) {
	return uint64(len(t.s.files)), nil
}

func (t *txn) ForEach(fn func(info *store.FileInfo) error) error {
	for _, info := range t.s.files {
		if err := fn(info.Clone()); err != nil {
			return err
		}
	}
	return nil
}
