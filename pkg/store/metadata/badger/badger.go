// Package badger is a persistent store.MetadataStore backed by BadgerDB.
// File ids and directory entries survive restarts, so file handles handed
// to clients stay valid across server restarts.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// Config configures the BadgerDB metadata store.
type Config struct {
	// DBPath is the directory holding the database files.
	DBPath string `mapstructure:"db_path"`

	// BlockCacheSizeMB is BadgerDB's block cache size (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// sequenceBandwidth is the number of ids leased from the database at once.
const sequenceBandwidth = 1000

// MetadataStore implements store.MetadataStore on BadgerDB. See keys.go for
// the key layout.
type MetadataStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ store.MetadataStore = (*MetadataStore)(nil)

// Open opens or creates the database at cfg.DBPath.
func Open(ctx context.Context, cfg Config) (*MetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	// Metadata records are small: compression is not worth its cost.
	opts := badger.DefaultOptions(cfg.DBPath).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(keySequence), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	logger.Info("BadgerDB metadata store opened: path=%s", cfg.DBPath)
	return &MetadataStore{db: db, seq: seq}, nil
}

// NextID returns the next id from the persistent sequence. Ids leased but
// not used before a restart are skipped, never reused.
func (s *MetadataStore) NextID() (uint64, error) {
	for {
		id, err := s.seq.Next()
		if err != nil {
			return 0, err
		}
		if id > store.RootID {
			return id, nil
		}
	}
}

func (s *MetadataStore) View(ctx context.Context, fn func(tx store.MetadataTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func (s *MetadataStore) Update(ctx context.Context, fn func(tx store.MetadataTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

// Close releases the sequence lease and closes the database.
func (s *MetadataStore) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release id sequence: %v", err)
	}
	return s.db.Close()
}

type tx struct {
	txn *badger.Txn
}

func (t *tx) Get(id uint64) (*store.FileInfo, error) {
	item, err := t.txn.Get(keyFile(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	info := &store.FileInfo{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, info)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode file %d: %w", id, err)
	}
	return info, nil
}

func (t *tx) Insert(info *store.FileInfo) error {
	key := keyFile(info.ID)
	if _, err := t.txn.Get(key); err == nil {
		return store.ErrExist
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if err := t.putFile(key, info); err != nil {
		return err
	}
	return t.addCount(1)
}

func (t *tx) Put(info *store.FileInfo) error {
	key := keyFile(info.ID)
	if _, err := t.txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	} else if err != nil {
		return err
	}
	return t.putFile(key, info)
}

func (t *tx) putFile(key []byte, info *store.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode file %d: %w", info.ID, err)
	}
	return t.txn.Set(key, data)
}

func (t *tx) Delete(id uint64) error {
	key := keyFile(id)
	if _, err := t.txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	} else if err != nil {
		return err
	}
	if err := t.txn.Delete(key); err != nil {
		return err
	}
	return t.addCount(-1)
}

func (t *tx) Child(dir uint64, name string) (uint64, error) {
	item, err := t.txn.Get(keyName(dir, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, store.ErrNoEntry
	}
	if err != nil {
		return 0, err
	}

	var id uint64
	err = item.Value(func(val []byte) error {
		id = decodeID(val)
		return nil
	})
	return id, err
}

func (t *tx) Link(dir uint64, name string, id uint64) error {
	if _, err := t.Child(dir, name); err == nil {
		return store.ErrExist
	} else if !errors.Is(err, store.ErrNoEntry) {
		return err
	}
	if err := t.txn.Set(keyName(dir, name), encodeID(id)); err != nil {
		return err
	}
	return t.txn.Set(keyEntry(dir, id), []byte(name))
}

func (t *tx) Unlink(dir uint64, name string, id uint64) error {
	got, err := t.Child(dir, name)
	if err != nil {
		return err
	}
	if got != id {
		return store.ErrNoEntry
	}
	if err := t.txn.Delete(keyName(dir, name)); err != nil {
		return err
	}
	return t.txn.Delete(keyEntry(dir, id))
}

func (t *tx) Children(dir, startAfter uint64, limit int) ([]uint64, bool, error) {
	if startAfter == math.MaxUint64 {
		return nil, false, nil
	}

	prefix := keyEntryPrefix(dir)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var ids []uint64
	for it.Seek(keyEntry(dir, startAfter+1)); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(ids) == limit {
			return ids, true, nil
		}
		ids = append(ids, decodeID(it.Item().Key()[len(prefix):]))
	}
	return ids, false, nil
}

func (t *tx) ForEach(fn func(info *store.FileInfo) error) error {
	prefix := []byte(prefixFile)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		info := &store.FileInfo{}
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, info)
		})
		if err != nil {
			return fmt.Errorf("failed to decode file %d: %w", decodeID(it.Item().Key()[len(prefix):]), err)
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) Count() (uint64, error) {
	item, err := t.txn.Get([]byte(keyFileCount))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var n uint64
	err = item.Value(func(val []byte) error {
		n = decodeID(val)
		return nil
	})
	return n, err
}

func (t *tx) addCount(delta int64) error {
	n, err := t.Count()
	if err != nil {
		return err
	}
	if delta < 0 && n == 0 {
		return nil
	}
	return t.txn.Set([]byte(keyFileCount), encodeID(uint64(int64(n)+delta)))
}
