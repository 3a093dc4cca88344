// Package writemgr buffers NFS WRITE data per file and completes WRITE and
// COMMIT requests asynchronously.
//
// Every file with outstanding writes has a stream: a FIFO of operations run
// by one goroutine, so writes to a file are applied in arrival order while
// the caller returns immediately. UNSTABLE data stays in the stream until a
// COMMIT, a stable WRITE, a READ of the file, the pending-bytes limit or the
// idle timeout flushes it to the store.
package writemgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// Stability levels, matching stable_how.
const (
	Unstable uint32 = 0
	DataSync uint32 = 1
	FileSync uint32 = 2
)

// ErrShutdown is returned for operations submitted after shutdown.
var ErrShutdown = errors.New("writemgr: shut down")

// Config tunes the manager.
type Config struct {
	// MaxPendingBytes forces a flush once a stream buffers this much.
	MaxPendingBytes int64 `mapstructure:"max_pending_bytes" yaml:"max_pending_bytes"`

	// StreamTimeout flushes and closes streams idle for this long.
	StreamTimeout time.Duration `mapstructure:"stream_timeout" yaml:"stream_timeout"`

	// FlushInterval is how often the async data service looks for idle
	// streams.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// Defaults applied to zero Config fields.
const (
	DefaultMaxPendingBytes = 16 << 20
	DefaultStreamTimeout   = 10 * time.Second
	DefaultFlushInterval   = time.Second
)

func (c *Config) applyDefaults() {
	if c.MaxPendingBytes <= 0 {
		c.MaxPendingBytes = DefaultMaxPendingBytes
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
}

// Observer receives write manager events, for metrics.
type Observer interface {
	Buffered(bytes int)
	Flushed(bytes int, err error)
	Streams(n int)
}

type nopObserver struct{}

func (nopObserver) Buffered(int)       {}
func (nopObserver) Flushed(int, error) {}
func (nopObserver) Streams(int)        {}

// WriteArgs is one WRITE request.
type WriteArgs struct {
	FileID uint64
	Offset uint64

	// Data must not be modified by the caller after HandleWrite.
	Data   []byte
	Stable uint32
}

// WriteResult completes a WRITE.
type WriteResult struct {
	Err       error
	Count     uint32
	Committed uint32
	Verifier  uint64

	// Pre is the pre-operation attributes the request was submitted with,
	// Post the attributes after the write, pending data included.
	Pre  *store.FileInfo
	Post *store.FileInfo
}

// CommitResult completes a COMMIT.
type CommitResult struct {
	Err      error
	Verifier uint64
	Pre      *store.FileInfo
	Post     *store.FileInfo
}

// Manager owns all write streams.
type Manager struct {
	store    store.Store
	cfg      Config
	observer Observer
	verifier uint64

	mu       sync.Mutex
	streams  map[uint64]*stream
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	workers  sync.WaitGroup
	services sync.Once
}

// New builds a Manager over st. observer may be nil.
func New(st store.Store, cfg Config, observer Observer) *Manager {
	cfg.applyDefaults()
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    st,
		cfg:      cfg,
		observer: observer,
		verifier: uint64(time.Now().UnixNano()),
		streams:  make(map[uint64]*stream),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Verifier is the write verifier of this server instance. It changes only
// when the process restarts, telling clients to resend uncommitted data.
func (m *Manager) Verifier() uint64 { return m.verifier }

// AddOpenFileStream registers a stream for id. It returns false if one is
// already open or the manager is shut down.
func (m *Manager) AddOpenFileStream(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if _, ok := m.streams[id]; ok {
		return false
	}
	m.openLocked(id)
	return true
}

// stream returns the stream of id, opening it if needed.
func (m *Manager) stream(id uint64) (*stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShutdown
	}
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	return m.openLocked(id), nil
}

func (m *Manager) openLocked(id uint64) *stream {
	s := newStream(id, m)
	m.streams[id] = s
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		s.run()
	}()
	m.observer.Streams(len(m.streams))
	logger.Debug("Write stream opened: fileid=%d", id)
	return s
}

func (m *Manager) lookup(id uint64) *stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

// HandleWrite queues a write and calls done once it is buffered or, for
// stable writes, durable. done runs on the stream goroutine.
func (m *Manager) HandleWrite(ctx context.Context, args WriteArgs, pre *store.FileInfo, done func(WriteResult)) {
	err := m.submit(args.FileID, func(s *stream) { done(s.write(args, pre)) })
	if err != nil {
		done(WriteResult{Err: err, Verifier: m.verifier, Pre: pre})
	}
}

// HandleCommit flushes and syncs the file, then calls done. Data is
// committed for the whole file regardless of offset.
func (m *Manager) HandleCommit(ctx context.Context, id, offset uint64, pre *store.FileInfo, done func(CommitResult)) {
	err := m.submit(id, func(s *stream) { done(s.commit(pre)) })
	if err != nil {
		done(CommitResult{Err: err, Verifier: m.verifier, Pre: pre})
	}
}

// submit queues op on the stream of id. A stream closed by the idle reaper
// between lookup and submission is replaced by a fresh one.
func (m *Manager) submit(id uint64, op func(s *stream)) error {
	for {
		s, err := m.stream(id)
		if err != nil {
			return err
		}
		if s.submit(func() { op(s) }) {
			return nil
		}
		m.mu.Lock()
		if m.streams[id] == s {
			delete(m.streams, id)
		}
		m.mu.Unlock()
	}
}

// CommitBeforeRead flushes pending data of id that lies below upper so a
// READ observes every WRITE already acknowledged.
func (m *Manager) CommitBeforeRead(ctx context.Context, id, upper uint64) error {
	s := m.lookup(id)
	if s == nil || !s.hasPendingBelow(upper) {
		return nil
	}

	result := make(chan error, 1)
	if !s.submit(func() { result <- s.flush() }) {
		// Retired after flushing, or dropped by Forget or shutdown.
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetFileAttr returns the attributes of id as clients should see them:
// buffered writes extend the size and set the modification time.
func (m *Manager) GetFileAttr(ctx context.Context, id uint64) (*store.FileInfo, error) {
	info, err := m.store.GetAttributes(ctx, id)
	if err != nil {
		return nil, err
	}
	if s := m.lookup(id); s != nil {
		s.overlay(info)
	}
	return info, nil
}

// Forget drops the stream of id without flushing, for files that were
// removed.
func (m *Manager) Forget(id uint64) {
	m.mu.Lock()
	s, ok := m.streams[id]
	if ok {
		delete(m.streams, id)
	}
	n := len(m.streams)
	m.mu.Unlock()

	if ok {
		s.discard()
		s.close()
		m.observer.Streams(n)
	}
}

// StartAsyncDataService starts the goroutine that flushes idle streams.
// It stops when ctx is done or on ShutdownAsyncDataService.
func (m *Manager) StartAsyncDataService(ctx context.Context) {
	m.services.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.cfg.FlushInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-m.ctx.Done():
					return
				case now := <-ticker.C:
					m.reapIdle(now)
				}
			}
		}()
		logger.Info("Write manager async data service started: flush_interval=%s stream_timeout=%s max_pending_bytes=%d",
			m.cfg.FlushInterval, m.cfg.StreamTimeout, m.cfg.MaxPendingBytes)
	})
}

// reapIdle flushes streams with no activity for StreamTimeout and closes
// them. A stream stays in the table until its data is in the store, so
// overlays and new writes keep going through it meanwhile.
func (m *Manager) reapIdle(now time.Time) {
	m.mu.Lock()
	var idle []*stream
	for _, s := range m.streams {
		if s.idleSince(now) >= m.cfg.StreamTimeout {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.submit(func() {
			if err := s.flush(); err != nil {
				logger.Warn("Idle stream flush failed: fileid=%d error=%v", s.id, err)
				return
			}
			m.retire(s)
		})
	}
}

// retire removes s from the stream table if it is still registered and
// has nothing left to do. It runs on the stream goroutine.
func (m *Manager) retire(s *stream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streams[s.id] != s || !s.closeIfIdle() {
		return
	}
	delete(m.streams, s.id)
	m.observer.Streams(len(m.streams))
	logger.Debug("Write stream closed: fileid=%d", s.id)
}

// ShutdownAsyncDataService flushes every stream and stops all goroutines.
func (m *Manager) ShutdownAsyncDataService() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	streams := m.streams
	m.streams = make(map[uint64]*stream)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	for _, s := range streams {
		s.submit(func() {
			if err := s.flush(); err != nil {
				logger.Warn("Flush on shutdown failed: fileid=%d error=%v", s.id, err)
			}
		})
		s.close()
	}
	m.workers.Wait()
	m.observer.Streams(0)
	logger.Info("Write manager shut down: flushed_streams=%d", len(streams))
}
