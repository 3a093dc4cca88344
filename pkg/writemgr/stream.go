package writemgr

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// streamQueueSize bounds queued operations per file. Submitters block when
// it is full.
const streamQueueSize = 64

type chunk struct {
	offset uint64
	data   []byte
}

// stream serialises the operations of one file. Only the stream goroutine
// changes pending; other goroutines read it under mu.
type stream struct {
	id uint64
	m  *Manager

	qmu    sync.RWMutex
	ops    chan func()
	closed bool

	mu           sync.Mutex
	pending      []chunk
	pendingBytes int64
	end          uint64
	lastWrite    time.Time
	lastActive   time.Time
}

func newStream(id uint64, m *Manager) *stream {
	return &stream{
		id:         id,
		m:          m,
		ops:        make(chan func(), streamQueueSize),
		lastActive: time.Now(),
	}
}

func (s *stream) run() {
	for op := range s.ops {
		op()
	}
}

// submit queues op. It returns false if the stream is closed.
func (s *stream) submit(op func()) bool {
	s.qmu.RLock()
	defer s.qmu.RUnlock()
	if s.closed {
		return false
	}
	s.ops <- op
	return true
}

// close lets the goroutine exit once queued operations are done.
func (s *stream) close() {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ops)
	}
}

// storeCtx is used for store calls made on behalf of requests that have
// already been answered or whose connection may be gone.
func storeCtx() context.Context { return context.Background() }

func (s *stream) write(args WriteArgs, pre *store.FileInfo) WriteResult {
	res := WriteResult{Verifier: s.m.verifier, Pre: pre}

	now := time.Now()
	s.mu.Lock()
	s.pending = append(s.pending, chunk{offset: args.Offset, data: args.Data})
	s.pendingBytes += int64(len(args.Data))
	if end := args.Offset + uint64(len(args.Data)); end > s.end {
		s.end = end
	}
	s.lastWrite = now
	s.lastActive = now
	overLimit := s.pendingBytes >= s.m.cfg.MaxPendingBytes
	s.mu.Unlock()
	s.m.observer.Buffered(len(args.Data))

	res.Committed = Unstable
	if args.Stable != Unstable || overLimit {
		if err := s.flush(); err != nil {
			res.Err = err
			return res
		}
	}
	if args.Stable != Unstable {
		if err := s.m.store.Sync(storeCtx(), s.id); err != nil {
			res.Err = err
			return res
		}
		res.Committed = FileSync
	}

	res.Count = uint32(len(args.Data))
	res.Post = s.attrs()
	return res
}

func (s *stream) commit(pre *store.FileInfo) CommitResult {
	res := CommitResult{Verifier: s.m.verifier, Pre: pre}
	if err := s.flush(); err != nil {
		res.Err = err
		return res
	}
	if err := s.m.store.Sync(storeCtx(), s.id); err != nil {
		res.Err = err
		return res
	}
	res.Post = s.attrs()
	return res
}

// flush writes pending chunks to the store in arrival order. Chunks stay
// visible to overlay until they are written. On failure the chunk that
// failed and every later one stay pending for the next flush.
func (s *stream) flush() error {
	s.mu.Lock()
	chunks := s.pending
	bytes := s.pendingBytes
	s.lastActive = time.Now()
	s.mu.Unlock()

	if len(chunks) == 0 {
		return nil
	}

	var (
		err     error
		written int
		flushed int64
	)
	for _, c := range chunks {
		if _, err = s.m.store.Write(storeCtx(), s.id, c.offset, c.data); err != nil {
			break
		}
		written++
		flushed += int64(len(c.data))
	}

	s.mu.Lock()
	s.pending = s.pending[written:]
	s.pendingBytes -= flushed
	s.end = 0
	for _, c := range s.pending {
		if end := c.offset + uint64(len(c.data)); end > s.end {
			s.end = end
		}
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.mu.Unlock()

	s.m.observer.Flushed(int(flushed), err)
	if err != nil {
		logger.Warn("Write stream flush failed: fileid=%d written=%d/%d bytes=%d error=%v",
			s.id, written, len(chunks), bytes, err)
		return err
	}
	logger.Debug("Write stream flushed: fileid=%d chunks=%d bytes=%d", s.id, len(chunks), bytes)
	return nil
}

// attrs returns the current attributes with pending data applied. A
// failure only costs the post-operation attributes.
func (s *stream) attrs() *store.FileInfo {
	info, err := s.m.store.GetAttributes(storeCtx(), s.id)
	if err != nil {
		logger.Debug("Write stream attributes unavailable: fileid=%d error=%v", s.id, err)
		return nil
	}
	s.overlay(info)
	return info
}

func (s *stream) overlay(info *store.FileInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return
	}
	if s.end > info.Size {
		info.Size = s.end
	}
	if s.lastWrite.After(info.Mtime) {
		info.Mtime = s.lastWrite
	}
	if s.lastWrite.After(info.Ctime) {
		info.Ctime = s.lastWrite
	}
}

func (s *stream) hasPendingBelow(upper uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.pending {
		if c.offset < upper {
			return true
		}
	}
	return false
}

func (s *stream) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// closeIfIdle closes the stream if nothing is buffered, queued or being
// submitted. It must run on the stream goroutine.
func (s *stream) closeIfIdle() bool {
	if !s.qmu.TryLock() {
		return false
	}
	defer s.qmu.Unlock()

	s.mu.Lock()
	buffered := len(s.pending) > 0
	s.mu.Unlock()

	if s.closed || buffered || len(s.ops) > 0 {
		return false
	}
	s.closed = true
	close(s.ops)
	return true
}

func (s *stream) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.pendingBytes = 0
	s.end = 0
}
