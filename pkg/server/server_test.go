package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake Adapter
// ============================================================================

type fakeAdapter struct {
	protocol  string
	port      int
	listenErr error
	serveErr  error

	mu       sync.Mutex
	listened bool
	stopped  bool
	events   *[]string
	stop     chan struct{}
	once     sync.Once
}

func newFakeAdapter(protocol string, port int, events *[]string) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, events: events, stop: make(chan struct{})}
}

func (f *fakeAdapter) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		*f.events = append(*f.events, event)
	}
}

func (f *fakeAdapter) Listen() error {
	f.mu.Lock()
	f.listened = true
	f.mu.Unlock()
	return f.listenErr
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stop:
		return nil
	}
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		f.record("stop " + f.protocol)
		close(f.stop)
	})
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func (f *fakeAdapter) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// ============================================================================
// Registration Tests
// ============================================================================

func TestAddAdapter(t *testing.T) {
	t.Run("RejectsDuplicateProtocol", func(t *testing.T) {
		s := New(time.Second)
		require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", 2049, nil)))
		assert.Error(t, s.AddAdapter(newFakeAdapter("NFS", 3049, nil)))
	})

	t.Run("RejectsPortConflict", func(t *testing.T) {
		s := New(time.Second)
		require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", 2049, nil)))
		assert.Error(t, s.AddAdapter(newFakeAdapter("portmap", 2049, nil)))
	})

	t.Run("PortZeroNeverConflicts", func(t *testing.T) {
		s := New(time.Second)
		require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", 0, nil)))
		require.NoError(t, s.AddAdapter(newFakeAdapter("portmap", 0, nil)))
		assert.Len(t, s.Adapters(), 2)
	})

	t.Run("NilPanics", func(t *testing.T) {
		assert.Panics(t, func() { _ = New(time.Second).AddAdapter(nil) })
	})
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestServe(t *testing.T) {
	t.Run("NoAdapters", func(t *testing.T) {
		assert.Error(t, New(time.Second).Serve(context.Background()))
	})

	t.Run("OrderedShutdown", func(t *testing.T) {
		var events []string
		var mu sync.Mutex
		note := func(e string) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		}

		nfs := newFakeAdapter("NFS", 0, &events)
		pm := newFakeAdapter("portmap", 0, &events)

		s := New(time.Second)
		require.NoError(t, s.AddAdapter(nfs))
		require.NoError(t, s.AddAdapter(pm))
		s.OnStart(Hook{
			Name:  "register",
			Start: func(context.Context) error { note("register"); return nil },
			Stop:  func(context.Context) error { note("unregister"); return nil },
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx) }()

		select {
		case <-s.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("server never became ready")
		}
		assert.True(t, nfs.listened)
		assert.True(t, pm.listened)

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"register", "unregister", "stop portmap", "stop NFS"}, events)
	})

	t.Run("ListenFailure", func(t *testing.T) {
		bad := newFakeAdapter("NFS", 0, nil)
		bad.listenErr = errors.New("address in use")

		s := New(time.Second)
		require.NoError(t, s.AddAdapter(bad))

		err := s.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address in use")
		assert.True(t, bad.wasStopped())
	})

	t.Run("HookFailureStopsAdapters", func(t *testing.T) {
		a := newFakeAdapter("NFS", 0, nil)
		undone := false

		s := New(time.Second)
		require.NoError(t, s.AddAdapter(a))
		s.OnStart(Hook{
			Name: "first",
			Stop: func(context.Context) error { undone = true; return nil },
		})
		s.OnStart(Hook{
			Name:  "second",
			Start: func(context.Context) error { return errors.New("portmap unreachable") },
		})

		err := s.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "second")
		assert.True(t, undone, "hooks started before the failure are undone")
		assert.True(t, a.wasStopped())
	})

	t.Run("AdapterFailure", func(t *testing.T) {
		healthy := newFakeAdapter("NFS", 0, nil)
		broken := newFakeAdapter("portmap", 0, nil)
		broken.serveErr = errors.New("socket closed")

		s := New(time.Second)
		require.NoError(t, s.AddAdapter(healthy))
		require.NoError(t, s.AddAdapter(broken))

		err := s.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "portmap adapter error")
		assert.True(t, healthy.wasStopped())
	})

	t.Run("SecondServeFails", func(t *testing.T) {
		s := New(time.Second)
		require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", 0, nil)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = s.Serve(ctx)
		assert.Error(t, s.Serve(ctx))
	})
}
