package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/adapter"
)

// Listener is implemented by adapters that can bind their sockets before
// serving, so that hooks see the final ports.
type Listener interface {
	Listen() error
}

// Hook runs once every adapter is bound and is undone at shutdown, before
// the adapters stop. Portmap registration is the typical hook.
type Hook struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Server manages the lifecycle of the protocol adapters of one gateway.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for each endpoint, OnStart() for hooks
//  3. Startup: Serve() binds every adapter, runs the hooks, then serves
//  4. Shutdown: context cancellation undoes the hooks in reverse order and
//     stops the adapters in reverse registration order
//
// AddAdapter and OnStart must not be called after Serve. Serve may only be
// called once.
type Server struct {
	adapters []adapter.Adapter
	hooks    []Hook

	stopTimeout time.Duration
	ready       chan struct{}

	mu     sync.RWMutex
	served bool
}

// New returns an empty Server. stopTimeout bounds the shutdown of every
// adapter and hook; zero selects 30 seconds.
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Server{
		adapters:    make([]adapter.Adapter, 0, 2),
		stopTimeout: stopTimeout,
		ready:       make(chan struct{}),
	}
}

// AddAdapter registers a protocol adapter.
//
// Duplicate protocol names and fixed port conflicts are rejected. Port 0
// means "any port" and never conflicts.
//
// Panics if a is nil or Serve has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// OnStart registers a hook.
func (s *Server) OnStart(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add hook after Serve() has been called")
	}
	s.hooks = append(s.hooks, h)
}

// Ready is closed once every adapter is bound and every hook has started.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve binds and starts all adapters and blocks until ctx is cancelled or
// one of them fails.
//
// Returns ctx.Err() after a signalled shutdown, or the first startup or
// adapter error.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("server: Serve() has already been called")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	hooks := make([]Hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	logger.Info("Starting gateway with %d adapter(s)", len(adapters))
	startTime := time.Now()

	for _, a := range adapters {
		l, ok := a.(Listener)
		if !ok {
			continue
		}
		if err := l.Listen(); err != nil {
			s.stopAllAdapters(adapters)
			return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
		}
	}

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Debug("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	started, err := s.startHooks(ctx, hooks)
	if err != nil {
		s.stopHooks(started)
		s.stopAllAdapters(adapters)
		wg.Wait()
		return err
	}

	logger.Info("All adapters started in %v", time.Since(startTime))
	close(s.ready)

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopHooks(started)
	s.stopAllAdapters(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("Gateway stopped")
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

func (s *Server) startHooks(ctx context.Context, hooks []Hook) ([]Hook, error) {
	started := make([]Hook, 0, len(hooks))
	for _, h := range hooks {
		if h.Start != nil {
			if err := h.Start(ctx); err != nil {
				return started, fmt.Errorf("%s: %w", h.Name, err)
			}
		}
		started = append(started, h)
		logger.Debug("Start hook %s done", h.Name)
	}
	return started, nil
}

// stopHooks undoes started hooks in reverse order. Errors are logged.
func (s *Server) stopHooks(started []Hook) {
	if len(started) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		h := started[i]
		if h.Stop == nil {
			continue
		}
		if err := h.Stop(ctx); err != nil {
			logger.Warn("Stop hook %s failed: %v", h.Name, err)
		}
	}
}

// stopAllAdapters signals every adapter to stop, in reverse registration
// order. The caller waits for the Serve goroutines.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}
