package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the registry over HTTP at /metrics.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Address to listen on. Default: ":9090".
	Address string
}

func (c *ServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
}

// NewServer returns a stopped metrics server.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	mux := http.NewServeMux()
	if reg := GetRegistry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintln(w, "metrics collection is disabled")
		})
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintln(w, "ok")
	})

	return &Server{
		server: &http.Server{
			Addr:         config.Address,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Addr returns the bound address once Start is listening, else nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
