// Package oncrpc serves ONC RPC programs over TCP and UDP.
//
// A Server owns the listeners and hands every complete call message to an
// rpc.Mux. TCP connections get one goroutine each and process their calls
// in order; replies are record-marked. UDP datagrams are processed by a
// bounded worker pool, one datagram per call.
package oncrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/ratelimiter"
	"github.com/marmos91/nfs3gw/pkg/metrics"
)

// Server is a TCP and optional UDP endpoint for an rpc.Mux.
type Server struct {
	config  Config
	mux     *rpc.Mux
	metrics metrics.RPCMetrics

	listenOnce sync.Once
	listenErr  error
	listener   net.Listener
	packetConn net.PacketConn

	activeConns sync.WaitGroup
	udpWorkers  sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	connCount     atomic.Int32
	connSemaphore chan struct{}
	limiter       *ratelimiter.Limiter

	// shutdownCtx is cancelled when shutdown starts so that in-flight
	// handlers can abort.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	activeConnections sync.Map
}

// New returns a server for mux. m may be nil.
func New(config Config, mux *rpc.Mux, m metrics.RPCMetrics) (*Server, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s server config: %w", config.Name, err)
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("%s connection limit: %d", config.Name, config.MaxConnections)
	}

	limiter := ratelimiter.New(config.CallsPerSecond, config.CallBurst)
	if limiter != nil {
		logger.Debug("%s call rate limit: %d/s burst=%d", config.Name, config.CallsPerSecond, config.CallBurst)
	}

	if m == nil {
		m = metrics.NewNoopRPCMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		config:         config,
		mux:            mux,
		metrics:        m,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		limiter:        limiter,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// Listen binds the TCP listener, and the UDP socket when enabled, on the
// same port. Serve calls it implicitly; calling it first lets the caller
// learn the bound port before serving.
func (s *Server) Listen() error {
	s.listenOnce.Do(func() {
		addr := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			s.listenErr = fmt.Errorf("failed to create %s listener on %s: %w", s.config.Name, addr, err)
			return
		}
		s.listener = listener

		if s.config.EnableUDP {
			port := listener.Addr().(*net.TCPAddr).Port
			udpAddr := net.JoinHostPort(s.config.Address, strconv.Itoa(port))
			pc, err := net.ListenPacket("udp", udpAddr)
			if err != nil {
				_ = listener.Close()
				s.listenErr = fmt.Errorf("failed to create %s UDP socket on %s: %w", s.config.Name, udpAddr, err)
				return
			}
			s.packetConn = pc
		}
	})
	return s.listenErr
}

// Serve accepts connections until ctx is cancelled or Stop is called, then
// waits for active connections up to ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	logger.Info("%s server listening: tcp=%s udp=%t", s.config.Name, s.listener.Addr(), s.packetConn != nil)
	logger.Debug("%s config: max_connections=%d workers=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		s.config.Name, s.config.MaxConnections, s.config.Workers,
		s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", s.config.Name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.packetConn != nil {
		s.startUDP()
	}

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				if errors.Is(err, net.ErrClosed) {
					return s.gracefulShutdown()
				}
				logger.Debug("Error accepting %s connection: %v", s.config.Name, err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted("tcp")
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("%s connection accepted from %s (active: %d)", s.config.Name, connAddr, currentConns)

		conn := newConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed("tcp")
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("%s connection closed from %s (active: %d)", s.config.Name, addr, currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown stops accepting, wakes idle connections and cancels
// in-flight requests. It is idempotent.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.config.Name)

		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing %s listener: %v", s.config.Name, err)
			}
		}
		if s.packetConn != nil {
			if err := s.packetConn.Close(); err != nil {
				logger.Debug("Error closing %s UDP socket: %v", s.config.Name, err)
			}
		}

		// Connections blocked in Read return at once; a connection in the
		// middle of a call finishes it first.
		now := time.Now()
		s.activeConnections.Range(func(_, value any) bool {
			_ = value.(net.Conn).SetReadDeadline(now)
			return true
		})

		s.cancelRequests()
	})
}

func (s *Server) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.config.Name, activeCount, s.config.ShutdownTimeout)

	select {
	case <-s.drained():
		logger.Info("%s graceful shutdown complete", s.config.Name)
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			s.config.Name, remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.config.Name, remaining)
	}
}

func (s *Server) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		s.udpWorkers.Wait()
		close(done)
	}()
	return done
}

func (s *Server) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", key, err)
		} else {
			closedCount++
		}
		return true
	})
	logger.Info("Force-closed %d %s connection(s)", closedCount, s.config.Name)
}

// Stop initiates shutdown and waits for the drain, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.drained():
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown context cancelled: %d connection(s) still active: %v",
			s.config.Name, remaining, ctx.Err())
		return ctx.Err()
	}
}

func (s *Server) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("%s metrics: active_connections=%d", s.config.Name, s.connCount.Load())
		}
	}
}

// ActiveConnections returns the number of open TCP connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the bound TCP address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// UDPAddr returns the bound UDP address, or nil when UDP is disabled.
func (s *Server) UDPAddr() net.Addr {
	if s.packetConn == nil {
		return nil
	}
	return s.packetConn.LocalAddr()
}

// Port returns the bound port once listening, otherwise the configured one.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

// Protocol returns the server name.
func (s *Server) Protocol() string {
	return s.config.Name
}

// UDPEnabled reports whether datagrams are served.
func (s *Server) UDPEnabled() bool {
	return s.config.EnableUDP
}

// Programs lists the programs served.
func (s *Server) Programs() []rpc.Program {
	return s.mux.Programs()
}
