package oncrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
)

// readChunk is the size of one socket read.
const readChunk = 64 << 10

// connection serves one TCP client. Calls are processed in arrival order;
// deferred replies may be written from other goroutines, so writes are
// serialised by writeMu.
type connection struct {
	server  *Server
	conn    net.Conn
	remote  net.Addr
	decoder *rpc.RecordDecoder

	writeMu sync.Mutex
}

func newConnection(server *Server, conn net.Conn) *connection {
	return &connection{
		server:  server,
		conn:    conn,
		remote:  conn.RemoteAddr(),
		decoder: rpc.NewRecordDecoder(server.config.MaxRecordSize),
	}
}

// Serve reads records until the client disconnects, a framing error
// occurs, the connection idles out, or the server shuts down.
func (c *connection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.remote, r)
		}
		_ = c.conn.Close()
	}()

	logger.Debug("New connection from %s", c.remote)

	buf := make([]byte, readChunk)
	for {
		// The deadline is set before checking for shutdown so that a
		// shutdown racing with this iteration still wakes the Read below.
		if err := c.setReadDeadline(); err != nil {
			logger.Warn("Failed to set deadline for %s: %v", c.remote, err)
		}

		select {
		case <-c.server.shutdown:
			logger.Debug("Connection from %s closed due to server shutdown", c.remote)
			return
		default:
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			msgs, ferr := c.decoder.Feed(buf[:n])
			for _, msg := range msgs {
				if werr := c.server.limiter.Wait(ctx); werr != nil {
					logger.Debug("Connection from %s closed while throttled: %v", c.remote, werr)
					return
				}
				if herr := c.handleMessage(ctx, msg); herr != nil {
					logger.Debug("Error replying to %s: %v", c.remote, herr)
					return
				}
			}
			if ferr != nil {
				logger.Warn("Framing error from %s, closing connection: %v", c.remote, ferr)
				return
			}
		}

		if err != nil {
			c.logReadError(err)
			return
		}
	}
}

// setReadDeadline applies the idle timeout between records and the read
// timeout inside a record.
func (c *connection) setReadDeadline() error {
	timeout := c.server.config.IdleTimeout
	if c.decoder.State() == rpc.AccumulatingFragment && c.server.config.ReadTimeout > 0 {
		timeout = c.server.config.ReadTimeout
	}
	if timeout <= 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.Now().Add(timeout))
}

func (c *connection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection from %s closed by client", c.remote)
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection from %s timed out", c.remote)
	case errors.Is(err, net.ErrClosed):
		logger.Debug("Connection from %s closed", c.remote)
	default:
		logger.Debug("Error reading from %s: %v", c.remote, err)
	}
}

// handleMessage dispatches one call. Only a failed reply write is returned:
// a call too malformed to answer is logged and skipped.
func (c *connection) handleMessage(ctx context.Context, msg []byte) error {
	resp, err := c.server.mux.ServeMessage(ctx, msg, c.remote, "tcp", c)
	if err != nil {
		logger.Debug("Dropping unparseable call from %s: %v", c.remote, err)
		return nil
	}

	switch resp.Kind {
	case rpc.ReplyNow:
		return c.SendReply(resp.Body)
	case rpc.ReplyDropped:
		logger.Debug("No reply sent to %s", c.remote)
	}
	return nil
}

// SendReply writes msg as one record. It is safe for concurrent use.
func (c *connection) SendReply(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.server.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := rpc.WriteRecord(c.conn, msg); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
