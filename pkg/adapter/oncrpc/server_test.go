package oncrpc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Program
// ============================================================================

const (
	echoProgram = 400123

	procEcho     = 1
	procDeferred = 2
	procSilent   = 3
)

// echoHandler returns its arguments, either immediately or from another
// goroutine through rpc.Deferred.
type echoHandler struct{}

func (echoHandler) Program() rpc.Program {
	return rpc.Program{Name: "echo", Number: echoProgram, Low: 1, High: 1, AllowInsecurePorts: true}
}

func (echoHandler) ServeRPC(_ context.Context, req *rpc.Request) rpc.Response {
	switch req.Call.Procedure {
	case procEcho:
		return rpc.Reply(rpc.SuccessReply(req.Call.XID, req.Args))
	case procDeferred:
		args := append([]byte(nil), req.Args...)
		d := rpc.NewDeferred(req.Call.XID, req.Sender, nil)
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = d.Complete(args)
		}()
		return rpc.Defer()
	case procSilent:
		return rpc.Drop()
	}
	return rpc.Reply(rpc.ErrorReply(req.Call.XID, rpc.ProcUnavail))
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	mux := rpc.NewMux()
	mux.Handle(echoHandler{})

	cfg.Address = "127.0.0.1"
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	s, err := New(cfg, mux, nil)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

func payload() []byte {
	w := xdr.NewWriter(16)
	w.WriteString("ping")
	return w.Bytes()
}

// ============================================================================
// Transport Tests
// ============================================================================

func TestTCP(t *testing.T) {
	s := startServer(t, Config{Name: "test"})
	client := rpc.NewClient("tcp", s.Addr().String(), 2*time.Second, nil)

	t.Run("Immediate", func(t *testing.T) {
		out, err := client.Call(context.Background(), echoProgram, 1, procEcho, payload())
		require.NoError(t, err)
		assert.Equal(t, payload(), out)
	})

	t.Run("Deferred", func(t *testing.T) {
		out, err := client.Call(context.Background(), echoProgram, 1, procDeferred, payload())
		require.NoError(t, err)
		assert.Equal(t, payload(), out)
	})

	t.Run("UnknownProgram", func(t *testing.T) {
		_, err := client.Call(context.Background(), 99, 1, procEcho, nil)
		var accept *rpc.AcceptError
		require.ErrorAs(t, err, &accept)
		assert.EqualValues(t, rpc.ProgUnavail, accept.Stat)
	})
}

func TestUDP(t *testing.T) {
	s := startServer(t, Config{Name: "test", EnableUDP: true, Workers: 2})
	require.NotNil(t, s.UDPAddr())
	assert.Equal(t, s.Port(), s.UDPAddr().(*net.UDPAddr).Port)

	client := rpc.NewClient("udp", s.UDPAddr().String(), 2*time.Second, nil)

	out, err := client.Call(context.Background(), echoProgram, 1, procEcho, payload())
	require.NoError(t, err)
	assert.Equal(t, payload(), out)

	out, err = client.Call(context.Background(), echoProgram, 1, procDeferred, payload())
	require.NoError(t, err)
	assert.Equal(t, payload(), out)
}

func TestFragmentedRecord(t *testing.T) {
	s := startServer(t, Config{Name: "test"})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	call := &rpc.Call{XID: 77, Program: echoProgram, Version: 1, Procedure: procEcho}
	w := xdr.NewWriter(64)
	require.NoError(t, call.Write(w))
	_, _ = w.Write(payload())

	// One call split into 7-byte fragments, sent in a single write.
	require.NoError(t, rpc.WriteFragments(conn, w.Bytes(), 7))

	dec := rpc.NewRecordDecoder(0)
	buf := make([]byte, 4096)
	var msgs [][]byte
	for len(msgs) == 0 {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		out, ferr := dec.Feed(buf[:n])
		require.NoError(t, ferr)
		msgs = append(msgs, out...)
	}

	r := xdr.NewReader(msgs[0])
	reply, err := rpc.ReadReply(r)
	require.NoError(t, err)
	assert.EqualValues(t, 77, reply.XID)
	assert.Equal(t, payload(), r.Rest())
}

func TestDroppedCallSendsNothing(t *testing.T) {
	s := startServer(t, Config{Name: "test"})
	client := rpc.NewClient("tcp", s.Addr().String(), 300*time.Millisecond, nil)

	_, err := client.Call(context.Background(), echoProgram, 1, procSilent, nil)
	require.Error(t, err)
}

func TestOversizedRecordClosesConnection(t *testing.T) {
	s := startServer(t, Config{Name: "test", MaxRecordSize: 1024})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 0x80000000|4096)
	_, err = conn.Write(header[:])
	require.NoError(t, err)

	_, err = conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestCallRateLimit(t *testing.T) {
	t.Run("TCPWaitsForTokens", func(t *testing.T) {
		s := startServer(t, Config{Name: "test", CallsPerSecond: 10, CallBurst: 1})
		client := rpc.NewClient("tcp", s.Addr().String(), 2*time.Second, nil)

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := client.Call(context.Background(), echoProgram, 1, procEcho, payload())
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("UDPDropsExcess", func(t *testing.T) {
		s := startServer(t, Config{Name: "test", EnableUDP: true, CallsPerSecond: 1, CallBurst: 1})
		client := rpc.NewClient("udp", s.UDPAddr().String(), 200*time.Millisecond, nil)

		_, err := client.Call(context.Background(), echoProgram, 1, procEcho, payload())
		require.NoError(t, err)

		_, err = client.Call(context.Background(), echoProgram, 1, procEcho, payload())
		assert.Error(t, err, "the second datagram exceeds the bucket")
	})
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestConnectionTracking(t *testing.T) {
	s := startServer(t, Config{Name: "test"})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGracefulShutdownWithIdleConnection(t *testing.T) {
	mux := rpc.NewMux()
	mux.Handle(echoHandler{})
	s, err := New(Config{Name: "test", Address: "127.0.0.1", EnableUDP: true, ShutdownTimeout: 2 * time.Second}, mux, nil)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.EqualValues(t, 0, s.ActiveConnections())
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Port: 70000}, rpc.NewMux(), nil)
	require.Error(t, err)
}
