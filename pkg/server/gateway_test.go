package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/internal/protocol/mount"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/portmap"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/config"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.NFS.Address = "127.0.0.1"
	cfg.NFS.Port = 0
	cfg.NFS.AllowInsecurePorts = true
	cfg.NFS.MetricsLogInterval = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Portmap.Embedded = true
	cfg.Portmap.Port = 0
	cfg.Portmap.Transport = "tcp"
	cfg.Portmap.RegisterTimeout = 2 * time.Second
	return cfg
}

// startGateway runs a gateway until the test ends.
func startGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	g, err := NewGateway(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	select {
	case <-g.Ready():
	case err := <-done:
		t.Fatalf("gateway stopped during startup: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway never became ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("gateway did not stop")
		}
		assert.NoError(t, g.Close())
	})
	return g
}

func portOf(addr net.Addr) int {
	return addr.(*net.TCPAddr).Port
}

func sysCredentials() *rpc.CredentialsSys {
	return &rpc.CredentialsSys{MachineName: "client", UID: 0, GID: 0}
}

// ============================================================================
// Gateway Tests
// ============================================================================

func TestGatewayRegistersWithEmbeddedPortmap(t *testing.T) {
	g := startGateway(t, testConfig())
	nfsPort := portOf(g.NFSAddr())

	pm := portmap.NewClient("tcp", "127.0.0.1", portOf(g.PortmapAddr()), 2*time.Second, nil)
	ctx := context.Background()

	t.Run("NFS", func(t *testing.T) {
		port, err := pm.GetPort(ctx, types.ProgramNFS, types.NFSVersion, portmap.ProtoTCP)
		require.NoError(t, err)
		assert.Equal(t, uint32(nfsPort), port)
	})

	t.Run("MountEveryVersion", func(t *testing.T) {
		for vers := uint32(mount.VersionLow); vers <= mount.Version; vers++ {
			port, err := pm.GetPort(ctx, mount.Program, vers, portmap.ProtoTCP)
			require.NoError(t, err)
			assert.Equal(t, uint32(nfsPort), port, "mount v%d", vers)
		}
	})

	t.Run("NoUDPWhenDisabled", func(t *testing.T) {
		port, err := pm.GetPort(ctx, types.ProgramNFS, types.NFSVersion, portmap.ProtoUDP)
		require.NoError(t, err)
		assert.Zero(t, port)
	})

	t.Run("Dump", func(t *testing.T) {
		mappings, err := pm.Dump(ctx)
		require.NoError(t, err)
		// portmap tcp+udp, nfs v3, mount v1-v3
		assert.Len(t, mappings, 6)
	})
}

func TestGatewayServesNFSAndMount(t *testing.T) {
	g := startGateway(t, testConfig())
	addr := g.NFSAddr().String()
	ctx := context.Background()

	client := rpc.NewClient("tcp", addr, 2*time.Second, nil).WithCredentials(sysCredentials())

	_, err := client.Call(ctx, types.ProgramNFS, types.NFSVersion, types.ProcNull, nil)
	require.NoError(t, err)

	args := xdr.NewWriter(16)
	args.WriteString("/")
	reply, err := client.Call(ctx, mount.Program, mount.Version, mount.ProcMnt, args.Bytes())
	require.NoError(t, err)

	r := xdr.NewReader(reply)
	status, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(mount.MountOK), status)
	handle, err := r.ReadOpaque(64)
	require.NoError(t, err)

	entries := g.Mounts().List()
	require.Len(t, entries, 1)
	assert.Equal(t, "127.0.0.1", entries[0].Hostname)

	getattr := xdr.NewWriter(len(handle) + 4)
	getattr.WriteOpaque(handle)
	reply, err = client.Call(ctx, types.ProgramNFS, types.NFSVersion, types.ProcGetAttr, getattr.Bytes())
	require.NoError(t, err)
	status, err = xdr.NewReader(reply).ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3OK), status)
}

func TestGatewayExportReload(t *testing.T) {
	g := startGateway(t, testConfig())
	client := rpc.NewClient("tcp", g.NFSAddr().String(), 2*time.Second, nil).WithCredentials(sysCredentials())
	ctx := context.Background()

	mnt := func() uint32 {
		args := xdr.NewWriter(16)
		args.WriteString("/")
		reply, err := client.Call(ctx, mount.Program, mount.Version, mount.ProcMnt, args.Bytes())
		require.NoError(t, err)
		status, err := xdr.NewReader(reply).ReadUint32()
		require.NoError(t, err)
		return status
	}

	require.Equal(t, uint32(mount.MountOK), mnt())

	require.NoError(t, g.ReplaceExports([]export.Rule{{Host: "10.0.0.0/8", Access: "rw"}}))
	assert.Equal(t, uint32(mount.MountErrAccess), mnt())

	assert.Error(t, g.ReplaceExports([]export.Rule{{Host: "bogus", Access: "rw"}}))
	assert.Len(t, g.Exports().Rules(), 1, "a bad reload keeps the current rules")
}

func TestGatewayWithoutMount(t *testing.T) {
	cfg := testConfig()
	cfg.Mount.Enabled = false
	g := startGateway(t, cfg)

	pm := portmap.NewClient("tcp", "127.0.0.1", portOf(g.PortmapAddr()), 2*time.Second, nil)
	port, err := pm.GetPort(context.Background(), mount.Program, mount.Version, portmap.ProtoTCP)
	require.NoError(t, err)
	assert.Zero(t, port)

	client := rpc.NewClient("tcp", g.NFSAddr().String(), 2*time.Second, nil)
	_, err = client.Call(context.Background(), mount.Program, mount.Version, mount.ProcNull, nil)
	assert.Error(t, err, "MOUNT is not served")
}

func TestGatewayFailsWithoutPortmapper(t *testing.T) {
	// Reserve a port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := portOf(ln.Addr())
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.Portmap.Embedded = false
	cfg.Portmap.Host = "127.0.0.1"
	cfg.Portmap.Port = deadPort
	cfg.Portmap.RegisterTimeout = 300 * time.Millisecond

	g, err := NewGateway(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	err = g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portmap registration")
	assert.Nil(t, g.PortmapAddr())
}

func TestGatewayCollectGarbage(t *testing.T) {
	g := startGateway(t, testConfig())
	ctx := context.Background()

	_, content := g.fs.Backends()
	require.NoError(t, content.WriteAt(ctx, "leaked", 0, []byte("orphan")))

	stats, err := g.CollectGarbage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Orphaned)
	assert.Equal(t, 1, stats.Deleted)
}
