package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/nfs3gw/internal/protocol/portmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetArgs(nil)
		cfgFile = ""
	})

	err := cmd.Execute()
	return out.String(), err
}

// ============================================================================
// Version Tests
// ============================================================================

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nfs3gw dev")
	assert.Contains(t, out, "commit: none")
}

// ============================================================================
// Config Command Tests
// ============================================================================

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nfs3gw", "config.yaml")

	t.Run("Init", func(t *testing.T) {
		out, err := execute(t, "--config", path, "config", "init")
		require.NoError(t, err)
		assert.Contains(t, out, path)
		assert.FileExists(t, path)
	})

	t.Run("InitRefusesOverwrite", func(t *testing.T) {
		_, err := execute(t, "--config", path, "config", "init")
		assert.Error(t, err)
	})

	t.Run("Validate", func(t *testing.T) {
		out, err := execute(t, "--config", path, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})

	t.Run("ValidateRejectsBadConfig", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("nfs:\n  port: 70000\n"), 0644))
		_, err := execute(t, "--config", bad, "config", "validate")
		assert.Error(t, err)
	})

	t.Run("Show", func(t *testing.T) {
		out, err := execute(t, "--config", path, "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 2049")
	})

	t.Run("Schema", func(t *testing.T) {
		out, err := execute(t, "config", "schema")
		require.NoError(t, err)
		assert.Contains(t, out, `"exports"`)
		assert.Contains(t, out, `"portmap"`)
	})
}

// ============================================================================
// rpcinfo Tests
// ============================================================================

func TestRPCInfoRejectsTransport(t *testing.T) {
	_, err := execute(t, "rpcinfo", "--transport", "sctp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sctp")
	rpcinfoTransport = "tcp"
}

func TestPrintMappings(t *testing.T) {
	var out bytes.Buffer
	printMappings(&out, []portmap.Mapping{
		{Prog: 100005, Vers: 3, Prot: portmap.ProtoTCP, Port: 2049},
		{Prog: 100000, Vers: 2, Prot: portmap.ProtoUDP, Port: 111},
		{Prog: 100003, Vers: 3, Prot: portmap.ProtoTCP, Port: 2049},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "PROGRAM")
	assert.Contains(t, lines[1], "portmapper")
	assert.Contains(t, lines[1], "udp")
	assert.Contains(t, lines[2], "nfs")
	assert.Contains(t, lines[3], "mountd")
}
