package config

import (
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/pkg/export"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_NFS(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.NFS.Port != 2049 {
		t.Errorf("Expected default port 2049, got %d", cfg.NFS.Port)
	}
	if cfg.NFS.MaxConnections != 0 {
		t.Errorf("Expected unlimited connections, got %d", cfg.NFS.MaxConnections)
	}
	if cfg.NFS.IdleTimeout != 5*time.Minute {
		t.Errorf("Expected default idle timeout 5m, got %v", cfg.NFS.IdleTimeout)
	}
	if cfg.NFS.RTMax != 1<<20 || cfg.NFS.WTMax != 1<<20 {
		t.Errorf("Expected 1MiB rtmax/wtmax, got %d/%d", cfg.NFS.RTMax, cfg.NFS.WTMax)
	}
	if cfg.NFS.DTPref != 64<<10 {
		t.Errorf("Expected 64KiB dtpref, got %d", cfg.NFS.DTPref)
	}
	if cfg.NFS.CallCacheSize != 256 {
		t.Errorf("Expected call cache of 256, got %d", cfg.NFS.CallCacheSize)
	}
	if cfg.NFS.MaxRecordSize < int(cfg.NFS.WTMax) {
		t.Errorf("max_record_size %d cannot hold a full WRITE", cfg.NFS.MaxRecordSize)
	}
}

func TestApplyDefaults_Store(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Store.Metadata.Type != "memory" || cfg.Store.Content.Type != "memory" {
		t.Errorf("Expected memory stores, got %s/%s", cfg.Store.Metadata.Type, cfg.Store.Content.Type)
	}
	if cfg.Store.Content.Filesystem["path"] == nil {
		t.Error("Expected a default filesystem path")
	}
	if cfg.Store.Metadata.Badger["db_path"] == nil {
		t.Error("Expected a default badger db_path")
	}
	if cfg.Store.Root.Mode != 0o755 {
		t.Errorf("Expected root mode 0755, got %o", cfg.Store.Root.Mode)
	}
}

func TestApplyDefaults_WriteManager(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.WriteManager.MaxPendingBytes != 16<<20 {
		t.Errorf("Expected 16MiB pending limit, got %d", cfg.WriteManager.MaxPendingBytes)
	}
	if cfg.WriteManager.StreamTimeout != 10*time.Second {
		t.Errorf("Expected 10s stream timeout, got %v", cfg.WriteManager.StreamTimeout)
	}
}

func TestApplyDefaults_GC(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.GC.Enabled {
		t.Error("Expected garbage collection disabled by default")
	}
	if cfg.GC.Interval != 24*time.Hour {
		t.Errorf("Expected default GC interval 24h, got %v", cfg.GC.Interval)
	}
	if cfg.GC.Timeout != 10*time.Minute {
		t.Errorf("Expected default GC timeout 10m, got %v", cfg.GC.Timeout)
	}
}

func TestNFSServerConfig_RateLimit(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.NFS.CallsPerSecond = 500
	cfg.NFS.CallBurst = 1000

	srv := cfg.NFSServerConfig()
	if srv.CallsPerSecond != 500 || srv.CallBurst != 1000 {
		t.Errorf("Expected rate limit 500/1000, got %d/%d", srv.CallsPerSecond, srv.CallBurst)
	}
	if pm := cfg.PortmapServerConfig(); pm.CallsPerSecond != 0 {
		t.Errorf("Expected unthrottled port mapper, got %d", pm.CallsPerSecond)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
		NFS:     NFSConfig{Port: 12049, RTMax: 32768, IdleTimeout: time.Minute},
		Portmap: PortmapConfig{Transport: "TCP", Port: 1111},
		Exports: []export.Rule{{Host: "10.0.0.1", Access: "ro"}},
		Store: StoreConfig{
			Content: ContentConfig{Type: "filesystem", Filesystem: map[string]any{"path": "/srv/data"}},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected json/stderr preserved, got %s/%s", cfg.Logging.Format, cfg.Logging.Output)
	}
	if cfg.NFS.Port != 12049 || cfg.NFS.RTMax != 32768 || cfg.NFS.IdleTimeout != time.Minute {
		t.Errorf("Expected explicit NFS values preserved, got %+v", cfg.NFS)
	}
	if cfg.Portmap.Transport != "tcp" || cfg.Portmap.Port != 1111 {
		t.Errorf("Expected portmap tcp/1111, got %s/%d", cfg.Portmap.Transport, cfg.Portmap.Port)
	}
	if len(cfg.Exports) != 1 || cfg.Exports[0].Host != "10.0.0.1" {
		t.Errorf("Expected explicit exports preserved, got %+v", cfg.Exports)
	}
	if cfg.Store.Content.Filesystem["path"] != "/srv/data" {
		t.Errorf("Expected explicit path preserved, got %v", cfg.Store.Content.Filesystem["path"])
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
}

func TestGetDefaultConfig_ComponentConfigs(t *testing.T) {
	cfg := GetDefaultConfig()

	nfs := cfg.NFSServerConfig()
	if nfs.Port != 2049 || nfs.ShutdownTimeout != cfg.Server.ShutdownTimeout {
		t.Errorf("Unexpected NFS server config: %+v", nfs)
	}

	pm := cfg.PortmapServerConfig()
	if pm.Port != 111 || !pm.EnableUDP {
		t.Errorf("Expected embedded portmap on 111 with UDP, got %+v", pm)
	}

	if h := cfg.HandlerConfig(); h.RTMax != cfg.NFS.RTMax || h.DTPref != cfg.NFS.DTPref {
		t.Errorf("Unexpected handler config: %+v", h)
	}

	if m := cfg.MountHandlerConfig(); m.Path != "/" {
		t.Errorf("Expected mount path '/', got %q", m.Path)
	}

	tc := cfg.TracingConfig("1.2.3")
	if tc.Enabled || tc.ServiceVersion != "1.2.3" || tc.Endpoint != "localhost:4317" {
		t.Errorf("Unexpected tracing config: %+v", tc)
	}
}
