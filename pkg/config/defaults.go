package config

import (
	"strings"
	"time"

	"github.com/marmos91/nfs3gw/internal/protocol/mount"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc/callcache"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/marmos91/nfs3gw/pkg/gc"
	"github.com/marmos91/nfs3gw/pkg/writemgr"
)

// Default ports.
const (
	DefaultNFSPort     = 2049
	DefaultPortmapPort = 111
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans defaulting to true are set by viper before unmarshalling
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyNFSDefaults(&cfg.NFS)
	applyMountDefaults(&cfg.Mount)
	applyPortmapDefaults(&cfg.Portmap)
	applyWriteManagerDefaults(&cfg.WriteManager)
	applyStoreDefaults(&cfg.Store)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)

	// Without rules nobody could mount, so an unconfigured gateway is open
	// read-write like a fresh single-user export.
	if len(cfg.Exports) == 0 {
		cfg.Exports = []export.Rule{{Host: "*", Access: "rw"}}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyNFSDefaults sets NFS transport and procedure defaults. Workers is
// left at zero so the transport sizes the pool from GOMAXPROCS.
func applyNFSDefaults(cfg *NFSConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultNFSPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.RTMax == 0 {
		cfg.RTMax = handlers.DefaultRTMax
	}
	if cfg.WTMax == 0 {
		cfg.WTMax = handlers.DefaultWTMax
	}
	if cfg.DTPref == 0 {
		cfg.DTPref = handlers.DefaultDTPref
	}
	if cfg.CallCacheSize == 0 {
		cfg.CallCacheSize = callcache.DefaultCapacity
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = rpc.DefaultMaxRecordSize
	}
}

func applyMountDefaults(cfg *MountConfig) {
	if cfg.Path == "" {
		cfg.Path = mount.DefaultPath
	}
}

func applyPortmapDefaults(cfg *PortmapConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPortmapPort
	}
	if cfg.RegisterTimeout == 0 {
		cfg.RegisterTimeout = 5 * time.Second
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
}

func applyWriteManagerDefaults(cfg *writemgr.Config) {
	if cfg.MaxPendingBytes == 0 {
		cfg.MaxPendingBytes = writemgr.DefaultMaxPendingBytes
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = writemgr.DefaultStreamTimeout
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = writemgr.DefaultFlushInterval
	}
}

func applyGCDefaults(cfg *gc.Config) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = gc.DefaultTimeout
	}
}

// applyStoreDefaults sets store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Metadata.Type == "" {
		cfg.Metadata.Type = "memory"
	}
	if cfg.Metadata.Badger == nil {
		cfg.Metadata.Badger = make(map[string]any)
	}

	if cfg.Content.Type == "" {
		cfg.Content.Type = "memory"
	}
	if cfg.Content.Filesystem == nil {
		cfg.Content.Filesystem = make(map[string]any)
	}
	if cfg.Content.Memory == nil {
		cfg.Content.Memory = make(map[string]any)
	}
	if cfg.Content.S3 == nil {
		cfg.Content.S3 = make(map[string]any)
	}

	// Defaults for every store type, so a generated file documents them
	if _, ok := cfg.Metadata.Badger["db_path"]; !ok {
		cfg.Metadata.Badger["db_path"] = "/var/lib/nfs3gw/metadata"
	}
	if _, ok := cfg.Content.Filesystem["path"]; !ok {
		cfg.Content.Filesystem["path"] = "/var/lib/nfs3gw/content"
	}
	if _, ok := cfg.Content.Memory["max_size_bytes"]; !ok {
		cfg.Content.Memory["max_size_bytes"] = uint64(1073741824) // 1GB
	}

	if cfg.Root.Mode == 0 {
		cfg.Root.Mode = 0o755
	}
	if cfg.Root.Owner == "" {
		cfg.Root.Owner = "0"
	}
	if cfg.Root.Group == "" {
		cfg.Root.Group = "0"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Mount:   MountConfig{Enabled: true},
		Portmap: PortmapConfig{Register: true},
	}

	ApplyDefaults(cfg)
	return cfg
}
