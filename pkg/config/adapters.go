package config

import (
	"github.com/marmos91/nfs3gw/internal/protocol/mount"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfs3gw/internal/telemetry"
	"github.com/marmos91/nfs3gw/pkg/adapter/oncrpc"
)

// NFSServerConfig returns the transport settings of the NFS port.
func (c *Config) NFSServerConfig() oncrpc.Config {
	return oncrpc.Config{
		Name:               "NFS",
		Address:            c.NFS.Address,
		Port:               c.NFS.Port,
		EnableUDP:          c.NFS.EnableUDP,
		MaxConnections:     c.NFS.MaxConnections,
		Workers:            c.NFS.Workers,
		ReadTimeout:        c.NFS.ReadTimeout,
		WriteTimeout:       c.NFS.WriteTimeout,
		IdleTimeout:        c.NFS.IdleTimeout,
		ShutdownTimeout:    c.Server.ShutdownTimeout,
		MaxRecordSize:      c.NFS.MaxRecordSize,
		MetricsLogInterval: c.NFS.MetricsLogInterval,
		CallsPerSecond:     c.NFS.CallsPerSecond,
		CallBurst:          c.NFS.CallBurst,
	}
}

// PortmapServerConfig returns the transport settings of an embedded port
// mapper. It always serves both TCP and UDP.
func (c *Config) PortmapServerConfig() oncrpc.Config {
	return oncrpc.Config{
		Name:            "portmap",
		Address:         c.NFS.Address,
		Port:            c.Portmap.Port,
		EnableUDP:       true,
		Workers:         c.NFS.Workers,
		ReadTimeout:     c.NFS.ReadTimeout,
		WriteTimeout:    c.NFS.WriteTimeout,
		IdleTimeout:     c.NFS.IdleTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// HandlerConfig returns the tunables of the NFS procedures.
func (c *Config) HandlerConfig() handlers.Config {
	return handlers.Config{
		RTMax:      c.NFS.RTMax,
		WTMax:      c.NFS.WTMax,
		DTPref:     c.NFS.DTPref,
		AIXCompat:  c.NFS.AIXCompat,
		MaxObjects: c.NFS.MaxObjects,
	}
}

// DispatcherConfig returns the NFS dispatcher settings.
func (c *Config) DispatcherConfig() nfs.Config {
	return nfs.Config{AllowInsecurePorts: c.NFS.AllowInsecurePorts}
}

// MountHandlerConfig returns the MOUNT program settings.
func (c *Config) MountHandlerConfig() mount.Config {
	return mount.Config{Path: c.Mount.Path, AllowInsecurePorts: c.NFS.AllowInsecurePorts}
}

// TracingConfig returns the OpenTelemetry settings for the given build
// version.
func (c *Config) TracingConfig(version string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = c.Telemetry.Enabled
	tc.Endpoint = c.Telemetry.Endpoint
	tc.Insecure = c.Telemetry.Insecure
	tc.SampleRate = c.Telemetry.SampleRate
	if version != "" {
		tc.ServiceVersion = version
	}
	return tc
}

// ProfilerConfig returns the Pyroscope settings for the given build
// version.
func (c *Config) ProfilerConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Profiling.Enabled,
		ServiceName:    "nfs3gw",
		ServiceVersion: version,
		Endpoint:       c.Profiling.Endpoint,
		ProfileTypes:   c.Profiling.ProfileTypes,
	}
}
