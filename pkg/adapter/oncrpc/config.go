package oncrpc

import (
	"fmt"
	"runtime"
	"time"

	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
)

// Config holds the transport settings of one ONC RPC server.
type Config struct {
	// Name labels the server in logs, e.g. "NFS" or "portmap".
	Name string `mapstructure:"-"`

	// Address is the bind host. Empty binds every interface.
	Address string `mapstructure:"address"`

	// Port is the TCP and UDP port. Zero lets the kernel choose, which
	// tests rely on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// EnableUDP also serves datagrams on Port.
	EnableUDP bool `mapstructure:"enable_udp"`

	// MaxConnections caps concurrent TCP connections. Zero is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// Workers is the size of the UDP worker pool.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// ReadTimeout bounds reading one record once its first byte arrived.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes TCP connections without traffic.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the connection drain on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxRecordSize bounds an assembled TCP record.
	MaxRecordSize int `mapstructure:"max_record_size" validate:"min=0"`

	// MetricsLogInterval periodically logs the connection count. Zero
	// disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`

	// CallsPerSecond throttles calls across all clients. TCP readers wait
	// for a token; UDP datagrams without one are dropped. Zero is
	// unlimited.
	CallsPerSecond uint `mapstructure:"calls_per_second"`

	// CallBurst is the token bucket size. Zero defaults to CallsPerSecond.
	CallBurst uint `mapstructure:"call_burst"`
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "RPC"
	}
	if c.Workers <= 0 {
		c.Workers = 4 * runtime.GOMAXPROCS(0)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = rpc.DefaultMaxRecordSize
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v idle=%v", c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}
