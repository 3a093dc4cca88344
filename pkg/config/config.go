package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/marmos91/nfs3gw/pkg/gc"
	"github.com/marmos91/nfs3gw/pkg/identity"
	"github.com/marmos91/nfs3gw/pkg/writemgr"
	"github.com/spf13/viper"
)

// envPrefix prefixes every environment variable, e.g. NFS3GW_NFS_PORT.
const envPrefix = "NFS3GW"

// Config represents the complete gateway configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NFS3GW_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The store
// section holds one option map per implementation and only the map matching
// the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// NFS configures the NFS program and the transport it is served on
	NFS NFSConfig `mapstructure:"nfs" yaml:"nfs"`

	// Mount configures the MOUNT program served next to NFS
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`

	// Portmap controls registration with, or embedding of, a port mapper
	Portmap PortmapConfig `mapstructure:"portmap" yaml:"portmap"`

	// Exports lists the client access rules, first match wins
	Exports []export.Rule `mapstructure:"exports" yaml:"exports" validate:"dive"`

	// Identity maps numeric ids to the owner and group names of the store
	Identity identity.Config `mapstructure:"identity" yaml:"identity"`

	// WriteManager tunes write buffering
	WriteManager writemgr.Config `mapstructure:"write_manager" yaml:"write_manager"`

	// Store selects and configures the backing store
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// GC sweeps the content store for bytes no file references
	GC gc.Config `mapstructure:"gc" yaml:"gc"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry configures OpenTelemetry tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Profiling configures Pyroscope continuous profiling
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// NFSConfig configures the NFS transport and procedures.
type NFSConfig struct {
	// Address is the bind host. Empty binds every interface.
	Address string `mapstructure:"address" yaml:"address"`

	// Port is the TCP and UDP port (default 2049)
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// EnableUDP also serves NFS and MOUNT over UDP
	EnableUDP bool `mapstructure:"enable_udp" yaml:"enable_udp"`

	// MaxConnections caps concurrent TCP connections. Zero is unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// Workers is the UDP worker pool size. Zero uses 4 per CPU.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=0"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// MetricsLogInterval periodically logs the connection count. Zero
	// disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`

	// CallsPerSecond throttles NFS and MOUNT calls. Zero is unlimited.
	CallsPerSecond uint `mapstructure:"calls_per_second" yaml:"calls_per_second"`

	// CallBurst is the throttle's burst allowance. Zero defaults to
	// CallsPerSecond.
	CallBurst uint `mapstructure:"call_burst" yaml:"call_burst"`

	// AllowInsecurePorts accepts calls from source ports >= 1024
	AllowInsecurePorts bool `mapstructure:"allow_insecure_ports" yaml:"allow_insecure_ports"`

	// AIXCompat ignores READDIR cookie verifier mismatches
	AIXCompat bool `mapstructure:"aix_compat" yaml:"aix_compat"`

	// RTMax, WTMax and DTPref are advertised by FSINFO. RTMax also bounds
	// READ and READLINK replies.
	RTMax  uint32 `mapstructure:"rtmax" yaml:"rtmax"`
	WTMax  uint32 `mapstructure:"wtmax" yaml:"wtmax"`
	DTPref uint32 `mapstructure:"dtpref" yaml:"dtpref"`

	// CallCacheSize is the number of replies kept for retransmission
	// detection
	CallCacheSize int `mapstructure:"call_cache_size" yaml:"call_cache_size" validate:"min=0"`

	// MaxObjects is the file slot count reported by FSSTAT and enforced by
	// the store. Zero means unlimited.
	MaxObjects uint64 `mapstructure:"max_objects" yaml:"max_objects"`

	// MaxRecordSize bounds one assembled TCP record
	MaxRecordSize int `mapstructure:"max_record_size" yaml:"max_record_size" validate:"min=0"`
}

// MountConfig configures the MOUNT program.
type MountConfig struct {
	// Enabled serves MOUNT on the NFS port (default true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the single exported directory name
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
}

// PortmapConfig controls port mapper interaction.
type PortmapConfig struct {
	// Embedded runs a port mapper in-process
	Embedded bool `mapstructure:"embedded" yaml:"embedded"`

	// Host is the port mapper to register with (default 127.0.0.1)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the port mapper port (default 111)
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// Register advertises NFS and MOUNT on startup (default true)
	Register bool `mapstructure:"register" yaml:"register"`

	// RegisterTimeout bounds each registration call
	RegisterTimeout time.Duration `mapstructure:"register_timeout" yaml:"register_timeout" validate:"min=0"`

	// Transport used to talk to the port mapper
	// Valid values: tcp, udp
	Transport string `mapstructure:"transport" yaml:"transport" validate:"required,oneof=tcp udp"`
}

// StoreConfig selects the metadata and content stores.
type StoreConfig struct {
	// Metadata specifies the metadata store type and type-specific configuration
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Content specifies the content store type and type-specific configuration
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Capacity overrides the capacity reported by FSSTAT. Zero keeps the
	// content store's own figure.
	Capacity uint64 `mapstructure:"capacity" yaml:"capacity"`

	// ReadOnly rejects every mutation regardless of export access
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// Root specifies the attributes of the root directory on first start
	Root RootConfig `mapstructure:"root" yaml:"root"`
}

// MetadataConfig specifies metadata store configuration.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// ContentConfig specifies content store configuration.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// RootConfig specifies root directory attributes.
type RootConfig struct {
	// Owner and Group are names in the store's namespace
	Owner string `mapstructure:"owner" yaml:"owner"`
	Group string `mapstructure:"group" yaml:"group"`

	// Mode is the Unix permission mode (e.g., 0755)
	Mode uint32 `mapstructure:"mode" yaml:"mode" validate:"lte=511"` // 511 = 0777 in decimal
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NFS3GW_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file there
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	return decode(v)
}

// decode unmarshals, defaults and validates the current viper state.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		exportRulesHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the NFS3GW_ prefix and underscores
	// Example: NFS3GW_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	// Booleans whose default is true cannot be told apart from an explicit
	// false after unmarshalling, so they are defaulted here.
	v.SetDefault("mount.enabled", true)
	v.SetDefault("portmap.register", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/nfs3gw/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindEnvs registers every leaf key of t so that AutomaticEnv also applies
// to keys absent from the config file. Option maps and rule lists are bound
// as a whole.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvs(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// exportRulesHook accepts the "host access;host access" string form for the
// exports list, which is what an environment variable can carry.
func exportRulesHook() mapstructure.DecodeHookFuncType {
	rulesType := reflect.TypeOf([]export.Rule{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != rulesType {
			return data, nil
		}
		return export.Parse(data.(string))
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// WatchExports re-reads the configuration file whenever it changes and
// passes the new export rules to onChange. A change that fails to load or
// validate is logged and ignored. Without a config file there is nothing to
// watch and WatchExports returns false.
func WatchExports(configPath string, onChange func([]export.Rule)) (bool, error) {
	v := viper.New()
	setupViper(v, configPath)
	if err := readConfigFile(v); err != nil {
		return false, err
	}
	if v.ConfigFileUsed() == "" {
		return false, nil
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return false, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring configuration change in %s: %v", e.Name, err)
			return
		}
		logger.Info("Configuration %s changed, reloading %d export rule(s)", e.Name, len(cfg.Exports))
		onChange(cfg.Exports)
	})
	v.WatchConfig()
	return true, nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nfs3gw")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nfs3gw")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
