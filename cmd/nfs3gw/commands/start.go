package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/telemetry"
	"github.com/marmos91/nfs3gw/pkg/config"
	"github.com/marmos91/nfs3gw/pkg/export"
	"github.com/marmos91/nfs3gw/pkg/server"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the NFS gateway in the foreground.

The NFS and MOUNT programs share one port. Unless portmap.register is false
they are registered with the port mapper at portmap.host, or with an
embedded port mapper when portmap.embedded is true. A registration failure
aborts the start.

Export rules are reloaded when the configuration file changes.

Examples:
  # Start with the default config location
  nfs3gw start

  # Start with a custom config file
  nfs3gw start --config /etc/nfs3gw/config.yaml

  # Start with environment variable overrides
  NFS3GW_LOGGING_LEVEL=DEBUG NFS3GW_PORTMAP_EMBEDDED=true nfs3gw start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TracingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error: %v", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilerConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error: %v", err)
		}
	}()

	fmt.Println("nfs3gw - NFSv3 gateway")
	logger.Info("Log level: %s format=%s", cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded: source=%s", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled: endpoint=%s sample_rate=%.2f", cfg.Telemetry.Endpoint, cfg.Telemetry.SampleRate)
	}
	if cfg.Profiling.Enabled {
		logger.Info("Profiling enabled: endpoint=%s profile_types=%v", cfg.Profiling.Endpoint, cfg.Profiling.ProfileTypes)
	}

	metricsResult := config.InitializeMetrics(cfg)
	metricsDone := make(chan error, 1)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled: port=%d", cfg.Metrics.Port)
		go func() { metricsDone <- metricsResult.Server.Start(ctx) }()
	} else {
		logger.Info("Metrics collection disabled")
	}

	gw, err := server.NewGateway(ctx, cfg, metricsResult)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error("Store close error: %v", err)
		}
	}()

	watching, err := config.WatchExports(GetConfigFile(), func(rules []export.Rule) {
		if err := gw.ReplaceExports(rules); err != nil {
			logger.Warn("Export reload rejected: %v", err)
		}
	})
	if err != nil {
		logger.Warn("Export reload disabled: %v", err)
	} else if watching {
		logger.Debug("Watching configuration for export changes")
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- gw.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Gateway is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("shutdown error: %w", err)
		}
		logger.Info("Gateway stopped gracefully")

	case err := <-serverDone:
		cancel()
		if err != nil {
			return fmt.Errorf("gateway error: %w", err)
		}
		logger.Info("Gateway stopped")

	case err := <-metricsDone:
		cancel()
		<-serverDone
		return err
	}

	return nil
}
