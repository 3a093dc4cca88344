// Package commands implements the nfs3gw command line.
package commands

import (
	"fmt"

	"github.com/marmos91/nfs3gw/cmd/nfs3gw/commands/config"
	"github.com/marmos91/nfs3gw/internal/logger"
	pkgconfig "github.com/marmos91/nfs3gw/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nfs3gw",
	Short: "nfs3gw - NFSv3 gateway",
	Long: `nfs3gw serves a backing file store to NFS version 3 clients over TCP and UDP.
It speaks ONC RPC, the MOUNT protocol and the port mapper protocol, and stores
metadata in memory or BadgerDB and file content on disk, in memory or in S3.

Every configuration key can be overridden from the environment, e.g.
NFS3GW_NFS_PORT=2050 or NFS3GW_EXPORTS="10.0.0.0/8 rw;* ro".

Use "nfs3gw [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nfs3gw/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(portmapCmd)
	rootCmd.AddCommand(rpcinfoCmd)
	rootCmd.AddCommand(config.Cmd)

	config.ConfigFile = func() string { return cfgFile }
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// loadConfig loads the configuration and applies its logging section.
func loadConfig() (*pkgconfig.Config, error) {
	cfg, err := pkgconfig.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	return cfg, nil
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if pkgconfig.ConfigExists() {
		return pkgconfig.GetDefaultConfigPath()
	}
	return "defaults"
}
