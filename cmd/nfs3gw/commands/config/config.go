// Package config implements the config subcommands.
package config

import "github.com/spf13/cobra"

// ConfigFile returns the --config flag of the root command. The root
// command sets it during init.
var ConfigFile = func() string { return "" }

// Cmd is the parent of the config subcommands.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the gateway configuration",
	Long: `Create, inspect and validate the configuration file.

Examples:
  # Write a default config to the default location
  nfs3gw config init

  # Check a config file
  nfs3gw config validate --config /etc/nfs3gw/config.yaml`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(schemaCmd)
}
