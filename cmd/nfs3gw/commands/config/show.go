package config

import (
	"fmt"

	"github.com/marmos91/nfs3gw/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and NFS3GW_*
environment overrides have been merged.`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(ConfigFile())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
