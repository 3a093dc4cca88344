package config

import (
	"fmt"

	"github.com/marmos91/nfs3gw/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration.

The file goes to the --config path when given, otherwise to
$XDG_CONFIG_HOME/nfs3gw/config.yaml. An existing file is kept unless
--force is set.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := ConfigFile()
	if path != "" {
		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
	} else {
		var err error
		if path, err = config.InitConfig(initForce); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration written to %s\n", path)
	_, _ = fmt.Fprintln(out, "Edit the exports section before starting the gateway.")
	return nil
}
