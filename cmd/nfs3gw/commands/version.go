package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nfs3gw %s (commit: %s, built: %s, %s %s/%s)\n",
			Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
