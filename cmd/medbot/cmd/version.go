package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/upb/medbot/app"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the medbot version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "medbot %s (%s %s/%s)\n",
			app.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
