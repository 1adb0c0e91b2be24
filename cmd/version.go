package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawkym/matrixsync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the current version of matrixsync.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
