package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zereker/mongrel2"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the library version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), mongrel2.VersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
