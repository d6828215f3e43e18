package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Current Version:    %s\n", Version)
		fmt.Fprintln(cmd.OutOrStdout())
	},
}
