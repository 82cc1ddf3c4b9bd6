package cmd

import (
	"fmt"

	"ndlp-proxy/internal/version"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ndlp-proxy %s\n", version.GetVersion())
		},
	}
}
