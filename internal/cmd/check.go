package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration files and exit",
		Long: `Load the service config, Local.json and the client mode config with the
same rules as run, then print the effective settings.

Example:
  ndlp-proxy check -c /etc/ndlp/proxy.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadServiceConfig()
			if err != nil {
				return err
			}
			local, mode, err := checkSnapshots(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listen      %s\n", cfg.Proxy.ListenAddr)
			fmt.Fprintf(out, "icap        %s\n", local.ICAPAddr(cfg.Proxy.ICAPAddr))
			fmt.Fprintf(out, "workers     %d\n", local.ThreadNum)
			fmt.Fprintf(out, "client mode %s (listening: %t)\n", mode.ClientMode, mode.IsListenMode())
			fmt.Fprintf(out, "mirror      %t %s\n", local.Mirror.Enable, local.Mirror.Interface)
			fmt.Fprintln(out, "configuration OK")
			return nil
		},
	}
}
