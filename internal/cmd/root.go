// Package cmd ndlp-proxy 命令行
package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/version"

	"github.com/spf13/cobra"
)

// options 全局标志
type options struct {
	configFile  string
	localConfig string
	modeConfig  string
	logLevel    string
	noBanner    bool
}

// NewRootCommand 创建根命令，不带子命令时等同于 run
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ndlp-proxy",
		Short: "Transparent TCP interception proxy with ICAP content adaptation",
		Long: `ndlp-proxy accepts transparently redirected TCP connections, relays them
to their original destination and submits HTTP message bodies to an ICAP
adaptation service. Unparseable traffic is forwarded unchanged.

Examples:
  ndlp-proxy                          Run with built-in defaults
  ndlp-proxy -c /etc/ndlp/proxy.yaml  Run with a service config file
  ndlp-proxy check                    Validate all configuration files`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Service config file (YAML)")
	flags.StringVar(&opts.localConfig, "local-config", "", "Override paths.local_config")
	flags.StringVar(&opts.modeConfig, "mode-config", "", "Override paths.client_mode_config")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug/info/warn/error)")
	root.Flags().BoolVar(&opts.noBanner, "no-banner", false, "Do not print the startup banner")

	root.AddCommand(newRunCommand(opts), newCheckCommand(opts), newVersionCommand())
	return root
}

// loadServiceConfig 读取服务配置并应用命令行覆盖
func (o *options) loadServiceConfig() (*config.ServiceConfig, error) {
	cfg, err := config.LoadServiceConfig(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.localConfig != "" {
		cfg.Paths.LocalConfig = o.localConfig
	}
	if o.modeConfig != "" {
		cfg.Paths.ClientModeConfig = o.modeConfig
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute 执行根命令
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\nPANIC: %v\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := NewRootCommand().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errorPrefix(w), err)
}
