package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ndlp-proxy/internal/api"
	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/constants"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/metrics"
	"ndlp-proxy/internal/core/safe"
	"ndlp-proxy/internal/proxy/session"
	"ndlp-proxy/internal/server"
	"ndlp-proxy/internal/tproxy"

	"github.com/spf13/cobra"
)

const metricsNamespace = "ndlp_proxy"

func newRunCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the interception proxy",
		Long: `Run the interception proxy until SIGINT or SIGTERM.

SIGHUP reloads Local.json and the client mode config without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&opts.noBanner, "no-banner", false, "Do not print the startup banner")
	return cmd
}

func runProxy(parent context.Context, opts *options, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := opts.loadServiceConfig()
	if err != nil {
		return err
	}
	if err := corelog.Init(cfg.Log.ToLogConfig()); err != nil {
		return err
	}
	logger := corelog.Default()

	var (
		m     metrics.Metrics
		admin *api.AdminServer
		prom  *metrics.PrometheusMetrics
	)
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheusMetrics(metricsNamespace, nil)
		m = prom
	} else {
		m = metrics.NewMemoryMetrics()
	}
	defer m.Close()

	handler := session.NewHandler(
		session.OptionsFromConfig(cfg.Proxy),
		tproxy.NewDialer(cfg.Proxy.DialTimeout, cfg.Proxy.OriginMark),
		tproxy.NewDialer(cfg.Proxy.DialTimeout, 0),
		tproxy.OriginalDst,
		logger, m,
	)
	orch, err := server.New(server.OptionsFromConfig(cfg), handler, logger, m)
	if err != nil {
		return err
	}

	if prom != nil {
		admin = api.NewAdminServer(cfg.Metrics, prom.Handler(), orch, logger)
		if _, err := admin.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(ctx)
		}()
	}

	if !opts.noBanner {
		printBanner(out, cfg, orch)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	watchReload(ctx, orch, logger)

	logger.WithField(constants.LogFieldPath, cfg.Paths.LocalConfig).Infof("ndlp-proxy started with %d workers", orch.Workers())
	if err := orch.Run(ctx); err != nil {
		return err
	}
	logger.Info("ndlp-proxy exited")
	return nil
}

// watchReload SIGHUP 触发配置重新加载
func watchReload(ctx context.Context, orch *server.Orchestrator, logger corelog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	safe.Go("sighup-reload", func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("SIGHUP received, reloading configuration")
				if err := orch.Reload(); err != nil {
					logger.WithError(err).Warn("reload incomplete")
				}
			}
		}
	})
}

// checkSnapshots 读取并校验两份外部配置
func checkSnapshots(cfg *config.ServiceConfig) (config.LocalConfig, config.ClientModeConfig, error) {
	local, err := config.LoadLocalConfig(cfg.Paths.LocalConfig)
	if err != nil {
		return config.LocalConfig{}, config.ClientModeConfig{}, err
	}
	mode, err := config.LoadClientModeConfig(cfg.Paths.ClientModeConfig)
	if err != nil {
		return config.LocalConfig{}, config.ClientModeConfig{}, err
	}
	return local, mode, nil
}
