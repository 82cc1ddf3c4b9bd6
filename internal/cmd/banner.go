package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/server"
	"ndlp-proxy/internal/version"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const bannerWidth = 56

// useColor 仅在输出到终端时着色
func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func painter(w io.Writer, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if !useColor(w) {
		c.DisableColor()
	}
	return c
}

func errorPrefix(w io.Writer) string {
	return painter(w, color.FgRed, color.Bold).Sprint("error:")
}

// printBanner 启动信息
func printBanner(w io.Writer, cfg *config.ServiceConfig, orch *server.Orchestrator) {
	title := painter(w, color.FgCyan, color.Bold)
	label := painter(w, color.Faint)
	local, mode := orch.Snapshots()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", title.Sprint("ndlp-proxy"), label.Sprint(version.GetShortVersion()))
	fmt.Fprintln(w, label.Sprint("  "+strings.Repeat("─", bannerWidth)))

	rows := []struct{ k, v string }{
		{"Listen", cfg.Proxy.ListenAddr},
		{"ICAP", local.ICAPAddr(cfg.Proxy.ICAPAddr)},
		{"Workers", fmt.Sprint(orch.Workers())},
		{"Client mode", fmt.Sprintf("%s (listening: %t)", mode.ClientMode, mode.IsListenMode())},
		{"Local config", cfg.Paths.LocalConfig},
		{"Mode config", cfg.Paths.ClientModeConfig},
	}
	if cfg.Metrics.Enabled {
		rows = append(rows, struct{ k, v string }{"Metrics", "http://" + cfg.Metrics.ListenAddr + cfg.Metrics.Path})
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %-14s %s\n", label.Sprint(r.k), r.v)
	}
	fmt.Fprintln(w)
}
