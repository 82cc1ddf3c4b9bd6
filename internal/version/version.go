// Package version 构建版本信息，由 -ldflags 注入
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Version 版本号，默认 "dev"
	Version = "dev"

	// BuildTime 构建时间
	BuildTime = ""

	// GitCommit 提交哈希
	GitCommit = ""
)

func init() {
	if Version != "dev" {
		Version = strings.TrimPrefix(Version, "v")
		return
	}
	// go install 构建时模块版本可用
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimPrefix(info.Main.Version, "v"); v != "" && v != "(devel)" {
			Version = v
		}
		if GitCommit == "" {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					GitCommit = s.Value
				}
			}
		}
	}
}

// GetVersion 完整版本信息
func GetVersion() string {
	var b strings.Builder
	b.WriteString(GetShortVersion())
	if BuildTime != "" {
		b.WriteString(" (built " + BuildTime + ")")
	}
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		b.WriteString(" commit " + commit)
	}
	b.WriteString(" " + runtime.Version())
	return b.String()
}

// GetShortVersion 简短版本号
func GetShortVersion() string {
	return "v" + Version
}
