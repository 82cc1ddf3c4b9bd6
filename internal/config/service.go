package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"
	corelog "ndlp-proxy/internal/core/log"

	"gopkg.in/yaml.v3"
)

// ServiceConfig 代理服务自身配置
type ServiceConfig struct {
	Log      LogConfig      `yaml:"log"`
	Paths    PathsConfig    `yaml:"paths"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug/info/warn/error
	Format string `yaml:"format"` // text/json
	Output string `yaml:"output"` // stdout/stderr/file
	File   string `yaml:"file"`
}

// PathsConfig 外部配置文件位置
type PathsConfig struct {
	LocalConfig      string `yaml:"local_config"`
	ClientModeConfig string `yaml:"client_mode_config"`
}

// ProxyConfig 转发与解析参数
type ProxyConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	ICAPAddr   string `yaml:"icap_addr"`

	MaxHeaders     int  `yaml:"max_headers"`
	MaxHeaderBytes int  `yaml:"max_header_bytes"`
	MaxBodyBytes   int  `yaml:"max_body_bytes"`
	ReparseHeaders bool `yaml:"reparse_headers"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// OriginMark 出站连接的 SO_MARK，0 表示不设置
	OriginMark int `yaml:"origin_mark"`

	// MaxConnsPerWorker 每个 Worker 并发连接上限，0 表示不限制
	MaxConnsPerWorker int `yaml:"max_conns_per_worker"`
	// AcceptRate 每个 Worker 每秒接受连接数，0 表示不限制
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
}

// MetricsConfig 管理端口：Prometheus 导出、健康检查与 pprof
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	PProf      bool   `yaml:"pprof"`
}

// WatchConfig 配置文件监听
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// ShutdownConfig 退出时等待在途会话的时间，0 表示立即退出
type ShutdownConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultServiceConfig 默认配置
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Log: LogConfig{
			Level:  constants.LogLevelInfo,
			Format: constants.LogFormatText,
			Output: constants.LogOutputStderr,
		},
		Paths: PathsConfig{
			LocalConfig:      constants.DefaultLocalConfigFile,
			ClientModeConfig: constants.DefaultClientModeConfigFile,
		},
		Proxy: ProxyConfig{
			ListenAddr:     constants.DefaultListenAddr,
			ICAPAddr:       constants.DefaultICAPAddr,
			MaxHeaders:     constants.DefaultMaxHeaders,
			MaxHeaderBytes: constants.DefaultMaxHeaderBytes,
			MaxBodyBytes:   constants.DefaultMaxBodyBytes,
			DialTimeout:    constants.DefaultDialTimeout,
			DrainTimeout:   constants.DefaultDrainTimeout,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9128",
			Path:       "/metrics",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: constants.DefaultWatchDebounce,
		},
	}
}

// LoadServiceConfig 依次叠加默认值、YAML 文件与 NDLP_ 环境变量，path 为空时跳过文件
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "read service config %q", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "parse service config %q", path)
		}
	}
	if err := ApplyEnv(cfg, EnvPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验服务配置
func (c *ServiceConfig) Validate() error {
	var result ValidationResult

	switch c.Log.Level {
	case constants.LogLevelDebug, constants.LogLevelInfo, constants.LogLevelWarn, constants.LogLevelError:
	default:
		result.AddError("log.level", c.Log.Level, "unknown log level", "use debug, info, warn or error")
	}
	switch c.Log.Format {
	case constants.LogFormatText, constants.LogFormatJSON:
	default:
		result.AddError("log.format", c.Log.Format, "unknown log format", "use text or json")
	}
	switch c.Log.Output {
	case constants.LogOutputStdout, constants.LogOutputStderr:
	case constants.LogOutputFile:
		if c.Log.File == "" {
			result.AddError("log.file", "", "file output requires a path", "")
		}
	default:
		result.AddError("log.output", c.Log.Output, "unknown log output", "use stdout, stderr or file")
	}

	if c.Paths.LocalConfig == "" {
		result.AddError("paths.local_config", "", "must not be empty", "")
	}
	if c.Paths.ClientModeConfig == "" {
		result.AddError("paths.client_mode_config", "", "must not be empty", "")
	}

	checkAddr(&result, "proxy.listen_addr", c.Proxy.ListenAddr)
	checkAddr(&result, "proxy.icap_addr", c.Proxy.ICAPAddr)
	if c.Proxy.MaxHeaders < 1 {
		result.AddError("proxy.max_headers", strconv.Itoa(c.Proxy.MaxHeaders), "must be positive", "")
	}
	if c.Proxy.MaxHeaderBytes < 1 {
		result.AddError("proxy.max_header_bytes", strconv.Itoa(c.Proxy.MaxHeaderBytes), "must be positive", "")
	}
	if c.Proxy.MaxBodyBytes < 1 {
		result.AddError("proxy.max_body_bytes", strconv.Itoa(c.Proxy.MaxBodyBytes), "must be positive", "")
	}
	if c.Proxy.DialTimeout <= 0 {
		result.AddError("proxy.dial_timeout", c.Proxy.DialTimeout.String(), "must be positive", "")
	}
	if c.Proxy.DrainTimeout < 0 {
		result.AddError("proxy.drain_timeout", c.Proxy.DrainTimeout.String(), "must not be negative", "")
	}
	if c.Proxy.MaxConnsPerWorker < 0 {
		result.AddError("proxy.max_conns_per_worker", strconv.Itoa(c.Proxy.MaxConnsPerWorker), "must not be negative", "")
	}
	if c.Proxy.AcceptRate < 0 {
		result.AddError("proxy.accept_rate", strconv.FormatFloat(c.Proxy.AcceptRate, 'f', -1, 64), "must not be negative", "")
	}
	if c.Proxy.AcceptRate > 0 && c.Proxy.AcceptBurst < 1 {
		result.AddError("proxy.accept_burst", strconv.Itoa(c.Proxy.AcceptBurst), "must be positive when accept_rate is set", "")
	}

	if c.Metrics.Enabled {
		checkAddr(&result, "metrics.listen_addr", c.Metrics.ListenAddr)
		if len(c.Metrics.Path) == 0 || c.Metrics.Path[0] != '/' {
			result.AddError("metrics.path", c.Metrics.Path, "must start with /", "")
		}
	}
	if c.Watch.Debounce < 0 {
		result.AddError("watch.debounce", c.Watch.Debounce.String(), "must not be negative", "")
	}
	if c.Shutdown.DrainTimeout < 0 {
		result.AddError("shutdown.drain_timeout", c.Shutdown.DrainTimeout.String(), "must not be negative", "")
	}

	return result.Err()
}

func checkAddr(result *ValidationResult, field, addr string) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, addr, "not a host:port address", "")
		return
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		result.AddError(field, addr, "invalid port", "")
	}
}

// ToLogConfig 转换为日志模块配置
func (c LogConfig) ToLogConfig() *corelog.Config {
	return &corelog.Config{
		Level:  c.Level,
		Format: c.Format,
		Output: c.Output,
		File:   c.File,
	}
}
