package config

import (
	"os"
	"strconv"
	"time"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "NDLP"

// envOverlay 用环境变量覆盖服务配置，取值无法解析时记录为校验错误
type envOverlay struct {
	prefix string
	lookup func(string) (string, bool)
	result ValidationResult
}

// ApplyEnv 以 prefix_ 开头的环境变量覆盖 cfg 中的对应字段
func ApplyEnv(cfg *ServiceConfig, prefix string) error {
	return applyEnv(cfg, prefix, os.LookupEnv)
}

func applyEnv(cfg *ServiceConfig, prefix string, lookup func(string) (string, bool)) error {
	e := &envOverlay{prefix: prefix, lookup: lookup}

	e.loadString("LOG_LEVEL", &cfg.Log.Level)
	e.loadString("LOG_FORMAT", &cfg.Log.Format)
	e.loadString("LOG_OUTPUT", &cfg.Log.Output)
	e.loadString("LOG_FILE", &cfg.Log.File)

	e.loadString("LOCAL_CONFIG", &cfg.Paths.LocalConfig)
	e.loadString("CLIENT_MODE_CONFIG", &cfg.Paths.ClientModeConfig)

	e.loadString("LISTEN_ADDR", &cfg.Proxy.ListenAddr)
	e.loadString("ICAP_ADDR", &cfg.Proxy.ICAPAddr)
	e.loadInt("MAX_HEADERS", &cfg.Proxy.MaxHeaders)
	e.loadInt("MAX_HEADER_BYTES", &cfg.Proxy.MaxHeaderBytes)
	e.loadInt("MAX_BODY_BYTES", &cfg.Proxy.MaxBodyBytes)
	e.loadBool("REPARSE_HEADERS", &cfg.Proxy.ReparseHeaders)
	e.loadDuration("DIAL_TIMEOUT", &cfg.Proxy.DialTimeout)
	e.loadDuration("DRAIN_TIMEOUT", &cfg.Proxy.DrainTimeout)
	e.loadInt("ORIGIN_MARK", &cfg.Proxy.OriginMark)
	e.loadInt("MAX_CONNS_PER_WORKER", &cfg.Proxy.MaxConnsPerWorker)

	e.loadBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	e.loadString("METRICS_LISTEN_ADDR", &cfg.Metrics.ListenAddr)
	e.loadBool("PPROF_ENABLED", &cfg.Metrics.PProf)

	e.loadBool("WATCH_ENABLED", &cfg.Watch.Enabled)
	e.loadDuration("SHUTDOWN_DRAIN_TIMEOUT", &cfg.Shutdown.DrainTimeout)

	return e.result.Err()
}

func (e *envOverlay) get(key string) (string, string, bool) {
	name := e.prefix + "_" + key
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return name, "", false
	}
	return name, v, true
}

func (e *envOverlay) loadString(key string, target *string) {
	if _, v, ok := e.get(key); ok {
		*target = v
	}
}

func (e *envOverlay) loadBool(key string, target *bool) {
	name, v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.result.AddError(name, v, "not a boolean", "use true or false")
		return
	}
	*target = b
}

func (e *envOverlay) loadInt(key string, target *int) {
	name, v, ok := e.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.result.AddError(name, v, "not an integer", "")
		return
	}
	*target = i
}

func (e *envOverlay) loadDuration(key string, target *time.Duration) {
	name, v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.result.AddError(name, v, "not a duration", "e.g. 5s or 250ms")
		return
	}
	*target = d
}
