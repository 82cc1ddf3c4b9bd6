package metrics

// Metrics 指标收集接口
// 内存实现用于测试和关闭指标导出时，Prometheus 实现用于生产
type Metrics interface {
	// Counter 操作
	IncrementCounter(name string, labels map[string]string) error
	AddCounter(name string, value float64, labels map[string]string) error
	GetCounter(name string, labels map[string]string) (float64, error)

	// Gauge 操作
	SetGauge(name string, value float64, labels map[string]string) error
	AddGauge(name string, delta float64, labels map[string]string) error
	GetGauge(name string, labels map[string]string) (float64, error)

	// Histogram 操作
	ObserveHistogram(name string, value float64, labels map[string]string) error

	// 关闭指标收集器
	Close() error
}

// 指标名称
const (
	SessionsTotal       = "sessions_total"
	SessionsActive      = "sessions_active"
	SessionErrors       = "session_errors_total"
	SessionPanics       = "session_panics_total"
	AdaptationVerdicts  = "adaptation_verdicts_total"
	AdaptationLatency   = "adaptation_latency_seconds"
	PassthroughFallback = "passthrough_fallbacks_total"
	RelayBytes          = "relay_bytes_total"
	ListenerEvents      = "listener_events_total"
	ConfigReloads       = "config_reloads_total"
)
