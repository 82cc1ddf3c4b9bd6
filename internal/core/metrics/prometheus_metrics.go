package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// latencyBuckets 审计往返耗时分桶（秒）
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// PrometheusMetrics 基于 client_golang 的指标实现
// 每个指标名在首次使用时注册，标签键集合以首次使用为准
type PrometheusMetrics struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器，registry 为 nil 时新建
func NewPrometheusMetrics(namespace string, registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &PrometheusMetrics{
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry 返回底层注册表
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Handler 返回 /metrics 处理器
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (p *PrometheusMetrics) counterVec(name string, labels map[string]string) (*prometheus.CounterVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[name]; ok {
		return vec, nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      name,
	}, sortedKeys(labels))
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("register counter %s: %w", name, err)
	}
	p.counters[name] = vec
	return vec, nil
}

func (p *PrometheusMetrics) gaugeVec(name string, labels map[string]string) (*prometheus.GaugeVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.gauges[name]; ok {
		return vec, nil
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      name,
	}, sortedKeys(labels))
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("register gauge %s: %w", name, err)
	}
	p.gauges[name] = vec
	return vec, nil
}

func (p *PrometheusMetrics) histogramVec(name string, labels map[string]string) (*prometheus.HistogramVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.histograms[name]; ok {
		return vec, nil
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      name,
		Buckets:   latencyBuckets,
	}, sortedKeys(labels))
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("register histogram %s: %w", name, err)
	}
	p.histograms[name] = vec
	return vec, nil
}

// IncrementCounter 增加计数器
func (p *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) error {
	return p.AddCounter(name, 1, labels)
}

// AddCounter 增加计数器指定值
func (p *PrometheusMetrics) AddCounter(name string, value float64, labels map[string]string) error {
	vec, err := p.counterVec(name, labels)
	if err != nil {
		return err
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		return err
	}
	if value < 0 {
		return fmt.Errorf("counter %s cannot decrease", name)
	}
	c.Add(value)
	return nil
}

// GetCounter 获取计数器值
func (p *PrometheusMetrics) GetCounter(name string, labels map[string]string) (float64, error) {
	vec, err := p.counterVec(name, labels)
	if err != nil {
		return 0, err
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		return 0, err
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}

// SetGauge 设置 Gauge 值
func (p *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) error {
	vec, err := p.gaugeVec(name, labels)
	if err != nil {
		return err
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		return err
	}
	g.Set(value)
	return nil
}

// AddGauge 增减 Gauge 值
func (p *PrometheusMetrics) AddGauge(name string, delta float64, labels map[string]string) error {
	vec, err := p.gaugeVec(name, labels)
	if err != nil {
		return err
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		return err
	}
	g.Add(delta)
	return nil
}

// GetGauge 获取 Gauge 值
func (p *PrometheusMetrics) GetGauge(name string, labels map[string]string) (float64, error) {
	vec, err := p.gaugeVec(name, labels)
	if err != nil {
		return 0, err
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		return 0, err
	}
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0, err
	}
	return m.GetGauge().GetValue(), nil
}

// ObserveHistogram 记录 Histogram 样本
func (p *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) error {
	vec, err := p.histogramVec(name, labels)
	if err != nil {
		return err
	}
	h, err := vec.GetMetricWith(labels)
	if err != nil {
		return err
	}
	h.Observe(value)
	return nil
}

// Close 关闭指标收集器
func (p *PrometheusMetrics) Close() error {
	return nil
}
