package metrics

import (
	coreerrors "ndlp-proxy/internal/core/errors"
)

// MetricsType 指标类型
type MetricsType string

const (
	// MetricsTypeMemory 内存指标
	MetricsTypeMemory MetricsType = "memory"
	// MetricsTypePrometheus Prometheus 指标
	MetricsTypePrometheus MetricsType = "prometheus"
)

// CreateMetrics 创建指标收集器实例
func CreateMetrics(metricsType MetricsType, namespace string) (Metrics, error) {
	switch metricsType {
	case MetricsTypeMemory, "":
		return NewMemoryMetrics(), nil
	case MetricsTypePrometheus:
		return NewPrometheusMetrics(namespace, nil), nil
	default:
		return nil, coreerrors.Newf(coreerrors.CodeInvalidParam, "unsupported metrics type: %s", metricsType)
	}
}
