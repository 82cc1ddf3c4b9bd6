package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	labels := map[string]string{"code": "204", "direction": "request"}

	require.NoError(t, m.IncrementCounter(AdaptationVerdicts, labels))
	require.NoError(t, m.AddCounter(AdaptationVerdicts, 2, map[string]string{"direction": "request", "code": "204"}))
	v, err := m.GetCounter(AdaptationVerdicts, labels)
	require.NoError(t, err)
	assert.Equal(t, float64(3), v, "label order must not matter")

	assert.Error(t, m.AddCounter(SessionsTotal, -1, nil))

	require.NoError(t, m.AddGauge(SessionsActive, 1, nil))
	require.NoError(t, m.AddGauge(SessionsActive, 1, nil))
	require.NoError(t, m.AddGauge(SessionsActive, -1, nil))
	g, _ := m.GetGauge(SessionsActive, nil)
	assert.Equal(t, float64(1), g)

	require.NoError(t, m.ObserveHistogram(AdaptationLatency, 0.01, nil))
	assert.Equal(t, 1, m.Observations(AdaptationLatency, nil))
}

func TestPrometheusMetrics(t *testing.T) {
	p := NewPrometheusMetrics("ndlp_proxy", nil)
	labels := map[string]string{"reason": "malformed_http"}

	require.NoError(t, p.IncrementCounter(PassthroughFallback, labels))
	require.NoError(t, p.IncrementCounter(PassthroughFallback, labels))
	v, err := p.GetCounter(PassthroughFallback, labels)
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	require.NoError(t, p.AddGauge(SessionsActive, 3, nil))
	require.NoError(t, p.AddGauge(SessionsActive, -1, nil))
	g, err := p.GetGauge(SessionsActive, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), g)

	require.NoError(t, p.ObserveHistogram(AdaptationLatency, 0.02, map[string]string{"direction": "response"}))

	// 标签键集合与首次注册不一致
	assert.Error(t, p.IncrementCounter(PassthroughFallback, map[string]string{"other": "x"}))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "ndlp_proxy_passthrough_fallbacks_total")
	assert.Contains(t, string(body), "ndlp_proxy_adaptation_latency_seconds")
}

func TestCreateMetrics(t *testing.T) {
	m, err := CreateMetrics(MetricsTypeMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryMetrics{}, m)

	m, err = CreateMetrics(MetricsTypePrometheus, "ndlp_proxy")
	require.NoError(t, err)
	assert.IsType(t, &PrometheusMetrics{}, m)

	_, err = CreateMetrics("statsd", "")
	assert.Error(t, err)
}
