package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ndlp-proxy/internal/config"
	"ndlp-proxy/internal/core/safe"
	"ndlp-proxy/internal/server"
	"ndlp-proxy/internal/version"
)

// StatusProvider 运行状态来源
type StatusProvider interface {
	Status() server.Status
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	status StatusProvider
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(status StatusProvider) *HealthHandler {
	return &HealthHandler{status: status}
}

// HealthzResponse /healthz 响应
type HealthzResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Version    string         `json:"version"`
	Goroutines safe.Stats     `json:"goroutines"`
	Proxy      *server.Status `json:"proxy,omitempty"`
}

// HandleHealthz 进程存活即健康
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    version.GetShortVersion(),
		Goroutines: safe.GetStats(),
	}
	if h.status != nil {
		st := h.status.Status()
		resp.Proxy = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleReadyz BRIDGE 模式下至少一个 Worker 在监听才算就绪
func (h *HealthHandler) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	st := h.status.Status()
	ready := st.ClientMode != "" && (!isBridge(st.ClientMode) || st.Listening > 0)
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"ready": ready, "listening": st.Listening})
}

func isBridge(mode string) bool {
	return config.ClientModeConfig{ClientMode: mode}.IsListenMode()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
