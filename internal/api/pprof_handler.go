package api

import (
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	maxProfileSeconds = 300
	maxTraceSeconds   = 10
)

// PProfHandler /debug/pprof 路由
type PProfHandler struct {
	enabled bool
}

// NewPProfHandler 创建 pprof 处理器
func NewPProfHandler(enabled bool) *PProfHandler {
	return &PProfHandler{enabled: enabled}
}

// RegisterRoutes 注册 pprof 路由，未启用时不注册
func (h *PProfHandler) RegisterRoutes(router *mux.Router) {
	if !h.enabled {
		return
	}
	r := router.PathPrefix("/debug/pprof").Subrouter()
	r.HandleFunc("/", pprof.Index).Methods(http.MethodGet)
	r.HandleFunc("/profile", limitSeconds(maxProfileSeconds, pprof.Profile)).Methods(http.MethodGet)
	r.HandleFunc("/trace", limitSeconds(maxTraceSeconds, pprof.Trace)).Methods(http.MethodGet)
	r.HandleFunc("/cmdline", pprof.Cmdline).Methods(http.MethodGet)
	r.HandleFunc("/symbol", pprof.Symbol).Methods(http.MethodGet, http.MethodPost)
	for _, name := range []string{"heap", "goroutine", "allocs", "block", "mutex", "threadcreate"} {
		r.Handle("/"+name, pprof.Handler(name)).Methods(http.MethodGet)
	}
}

// limitSeconds 校验并截断 seconds 参数
func limitSeconds(max int, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if raw := q.Get("seconds"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid seconds parameter", http.StatusBadRequest)
				return
			}
			if n > max {
				q.Set("seconds", strconv.Itoa(max))
				r.URL.RawQuery = q.Encode()
			}
		}
		next(w, r)
	}
}
