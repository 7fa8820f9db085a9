package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"ModelRelay/internal/observability/metrics"
	"ModelRelay/pkg/logger"
)

// instrument 包装处理函数，统一完成鉴权、指标采集与访问审计。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			logger.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
			)
			metrics.ObserveHTTPRequest(name, r.Method, http.StatusUnauthorized, 0)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		duration := time.Since(start)

		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, duration)
		logger.Audit().Info("api_request",
			"event", name,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// authorize 校验 Bearer Token；未配置 token 时放行所有请求。
func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(s.authToken)) == 1
}

// statusRecorder 捕获响应状态码，供指标与审计使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
