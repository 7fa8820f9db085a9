package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	httpRequests = newCounterVec(
		"modelrelay_http_requests_total",
		"Total number of HTTP requests processed.",
		"handler", "method", "code",
	)
	httpErrors = newCounterVec(
		"modelrelay_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.",
		"handler", "method",
	)
	httpLatency = newHistogramVec(
		"modelrelay_http_request_duration_seconds",
		"HTTP request duration in seconds.",
		"handler", "method",
	)
)

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.Inc(handler, method, strconv.Itoa(status))
	if status >= http.StatusInternalServerError {
		httpErrors.Inc(handler, method)
	}
	httpLatency.Observe(duration.Seconds(), handler, method)
}

// Handler 以 Prometheus 文本格式输出全部已注册指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		registryMu.Lock()
		vecs := append([]renderer(nil), registry...)
		registryMu.Unlock()

		var builder strings.Builder
		builder.Grow(1024)
		for _, vec := range vecs {
			vec.render(&builder)
		}
		_, _ = w.Write([]byte(builder.String()))
	})
}

// StartServer 启动一个只暴露 /metrics 的独立 HTTP 服务，用于将
// 指标端口与业务端口分开部署的场景。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
