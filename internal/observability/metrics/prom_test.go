package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersObservedSeries(t *testing.T) {
	ObserveHTTPRequest("chat", "POST", 200, 120*time.Millisecond)
	ObserveHTTPRequest("chat", "POST", 500, 80*time.Millisecond)
	ObserveCompletion("z-ai/glm4.7", "stop", 42, 900*time.Millisecond)

	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	for _, want := range []string{
		`modelrelay_http_requests_total{handler="chat",method="POST",code="200"} 1`,
		`modelrelay_http_requests_total{handler="chat",method="POST",code="500"} 1`,
		`modelrelay_http_request_errors_total{handler="chat",method="POST"} 1`,
		`modelrelay_llm_completions_total{model="z-ai/glm4.7",finish_reason="stop"} 1`,
		`modelrelay_llm_tokens_total{model="z-ai/glm4.7"} 42`,
		`# TYPE modelrelay_llm_request_duration_seconds histogram`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("输出缺少指标行 %q\n%s", want, body)
		}
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("Content-Type 不符: %s", got)
	}
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	vec := &histogramVec{
		name:       "test_duration_seconds",
		help:       "test",
		labelNames: []string{"op"},
		series:     make(map[string]*histogram),
	}
	vec.Observe(0.07, "query")
	vec.Observe(0.3, "query")
	vec.Observe(99, "query")

	var b strings.Builder
	vec.render(&b)
	out := b.String()

	for _, want := range []string{
		`test_duration_seconds_bucket{op="query",le="0.1"} 1`,
		`test_duration_seconds_bucket{op="query",le="0.5"} 2`,
		`test_duration_seconds_bucket{op="query",le="10"} 2`,
		`test_duration_seconds_bucket{op="query",le="+Inf"} 3`,
		`test_duration_seconds_count{op="query"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("直方图输出缺少 %q\n%s", want, out)
		}
	}
}
