package metrics

import "time"

var (
	llmCompletions = newCounterVec(
		"modelrelay_llm_completions_total",
		"Total number of model completions by finish reason.",
		"model", "finish_reason",
	)
	llmTokens = newCounterVec(
		"modelrelay_llm_tokens_total",
		"Total number of tokens reported by the upstream provider.",
		"model",
	)
	llmLatency = newHistogramVec(
		"modelrelay_llm_request_duration_seconds",
		"Model round trip duration in seconds.",
		"model",
	)
)

// ObserveCompletion 记录一次模型往返：哪个模型应答、以何种方式
// 结束、消耗多少 token、耗时多久。
func ObserveCompletion(model, finishReason string, totalTokens int, duration time.Duration) {
	llmCompletions.Inc(model, finishReason)
	if totalTokens > 0 {
		llmTokens.Add(uint64(totalTokens), model)
	}
	llmLatency.Observe(duration.Seconds(), model)
}
