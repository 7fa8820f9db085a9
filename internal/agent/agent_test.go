package agent

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	xerrors "ModelRelay/internal/errors"
	"ModelRelay/internal/llm"
	"ModelRelay/internal/tool"
)

type stubProvider struct {
	responses []*llm.Response
	calls     int
	wait      time.Duration
	messages  [][]llm.Message
	params    []llm.ChatParams
}

func (s *stubProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) *llm.Response {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return llm.ErrorResponse(ctx.Err())
		}
	}
	copied := make([]llm.Message, len(messages))
	copy(copied, messages)
	s.messages = append(s.messages, copied)
	s.params = append(s.params, llm.BuildChatParams(opts))

	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]
}

func (s *stubProvider) DefaultModel() string { return "stub-model" }

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (echoTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	if text, ok := args["text"].(string); ok {
		return text, nil
	}
	return "empty", nil
}

func TestAgentExecuteSuccess(t *testing.T) {
	provider := &stubProvider{responses: []*llm.Response{{
		Content:      "你好",
		FinishReason: llm.FinishReasonStop,
		Usage:        map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
	}}}
	ag := New(provider, nil, nil)

	result, err := ag.Execute(context.Background(), ChatRequest{Prompt: "打个招呼"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "你好" || result.Model != "stub-model" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.TotalTokens != 5 {
		t.Fatalf("unexpected token usage: %+v", result)
	}
	if len(provider.messages) != 1 {
		t.Fatalf("expected a single round, got %d", len(provider.messages))
	}
	first := provider.messages[0]
	if first[0].Role != llm.RoleSystem || first[len(first)-1].Role != llm.RoleUser {
		t.Fatalf("unexpected message layout: %+v", first)
	}
}

func TestAgentExecuteToolRound(t *testing.T) {
	provider := &stubProvider{responses: []*llm.Response{
		{
			FinishReason: "tool_calls",
			ToolCalls: []llm.ToolCallRequest{{
				ID:        "call-1",
				Name:      "echo",
				Arguments: map[string]any{"text": "pong"},
			}},
		},
		{Content: "工具返回 pong", FinishReason: llm.FinishReasonStop},
	}}

	registry := tool.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	ag := New(provider, registry, nil)

	result, err := ag.Execute(context.Background(), ChatRequest{Prompt: "调用工具"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "工具返回 pong" {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if !strings.Contains(result.ToolTrace, "echo") || !strings.Contains(result.ToolTrace, "pong") {
		t.Fatalf("tool trace missing invocation: %q", result.ToolTrace)
	}
	if provider.calls != 2 {
		t.Fatalf("expected 2 provider rounds, got %d", provider.calls)
	}

	second := provider.messages[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call-1" || last.Content != "pong" {
		t.Fatalf("tool result not fed back to the model: %+v", last)
	}
}

func TestAgentExecuteProviderFailure(t *testing.T) {
	provider := &stubProvider{responses: []*llm.Response{
		llm.ErrorResponse(context.DeadlineExceeded),
	}}
	ag := New(provider, nil, nil)

	_, err := ag.Execute(context.Background(), ChatRequest{Prompt: "测试"})
	if err == nil {
		t.Fatalf("expected provider failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeProviderFailure {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
}

func TestAgentExecuteTimeout(t *testing.T) {
	provider := &stubProvider{
		wait:      50 * time.Millisecond,
		responses: []*llm.Response{{Content: "迟到的回复", FinishReason: llm.FinishReasonStop}},
	}
	ag := New(provider, nil, nil, WithChatTimeout(10*time.Millisecond))

	_, err := ag.Execute(context.Background(), ChatRequest{Prompt: "测试"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %v", xerrors.CodeOf(err))
	}
}

func TestAgentExecuteAppliesInferenceOptions(t *testing.T) {
	provider := &stubProvider{responses: []*llm.Response{{
		Content:      "ok",
		FinishReason: llm.FinishReasonStop,
	}}}
	ag := New(provider, nil, nil,
		WithMaxTokens(512),
		WithTemperature(0.2),
		WithThinking(false),
	)

	if _, err := ag.Execute(context.Background(), ChatRequest{Prompt: "测试"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.params) != 1 {
		t.Fatalf("expected a single round, got %d", len(provider.params))
	}
	got := provider.params[0]
	if got.MaxTokens != 512 {
		t.Fatalf("max tokens not applied: %d", got.MaxTokens)
	}
	if got.Temperature != 0.2 {
		t.Fatalf("temperature not applied: %v", got.Temperature)
	}
	if got.EnableThinking {
		t.Fatalf("thinking should be disabled")
	}
}

func TestAgentExecuteInferenceDefaults(t *testing.T) {
	provider := &stubProvider{responses: []*llm.Response{{
		Content:      "ok",
		FinishReason: llm.FinishReasonStop,
	}}}
	ag := New(provider, nil, nil)

	if _, err := ag.Execute(context.Background(), ChatRequest{Prompt: "测试"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := provider.params[0]
	if got.MaxTokens != 16384 || got.Temperature != 1.0 || !got.EnableThinking {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	input := strings.Repeat("调用失败", 10)
	for limit := 1; limit < len(input); limit++ {
		got := truncate(input, limit)
		if !utf8.ValidString(got) {
			t.Fatalf("invalid UTF-8 at limit %d: %q", limit, got)
		}
		if len(got) > limit+len("...") {
			t.Fatalf("result exceeds limit %d: %d bytes", limit, len(got))
		}
	}
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("short input should be untouched: %q", got)
	}
}

func TestAgentExecuteEmptyPrompt(t *testing.T) {
	ag := New(&stubProvider{responses: []*llm.Response{{}}}, nil, nil)
	if _, err := ag.Execute(context.Background(), ChatRequest{Prompt: "  "}); err == nil {
		t.Fatalf("expected validation error")
	}
}
