package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ModelRelay/internal/llm"
)

func newCaptureServer(t *testing.T, reply map[string]any) (*httptest.Server, *map[string]any, *http.Header) {
	t.Helper()
	captured := map[string]any{}
	headers := http.Header{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}))
	return srv, &captured, &headers
}

func TestChatSuccess(t *testing.T) {
	srv, captured, headers := newCaptureServer(t, map[string]any{
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"content":           "你好",
					"reasoning_content": "内部思考",
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"total_tokens":      15,
		},
	})
	defer srv.Close()

	client := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second})
	resp := client.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	if resp == nil {
		t.Fatalf("expected non-nil response")
	}
	if resp.IsError() {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	if resp.Content != "你好" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.FinishReason != llm.FinishReasonStop {
		t.Fatalf("unexpected finish reason: %q", resp.FinishReason)
	}
	if strings.Contains(resp.Content, "内部思考") {
		t.Fatalf("reasoning content leaked into normalized response")
	}
	want := map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	for key, value := range want {
		if resp.Usage[key] != value {
			t.Fatalf("unexpected usage %s: got %d want %d", key, resp.Usage[key], value)
		}
	}
	if len(resp.Usage) != len(want) {
		t.Fatalf("unexpected usage fields: %+v", resp.Usage)
	}

	if got := (*headers).Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
	body := *captured
	if body["stream"] != false {
		t.Fatalf("expected stream=false, got %v", body["stream"])
	}
	if body["max_tokens"] != float64(16384) {
		t.Fatalf("unexpected max_tokens default: %v", body["max_tokens"])
	}
	if body["temperature"] != float64(1.0) {
		t.Fatalf("unexpected temperature default: %v", body["temperature"])
	}
	if _, ok := body["tools"]; ok {
		t.Fatalf("tools must be absent when none are supplied")
	}
	if _, ok := body["tool_choice"]; ok {
		t.Fatalf("tool_choice must be absent when no tools are supplied")
	}
}

func TestChatToolCalls(t *testing.T) {
	srv, captured, _ := newCaptureServer(t, map[string]any{
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"content": "",
					"tool_calls": []map[string]any{
						{
							"id": "call-1",
							"function": map[string]any{
								"name":      "get_weather",
								"arguments": `{"city":"Berlin"}`,
							},
						},
						{
							"id": "call-2",
							"function": map[string]any{
								"name":      "get_weather",
								"arguments": `{broken`,
							},
						},
					},
				},
				"finish_reason": "tool_calls",
			},
		},
	})
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	tools := []llm.ToolDef{{
		Name:        "get_weather",
		Description: "查询城市天气",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
		},
	}}
	resp := client.Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "weather?"}},
		llm.WithTools(tools),
	)

	if !resp.HasToolCalls() {
		t.Fatalf("expected tool calls, got %+v", resp)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.ID != "call-1" || first.Name != "get_weather" {
		t.Fatalf("unexpected tool call identity: %+v", first)
	}
	if first.Arguments["city"] != "Berlin" {
		t.Fatalf("unexpected decoded arguments: %+v", first.Arguments)
	}
	second := resp.ToolCalls[1]
	if second.Arguments["raw"] != `{broken` {
		t.Fatalf("malformed arguments must be preserved under raw, got %+v", second.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("vendor finish reason must be echoed, got %q", resp.FinishReason)
	}

	body := *captured
	if body["tool_choice"] != "auto" {
		t.Fatalf("expected tool_choice=auto, got %v", body["tool_choice"])
	}
	encoded, ok := body["tools"].([]any)
	if !ok || len(encoded) != 1 {
		t.Fatalf("unexpected tools payload: %v", body["tools"])
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	resp := client.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	if resp == nil {
		t.Fatalf("expected non-nil response even on failure")
	}
	if resp.FinishReason != llm.FinishReasonError {
		t.Fatalf("expected error finish reason, got %q", resp.FinishReason)
	}
	if !strings.Contains(resp.Content, "Error calling LLM:") {
		t.Fatalf("error content missing prefix: %q", resp.Content)
	}
}

func TestChatNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	resp := client.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	if !resp.IsError() || !strings.Contains(resp.Content, "Error calling LLM:") {
		t.Fatalf("expected error-shaped response, got %+v", resp)
	}
}

func TestChatDefaultsFinishReason(t *testing.T) {
	srv, _, _ := newCaptureServer(t, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": "ok"}},
		},
	})
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	resp := client.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	if resp.FinishReason != llm.FinishReasonStop {
		t.Fatalf("missing finish reason must default to stop, got %q", resp.FinishReason)
	}
	if len(resp.Usage) != 0 {
		t.Fatalf("missing usage must stay empty, got %+v", resp.Usage)
	}
}

func TestChatThinkingFlag(t *testing.T) {
	cases := []struct {
		name     string
		model    string
		thinking bool
		want     bool
	}{
		{name: "glm with thinking", model: "z-ai/glm4.7", thinking: true, want: true},
		{name: "glm uppercase", model: "Z-AI/GLM4.7", thinking: true, want: true},
		{name: "glm without thinking", model: "z-ai/glm4.7", thinking: false, want: false},
		{name: "non-glm", model: "gpt-4", thinking: true, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, captured, _ := newCaptureServer(t, map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "ok"}, "finish_reason": "stop"},
				},
			})
			defer srv.Close()

			client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
			resp := client.Chat(context.Background(),
				[]llm.Message{{Role: llm.RoleUser, Content: "hi"}},
				llm.WithModel(tc.model),
				llm.WithThinking(tc.thinking),
			)
			if resp.IsError() {
				t.Fatalf("unexpected error response: %+v", resp)
			}

			_, present := (*captured)["extra_body"]
			if present != tc.want {
				t.Fatalf("extra_body presence: got %v want %v", present, tc.want)
			}
			if tc.want {
				extra := (*captured)["extra_body"].(map[string]any)
				kwargs := extra["chat_template_kwargs"].(map[string]any)
				if kwargs["enable_thinking"] != true || kwargs["clear_thinking"] != false {
					t.Fatalf("unexpected chat_template_kwargs: %+v", kwargs)
				}
			}
		})
	}
}

func TestChatExtraOverrides(t *testing.T) {
	srv, captured, _ := newCaptureServer(t, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": "ok"}, "finish_reason": "stop"},
		},
	})
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	client.Chat(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		llm.WithExtra(map[string]any{"temperature": 0.2, "top_p": 0.9}),
	)

	body := *captured
	if body["temperature"] != float64(0.2) {
		t.Fatalf("extra parameters must override defaults, got %v", body["temperature"])
	}
	if body["top_p"] != float64(0.9) {
		t.Fatalf("extra parameters must be merged, got %v", body["top_p"])
	}
}

func TestChatEncodesToolMessages(t *testing.T) {
	srv, captured, _ := newCaptureServer(t, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": "done"}, "finish_reason": "stop"},
		},
	})
	defer srv.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	client.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "weather?"},
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCallRequest{
				{ID: "call-1", Name: "get_weather", Arguments: map[string]any{"city": "Berlin"}},
			},
		},
		{Role: llm.RoleTool, Content: "sunny", ToolCallID: "call-1"},
	})

	messages := (*captured)["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	assistant := messages[1].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	if call["type"] != "function" {
		t.Fatalf("unexpected tool call type: %v", call["type"])
	}
	fn := call["function"].(map[string]any)
	arguments, ok := fn["arguments"].(string)
	if !ok || !strings.Contains(arguments, "Berlin") {
		t.Fatalf("assistant tool call arguments must be re-encoded as string: %v", fn["arguments"])
	}
	toolMsg := messages[2].(map[string]any)
	if toolMsg["tool_call_id"] != "call-1" {
		t.Fatalf("tool message must carry tool_call_id, got %v", toolMsg)
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("MY_KEY", "abc123")

	if client := NewClient(Config{APIKey: "$MY_KEY"}); client.apiKey != "abc123" {
		t.Fatalf("expected env var substitution, got %q", client.apiKey)
	}
	if client := NewClient(Config{APIKey: "$UNSET_KEY_FOR_TEST"}); client.apiKey != "$UNSET_KEY_FOR_TEST" {
		t.Fatalf("unset env var must fall back to the literal, got %q", client.apiKey)
	}
	if client := NewClient(Config{APIKey: "literal-key"}); client.apiKey != "literal-key" {
		t.Fatalf("literal key must pass through, got %q", client.apiKey)
	}
	if client := NewClient(Config{}); client.apiKey != placeholderAPIKey {
		t.Fatalf("missing key must use placeholder, got %q", client.apiKey)
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{})
	if client.baseURL != defaultBaseURL {
		t.Fatalf("unexpected default base url: %q", client.baseURL)
	}
	if client.DefaultModel() != defaultModelName {
		t.Fatalf("unexpected default model: %q", client.DefaultModel())
	}

	client = NewClient(Config{BaseURL: "https://example.com/v1/"})
	if client.baseURL != "https://example.com/v1" {
		t.Fatalf("base url must be trimmed, got %q", client.baseURL)
	}
}
