package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildChatParamsDefaults(t *testing.T) {
	params := BuildChatParams(nil)
	if params.MaxTokens != 16384 {
		t.Fatalf("unexpected default max tokens: %d", params.MaxTokens)
	}
	if params.Temperature != 1.0 {
		t.Fatalf("unexpected default temperature: %v", params.Temperature)
	}
	if !params.EnableThinking {
		t.Fatalf("thinking must be enabled by default")
	}
	if params.Model != "" || len(params.Tools) != 0 || len(params.Extra) != 0 {
		t.Fatalf("unexpected non-zero defaults: %+v", params)
	}
}

func TestBuildChatParamsOptions(t *testing.T) {
	tools := []ToolDef{{Name: "clock"}}
	params := BuildChatParams([]ChatOption{
		WithTools(tools),
		WithModel("gpt-4"),
		WithMaxTokens(512),
		WithTemperature(0.2),
		WithThinking(false),
		WithExtra(map[string]any{"top_p": 0.9}),
		WithExtra(map[string]any{"seed": 7}),
	})
	if params.Model != "gpt-4" || params.MaxTokens != 512 || params.Temperature != 0.2 {
		t.Fatalf("options not applied: %+v", params)
	}
	if params.EnableThinking {
		t.Fatalf("thinking must be disabled")
	}
	if len(params.Tools) != 1 || params.Tools[0].Name != "clock" {
		t.Fatalf("unexpected tools: %+v", params.Tools)
	}
	if params.Extra["top_p"] != 0.9 || params.Extra["seed"] != 7 {
		t.Fatalf("extra maps must be merged: %+v", params.Extra)
	}
}

func TestBuildChatParamsIgnoresInvalidMaxTokens(t *testing.T) {
	params := BuildChatParams([]ChatOption{WithMaxTokens(0)})
	if params.MaxTokens != 16384 {
		t.Fatalf("non-positive max tokens must keep the default, got %d", params.MaxTokens)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(errors.New("connection refused"))
	if !resp.IsError() {
		t.Fatalf("expected error response")
	}
	if !strings.HasPrefix(resp.Content, "Error calling LLM: ") {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if !strings.Contains(resp.Content, "connection refused") {
		t.Fatalf("cause missing from content: %q", resp.Content)
	}
	if resp.HasToolCalls() {
		t.Fatalf("error response must not carry tool calls")
	}
}
