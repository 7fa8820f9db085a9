package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "ModelRelay/internal/errors"
	"ModelRelay/internal/knowledge"
)

// ClockTool 返回当前时间，支持可选的时区参数。
type ClockTool struct{}

// Name 实现 Tool 接口。
func (ClockTool) Name() string { return "current_time" }

// Description 实现 Tool 接口。
func (ClockTool) Description() string {
	return "查询当前时间。可以通过 timezone 参数指定 IANA 时区，默认 UTC。"
}

// Parameters 实现 Tool 接口。
func (ClockTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA 时区名称，例如 Asia/Shanghai",
			},
		},
	}
}

// Invoke 实现 Tool 接口。
func (ClockTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	location := time.UTC
	if raw, ok := args["timezone"].(string); ok && strings.TrimSpace(raw) != "" {
		loaded, err := time.LoadLocation(strings.TrimSpace(raw))
		if err != nil {
			return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知时区: %s", raw))
		}
		location = loaded
	}
	return time.Now().In(location).Format(time.RFC3339), nil
}

// KnowledgeTool 将知识库检索能力暴露给模型。
type KnowledgeTool struct {
	provider knowledge.Provider
}

// NewKnowledgeTool 创建知识库检索工具。
func NewKnowledgeTool(provider knowledge.Provider) *KnowledgeTool {
	return &KnowledgeTool{provider: provider}
}

// Name 实现 Tool 接口。
func (t *KnowledgeTool) Name() string { return "search_knowledge" }

// Description 实现 Tool 接口。
func (t *KnowledgeTool) Description() string {
	return "在内置知识库中检索与查询相关的条目，返回 JSON 数组。"
}

// Parameters 实现 Tool 接口。
func (t *KnowledgeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "检索关键词",
			},
		},
		"required": []string{"query"},
	}
}

// Invoke 实现 Tool 接口。
func (t *KnowledgeTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	if t == nil || t.provider == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置知识库")
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "query 参数不能为空")
	}
	snippets := t.provider.Query(query)
	encoded, err := json.Marshal(snippets)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化检索结果失败")
	}
	return string(encoded), nil
}

var (
	_ Tool = ClockTool{}
	_ Tool = (*KnowledgeTool)(nil)
)
