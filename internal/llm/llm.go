package llm

import (
	"context"
	"fmt"
)

// 消息角色常量，与 OpenAI 兼容接口的角色一一对应。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// 归一化后的结束原因。供应商自定义的取值会原样透传。
const (
	FinishReasonStop  = "stop"
	FinishReasonError = "error"
)

// Message 描述一条带角色标签的对话消息。助手消息可以携带工具调用，
// 工具消息通过 ToolCallID 与之前的调用关联。
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest 表示模型请求执行的一次工具调用。ID 由供应商生成，
// 用于在后续消息中回填工具结果。
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDef 描述可以提供给模型选择的一个工具，Parameters 为 JSON Schema。
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response 是归一化后的大模型回复。无论调用成功与否都可以构造：
// 失败时 Content 携带可读的错误信息，FinishReason 为 "error"。
type Response struct {
	Content      string            `json:"content"`
	ToolCalls    []ToolCallRequest `json:"tool_calls,omitempty"`
	FinishReason string            `json:"finish_reason"`
	Usage        map[string]int    `json:"usage,omitempty"`
}

// HasToolCalls 判断回复中是否包含待执行的工具调用。
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// IsError 判断回复是否表示一次失败的调用。
func (r *Response) IsError() bool {
	return r != nil && r.FinishReason == FinishReasonError
}

// ErrorResponse 将任意失败转换为错误形态的回复。
func ErrorResponse(err error) *Response {
	return &Response{
		Content:      fmt.Sprintf("Error calling LLM: %v", err),
		FinishReason: FinishReasonError,
	}
}

// ChatParams 汇总一次 Chat 调用的全部可选参数。
type ChatParams struct {
	Tools          []ToolDef
	Model          string
	MaxTokens      int
	Temperature    float64
	EnableThinking bool
	Extra          map[string]any
}

// ChatOption 定义可选配置。
type ChatOption func(*ChatParams)

// WithTools 附加允许模型调用的工具定义。
func WithTools(tools []ToolDef) ChatOption {
	return func(p *ChatParams) {
		p.Tools = tools
	}
}

// WithModel 覆盖适配器的默认模型。
func WithModel(model string) ChatOption {
	return func(p *ChatParams) {
		p.Model = model
	}
}

// WithMaxTokens 设置回复的最大 token 数。
func WithMaxTokens(maxTokens int) ChatOption {
	return func(p *ChatParams) {
		if maxTokens > 0 {
			p.MaxTokens = maxTokens
		}
	}
}

// WithTemperature 设置采样温度。
func WithTemperature(temperature float64) ChatOption {
	return func(p *ChatParams) {
		p.Temperature = temperature
	}
}

// WithThinking 控制是否为支持的模型开启扩展推理。
func WithThinking(enabled bool) ChatOption {
	return func(p *ChatParams) {
		p.EnableThinking = enabled
	}
}

// WithExtra 附加额外的供应商参数，在请求构建的最后合并，可覆盖任意字段。
func WithExtra(extra map[string]any) ChatOption {
	return func(p *ChatParams) {
		if len(extra) == 0 {
			return
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any, len(extra))
		}
		for key, value := range extra {
			p.Extra[key] = value
		}
	}
}

// BuildChatParams 在默认值基础上应用所有选项。
func BuildChatParams(opts []ChatOption) ChatParams {
	params := ChatParams{
		MaxTokens:      16384,
		Temperature:    1.0,
		EnableThinking: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}
	return params
}

// Provider 定义了调用大模型的统一接口。
//
// Chat 不会把普通失败作为 error 抛给调用方：网络、认证或供应商错误
// 一律转换为 FinishReason 为 "error" 的 Response 返回，调用方依据
// FinishReason 分支处理。
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ...ChatOption) *Response
	DefaultModel() string
}
