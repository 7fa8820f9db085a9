package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ModelRelay/internal/llm"
)

const (
	defaultBaseURL   = "https://integrate.api.nvidia.com/v1"
	defaultModelName = "z-ai/glm4.7"
	defaultTimeout   = 60 * time.Second

	// placeholderAPIKey 在未配置密钥时占位，保证请求头始终非空。
	placeholderAPIKey = "dummy-key"

	// envKeyPrefix 标记密钥字段是一个环境变量引用而非字面值。
	envKeyPrefix = "$"
)

// Config 描述了调用 OpenAI 兼容 Chat Completions 接口所需的信息。
// APIKey 以 "$" 开头时视为环境变量名，在构造阶段解析。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用任意兼容 OpenAI 对话格式的模型服务，
// 默认指向 NVIDIA 的托管端点。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建适配器。缺失的字段全部回退到默认值，
// 构造本身永远成功。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	apiKey := resolveAPIKey(cfg.APIKey)
	if apiKey == "" {
		apiKey = placeholderAPIKey
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// resolveAPIKey 解析配置中的密钥。以 "$" 开头的值按环境变量名查找，
// 未设置时回退为字面值本身。
func resolveAPIKey(raw string) string {
	key := strings.TrimSpace(raw)
	if !strings.HasPrefix(key, envKeyPrefix) {
		return key
	}
	if value, ok := os.LookupEnv(strings.TrimPrefix(key, envKeyPrefix)); ok {
		return value
	}
	return key
}

// Chat 发送一次对话请求并返回归一化结果。任何失败（网络、认证、
// 请求构建、响应解析）都转换为错误形态的 Response，不向上抛出。
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) *llm.Response {
	params := llm.BuildChatParams(opts)

	model := params.Model
	if model == "" {
		model = c.model
	}

	body := map[string]any{
		"model":       model,
		"messages":    encodeMessages(messages),
		"temperature": params.Temperature,
		"max_tokens":  params.MaxTokens,
		"stream":      false,
	}

	// 仅对已知支持推理的模型家族附加扩展推理开关。
	if params.EnableThinking && strings.Contains(strings.ToLower(model), "glm") {
		body["extra_body"] = map[string]any{
			"chat_template_kwargs": map[string]any{
				"enable_thinking": true,
				"clear_thinking":  false,
			},
		}
	}

	if len(params.Tools) > 0 {
		body["tools"] = encodeTools(params.Tools)
		body["tool_choice"] = "auto"
	}

	// 调用方扩展参数最后合并，可以覆盖以上任意字段。
	for key, value := range params.Extra {
		body[key] = value
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.ErrorResponse(fmt.Errorf("序列化请求失败: %w", err))
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.ErrorResponse(fmt.Errorf("构建请求失败: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.ErrorResponse(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return llm.ErrorResponse(fmt.Errorf("供应商返回错误状态 %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var decoded completionPayload
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return llm.ErrorResponse(fmt.Errorf("解析响应失败: %w", err))
	}
	return parseCompletion(decoded)
}

// DefaultModel 返回未显式指定时使用的模型标识。
func (c *Client) DefaultModel() string {
	return c.model
}

// completionPayload 对应 OpenAI 兼容的响应结构，只声明用到的字段。
type completionPayload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			// reasoning_content 是模型的内部思考过程，不进入归一化结果。
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// parseCompletion 将供应商响应的第一个 choice 归一化。
func parseCompletion(payload completionPayload) *llm.Response {
	if len(payload.Choices) == 0 {
		return llm.ErrorResponse(errors.New("响应中没有有效的 choices"))
	}
	choice := payload.Choices[0]

	toolCalls := make([]llm.ToolCallRequest, 0, len(choice.Message.ToolCalls))
	for _, call := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, llm.ToolCallRequest{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: decodeArguments(call.Function.Arguments),
		})
	}
	if len(toolCalls) == 0 {
		toolCalls = nil
	}

	finishReason := choice.FinishReason
	if finishReason == "" {
		finishReason = llm.FinishReasonStop
	}

	var usage map[string]int
	if payload.Usage != nil {
		usage = map[string]int{
			"prompt_tokens":     payload.Usage.PromptTokens,
			"completion_tokens": payload.Usage.CompletionTokens,
			"total_tokens":      payload.Usage.TotalTokens,
		}
	}

	return &llm.Response{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage:        usage,
	}
}

// decodeArguments 解析工具调用参数。供应商给出的编码非法时，
// 原始文本保留在 "raw" 键下而不是丢弃整个回复。
func decodeArguments(raw string) map[string]any {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil || arguments == nil {
		return map[string]any{"raw": raw}
	}
	return arguments
}

// encodeMessages 将归一化消息转换为 OpenAI 的消息结构。
func encodeMessages(messages []llm.Message) []map[string]any {
	encoded := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		entry := map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if msg.ToolCallID != "" {
			entry["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				arguments := "{}"
				if call.Arguments != nil {
					if data, err := json.Marshal(call.Arguments); err == nil {
						arguments = string(data)
					}
				}
				calls = append(calls, map[string]any{
					"id":   call.ID,
					"type": "function",
					"function": map[string]any{
						"name":      call.Name,
						"arguments": arguments,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		encoded = append(encoded, entry)
	}
	return encoded
}

// encodeTools 将工具定义转换为 OpenAI 的 function 工具结构。
func encodeTools(tools []llm.ToolDef) []map[string]any {
	encoded := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		encoded = append(encoded, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			},
		})
	}
	return encoded
}

// 接口契约在编译期校验。
var _ llm.Provider = (*Client)(nil)
