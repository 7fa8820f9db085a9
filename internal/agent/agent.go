package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	xerrors "ModelRelay/internal/errors"
	"ModelRelay/internal/knowledge"
	"ModelRelay/internal/llm"
	"ModelRelay/internal/observability/metrics"
	"ModelRelay/internal/storage/mysql"
	"ModelRelay/internal/tool"
)

// ChatRequest 描述了一次对话请求。
type ChatRequest struct {
	ID        string         `json:"id,omitempty"`
	Prompt    string         `json:"prompt"`
	SessionID string         `json:"session_id,omitempty"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatResult 汇总一次对话执行得到的结果。
type ChatResult struct {
	Prompt           string `json:"prompt"`
	SessionID        string `json:"session_id,omitempty"`
	Reply            string `json:"reply"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	ToolTrace        string `json:"tool_trace,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CreatedAt        int64  `json:"created_at"`
}

// Agent 协调大模型与工具调用，是系统的业务核心。
type Agent struct {
	provider      llm.Provider
	tools         *tool.Registry
	chatRepo      mysql.ChatRepository
	knowledge     knowledge.Provider
	memoryDepth   int
	chatTimeout   time.Duration
	maxToolRounds int
	systemPrompt  string
	maxTokens     int
	temperature   *float64
	thinking      *bool
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const (
	// defaultMemoryDepth 是组装上下文时可参考的历史对话数量的默认值。
	defaultMemoryDepth = 5
	// defaultMaxToolRounds 限制单次对话中工具调用的往返次数。
	defaultMaxToolRounds = 4
	// defaultSystemPrompt 是未另行配置时使用的系统提示词。
	defaultSystemPrompt = "You are a helpful assistant."
)

// WithMemoryDepth 设置组装上下文时可参考的历史对话数量。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithKnowledgeProvider 配置知识库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithChatTimeout 设置调用大模型的超时时间。
func WithChatTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.chatTimeout = 0
			return
		}
		a.chatTimeout = timeout
	}
}

// WithMaxToolRounds 限制单次对话允许的工具往返次数。
func WithMaxToolRounds(rounds int) Option {
	return func(a *Agent) {
		if rounds > 0 {
			a.maxToolRounds = rounds
		}
	}
}

// WithMaxTokens 限制单次推理的输出 token 数。
func WithMaxTokens(maxTokens int) Option {
	return func(a *Agent) {
		if maxTokens > 0 {
			a.maxTokens = maxTokens
		}
	}
}

// WithTemperature 覆盖默认采样温度。
func WithTemperature(temperature float64) Option {
	return func(a *Agent) {
		a.temperature = &temperature
	}
}

// WithThinking 控制是否启用思维链模式。
func WithThinking(enabled bool) Option {
	return func(a *Agent) {
		a.thinking = &enabled
	}
}

// WithSystemPrompt 覆盖默认的系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(prompt) != "" {
			a.systemPrompt = prompt
		}
	}
}

// New 创建一个 Agent。
func New(provider llm.Provider, tools *tool.Registry, repo mysql.ChatRepository, opts ...Option) *Agent {
	ag := &Agent{
		provider:      provider,
		tools:         tools,
		chatRepo:      repo,
		memoryDepth:   defaultMemoryDepth,
		maxToolRounds: defaultMaxToolRounds,
		systemPrompt:  defaultSystemPrompt,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.memoryDepth < 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	return ag
}

// Execute 根据请求调用大模型，并在模型要求时执行工具往返。
func (a *Agent) Execute(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if a.provider == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "对话内容不能为空")
	}

	messages := a.buildMessages(ctx, req)

	chatCtx := ctx
	if a.chatTimeout > 0 {
		var cancel context.CancelFunc
		chatCtx, cancel = context.WithTimeout(ctx, a.chatTimeout)
		defer cancel()
	}

	opts := []llm.ChatOption{}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.provider.DefaultModel()
	}
	opts = append(opts, llm.WithModel(model))
	if a.maxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(a.maxTokens))
	}
	if a.temperature != nil {
		opts = append(opts, llm.WithTemperature(*a.temperature))
	}
	if a.thinking != nil {
		opts = append(opts, llm.WithThinking(*a.thinking))
	}
	if a.tools != nil && a.tools.Len() > 0 {
		opts = append(opts, llm.WithTools(a.tools.Defs()))
	}

	var (
		resp      *llm.Response
		trace     []string
		promptTok int
		replyTok  int
		totalTok  int
	)

	for round := 0; ; round++ {
		started := time.Now()
		resp = a.provider.Chat(chatCtx, messages, opts...)
		metrics.ObserveCompletion(model, resp.FinishReason, resp.Usage["total_tokens"], time.Since(started))

		promptTok += resp.Usage["prompt_tokens"]
		replyTok += resp.Usage["completion_tokens"]
		totalTok += resp.Usage["total_tokens"]

		if resp.IsError() {
			if chatCtx.Err() != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, chatCtx.Err(), "大模型推理超时")
			}
			return nil, xerrors.New(xerrors.CodeProviderFailure, resp.Content)
		}
		if !resp.HasToolCalls() {
			break
		}
		if round >= a.maxToolRounds {
			trace = append(trace, fmt.Sprintf("工具往返超过 %d 次，提前结束", a.maxToolRounds))
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			output := a.invokeTool(ctx, call)
			trace = append(trace, fmt.Sprintf("%s(%s) -> %s", call.Name, compactArgs(call.Arguments), truncate(output, 200)))
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	now := time.Now().Unix()
	result := &ChatResult{
		Prompt:           req.Prompt,
		SessionID:        req.SessionID,
		Reply:            resp.Content,
		Model:            model,
		FinishReason:     resp.FinishReason,
		ToolTrace:        strings.Join(trace, "\n"),
		PromptTokens:     promptTok,
		CompletionTokens: replyTok,
		TotalTokens:      totalTok,
		CreatedAt:        now,
	}

	if a.chatRepo != nil {
		record := mysql.ChatRecord{
			SessionID:        req.SessionID,
			Prompt:           req.Prompt,
			Reply:            result.Reply,
			Model:            result.Model,
			FinishReason:     result.FinishReason,
			ToolTrace:        result.ToolTrace,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TotalTokens,
			CreatedAt:        now,
		}
		if err := a.chatRepo.Save(ctx, record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存对话记录失败")
		}
	}

	return result, nil
}

// ListHistory 获取最近的对话记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]ChatResult, error) {
	if a.chatRepo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置对话仓库")
	}

	records, err := a.chatRepo.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询对话记录失败")
	}

	results := make([]ChatResult, 0, len(records))
	for _, record := range records {
		results = append(results, ChatResult{
			Prompt:           record.Prompt,
			SessionID:        record.SessionID,
			Reply:            record.Reply,
			Model:            record.Model,
			FinishReason:     record.FinishReason,
			ToolTrace:        record.ToolTrace,
			PromptTokens:     record.PromptTokens,
			CompletionTokens: record.CompletionTokens,
			TotalTokens:      record.TotalTokens,
			CreatedAt:        record.CreatedAt,
		})
	}
	return results, nil
}

// buildMessages 组装系统提示、知识库内容、历史对话与当前问题。
func (a *Agent) buildMessages(ctx context.Context, req ChatRequest) []llm.Message {
	system := a.systemPrompt
	if snippets := a.collectKnowledge(req.Prompt); snippets != "" {
		system += "\n\n可参考的背景资料:\n" + snippets
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	for _, entry := range a.loadHistory(ctx) {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: entry.Prompt},
			llm.Message{Role: llm.RoleAssistant, Content: entry.Reply},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Prompt})
	return messages
}

// loadHistory 加载历史对话记录以供大模型参考，按时间正序返回。
func (a *Agent) loadHistory(ctx context.Context) []mysql.ChatRecord {
	if a.chatRepo == nil || a.memoryDepth <= 0 {
		return nil
	}
	records, err := a.chatRepo.ListLatest(ctx, a.memoryDepth)
	if err != nil || len(records) == 0 {
		return nil
	}
	ordered := make([]mysql.ChatRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if strings.TrimSpace(records[i].Prompt) == "" {
			continue
		}
		ordered = append(ordered, records[i])
	}
	return ordered
}

// collectKnowledge 从知识库中检索相关内容以供大模型参考。
func (a *Agent) collectKnowledge(prompt string) string {
	if a.knowledge == nil {
		return ""
	}
	snippets := a.knowledge.Query(prompt)
	if len(snippets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		if strings.TrimSpace(snippet.Title) == "" && strings.TrimSpace(snippet.Content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", snippet.Title, snippet.Content))
	}
	return strings.Join(parts, "\n")
}

// invokeTool 执行单个工具调用，失败时把错误文本返回给模型继续推理。
func (a *Agent) invokeTool(ctx context.Context, call llm.ToolCallRequest) string {
	if a.tools == nil {
		return fmt.Sprintf("工具 %s 不可用", call.Name)
	}
	output, err := a.tools.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		return fmt.Sprintf("工具 %s 执行失败: %v", call.Name, err)
	}
	return output
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// truncate 在不超过 limit 字节的前提下截断字符串，保证不会切断多字节字符。
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
