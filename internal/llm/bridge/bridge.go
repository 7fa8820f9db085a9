package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"ModelRelay/internal/llm"
)

// Client 通过调用外部命令实现 Provider 接口。请求以 JSON 形式写入
// 子进程的标准输入，归一化回复从标准输出解析。适合接入本地脚本
// 或离线演示环境。
type Client struct {
	execPath     string
	workingDir   string
	defaultModel string
}

// NewClient 创建桥接客户端。
func NewClient(execPath, workingDir, defaultModel string) (*Client, error) {
	if strings.TrimSpace(execPath) == "" {
		return nil, fmt.Errorf("未指定桥接命令路径")
	}
	if defaultModel == "" {
		defaultModel = "bridge"
	}
	return &Client{
		execPath:     execPath,
		workingDir:   workingDir,
		defaultModel: defaultModel,
	}, nil
}

// bridgePayload 是写入子进程的请求结构。
type bridgePayload struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Tools       []llm.ToolDef `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Chat 调用外部命令并解析其输出。与 HTTP 适配器一致，任何失败都
// 转换为错误形态的 Response 返回。
func (c *Client) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) *llm.Response {
	params := llm.BuildChatParams(opts)

	model := params.Model
	if model == "" {
		model = c.defaultModel
	}

	encoded, err := json.Marshal(bridgePayload{
		Model:       model,
		Messages:    messages,
		Tools:       params.Tools,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return llm.ErrorResponse(fmt.Errorf("序列化请求失败: %w", err))
	}

	command := exec.CommandContext(ctx, c.execPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return llm.ErrorResponse(fmt.Errorf("执行桥接命令失败: %v, stderr=%s",
			err, strings.TrimSpace(stderr.String())))
	}

	var resp llm.Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return llm.ErrorResponse(fmt.Errorf("解析桥接输出失败: %w", err))
	}
	if resp.FinishReason == "" {
		resp.FinishReason = llm.FinishReasonStop
	}
	return &resp
}

// DefaultModel 返回桥接端默认的模型标识。
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// ResolveExecPath 根据工作目录推导命令的绝对路径。
func ResolveExecPath(baseDir, execPath string) string {
	if execPath == "" {
		return ""
	}
	if filepath.IsAbs(execPath) {
		return execPath
	}
	if baseDir == "" {
		return execPath
	}
	return filepath.Join(baseDir, execPath)
}

var _ llm.Provider = (*Client)(nil)
