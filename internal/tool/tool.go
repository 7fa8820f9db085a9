package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "ModelRelay/internal/errors"
	"ModelRelay/internal/llm"
)

// Tool 定义了一个可以暴露给大模型调用的工具。
type Tool interface {
	// Name 返回工具的唯一标识。
	Name() string
	// Description 描述工具的用途，帮助模型选择。
	Description() string
	// Parameters 返回参数的 JSON Schema。
	Parameters() map[string]any
	// Invoke 执行工具并返回文本结果。
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry 维护已注册的工具集合，负责向模型导出工具定义并按名称派发调用。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建一个空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register 注册一个工具。重名注册视为配置错误。
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool 不能为空")
	}
	name := t.Name()
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 已注册", name))
	}
	r.tools[name] = t
	return nil
}

// Defs 导出所有工具的定义，按名称排序以保证请求的可重复性。
func (r *Registry) Defs() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Invoke 按名称执行工具。
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("工具 %s 未注册", name))
	}
	return t.Invoke(ctx, args)
}

// Len 返回已注册的工具数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
