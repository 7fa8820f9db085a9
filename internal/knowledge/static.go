package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Provider 定义知识库检索接口，检索结果会作为背景资料拼进对话。
type Provider interface {
	Query(query string) []Snippet
}

// Snippet 是一段可供模型引用的知识。Keywords 与 Tags 都为空的
// 条目视为通用条目，任何查询都会命中。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 基于内存中的条目做关键词检索，条目通常来自
// 一个 JSON 文件。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库，maxResults 不合法时取 3。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 数组文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	var entries []Snippet
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 对条目按关键词命中数排序，返回得分最高的前若干条。
func (p *StaticProvider) Query(query string) []Snippet {
	if p == nil {
		return nil
	}
	query = strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		snippet Snippet
		score   int
	}
	candidates := make([]scored, 0, len(p.items))
	for _, item := range p.items {
		score, hit := relevance(item, query)
		if !hit {
			continue
		}
		candidates = append(candidates, scored{snippet: item, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > p.maxResults {
		candidates = candidates[:p.maxResults]
	}

	results := make([]Snippet, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, c.snippet)
	}
	return results
}

// relevance 统计关键词与标签在查询中的命中数。通用条目恒命中，
// 得分为 0，排在有命中的条目之后。
func relevance(snippet Snippet, query string) (int, bool) {
	if len(snippet.Keywords) == 0 && len(snippet.Tags) == 0 {
		return 0, true
	}
	score := 0
	for _, term := range append(append([]string(nil), snippet.Keywords...), snippet.Tags...) {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) {
			score++
		}
	}
	return score, score > 0
}

var _ Provider = (*StaticProvider)(nil)
