// Package knowledge provides the trading rule book consulted before each
// policy decision. Rules are static snippets loaded from a JSON file and
// matched against the turn prompt by keyword.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义规则检索的通用接口。
type Provider interface {
	Query(prompt string) []Snippet
}

// Snippet 描述可供策略模型引用的一条交易纪律。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态规则检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态规则库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载规则条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("规则库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析规则库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取规则库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析规则库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 根据回合请求做简单的关键词匹配。没有关键词的条目视为
// 通用纪律，对任何请求都命中。
func (p *StaticProvider) Query(prompt string) []Snippet {
	if p == nil {
		return nil
	}

	prompt = strings.ToLower(strings.TrimSpace(prompt))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, prompt) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, prompt string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(prompt, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(prompt, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
