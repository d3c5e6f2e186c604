// Package memory implements the agent's long-term memory boundary. The
// orchestration loop only sees Remember and Recall; embedding, similarity
// ranking and persistence stay behind this package.
package memory

import (
	"context"
	"time"
)

// Snippet 是一条被记住的交易经验。
type Snippet struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 是编排循环可见的唯一记忆接口。Recall 的结果按写入顺序
// 从旧到新排列，供提示词按时间线拼接。
type Store interface {
	Remember(ctx context.Context, sessionID, text string) error
	Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}

// Embedder 把文本映射到向量空间，通常由 LLM 供应商实现。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Repository 是记忆的持久化后端。向量随片段一起落库，
// 进程重启后可以整体重放回内存索引。
type Repository interface {
	SaveSnippet(ctx context.Context, snippet Snippet, vector []float64) error
	LoadSnippets(ctx context.Context, sessionID string) ([]Snippet, [][]float64, error)
}
