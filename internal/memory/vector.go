package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "R0-Agent/internal/errors"
	"R0-Agent/pkg/logger"
)

// entry 是内存索引里的一条记录，seq 保证稳定的时间线排序。
type entry struct {
	snippet Snippet
	vector  []float64
	seq     uint64
}

// VectorStore 是基于余弦相似度的记忆实现。片段与向量常驻内存，
// 可选地同步写入 Repository 做持久化。没有嵌入器时退化为
// 按新近度检索，行为仍满足 Store 约定。
type VectorStore struct {
	mu       sync.RWMutex
	entries  map[string][]entry
	seq      uint64
	embedder Embedder
	repo     Repository
	now      func() time.Time
}

// Option 配置 VectorStore 的可选依赖。
type Option func(*VectorStore)

// WithEmbedder 启用向量检索。
func WithEmbedder(embedder Embedder) Option {
	return func(s *VectorStore) {
		s.embedder = embedder
	}
}

// WithRepository 启用持久化后端。
func WithRepository(repo Repository) Option {
	return func(s *VectorStore) {
		s.repo = repo
	}
}

// NewVectorStore 创建记忆存储。
func NewVectorStore(opts ...Option) *VectorStore {
	store := &VectorStore{
		entries: make(map[string][]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Warmup 从持久化后端重放指定会话的历史片段。
func (s *VectorStore) Warmup(ctx context.Context, sessionID string) error {
	if s.repo == nil {
		return nil
	}
	snippets, vectors, err := s.repo.LoadSnippets(ctx, sessionID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeMemoryFailure, err, "重放历史记忆失败")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, snippet := range snippets {
		var vector []float64
		if i < len(vectors) {
			vector = vectors[i]
		}
		s.seq++
		s.entries[sessionID] = append(s.entries[sessionID], entry{
			snippet: snippet,
			vector:  vector,
			seq:     s.seq,
		})
	}
	return nil
}

// Remember 写入一条记忆。嵌入失败不阻塞回合，记录会退化为
// 仅支持新近度检索的无向量片段。
func (s *VectorStore) Remember(ctx context.Context, sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var vector []float64
	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{text})
		if err != nil {
			logger.L().Warn("记忆嵌入失败，退化为无向量片段", "error", err)
		} else if len(vectors) == 1 {
			vector = vectors[0]
		}
	}

	snippet := Snippet{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.seq++
	s.entries[sessionID] = append(s.entries[sessionID], entry{
		snippet: snippet,
		vector:  vector,
		seq:     s.seq,
	})
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveSnippet(ctx, snippet, vector); err != nil {
			return xerrors.Wrap(xerrors.CodeMemoryFailure, err, "持久化记忆失败")
		}
	}
	return nil
}

// Recall 返回与 query 最相关的至多 limit 条记忆文本，按写入顺序
// 从旧到新排列。会话之间互相隔离。
func (s *VectorStore) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	entries := make([]entry, len(s.entries[sessionID]))
	copy(entries, s.entries[sessionID])
	s.mu.RUnlock()
	if len(entries) == 0 {
		return nil, nil
	}

	picked := entries
	if s.embedder != nil && strings.TrimSpace(query) != "" {
		vectors, err := s.embedder.Embed(ctx, []string{query})
		if err == nil && len(vectors) == 1 {
			picked = rankBySimilarity(entries, vectors[0])
		} else if err != nil {
			logger.L().Warn("查询嵌入失败，退化为新近度检索", "error", err)
		}
	}

	// 相似度升序排列时尾部即最相关的 limit 条；纯新近度时尾部即最新。
	if len(picked) > limit {
		picked = picked[len(picked)-limit:]
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].seq < picked[j].seq })
	texts := make([]string, 0, len(picked))
	for _, e := range picked {
		texts = append(texts, e.snippet.Text)
	}
	return texts, nil
}

// rankBySimilarity 按与查询向量的余弦相似度从低到高排序，
// 无向量的片段排在最前（最先被截掉）。
func rankBySimilarity(entries []entry, query []float64) []entry {
	ranked := make([]entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return cosine(ranked[i].vector, query) < cosine(ranked[j].vector, query)
	})
	return ranked
}

// cosine 计算余弦相似度，维度不匹配或零向量时返回 -1。
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
