package memory

import (
	"context"
	"errors"
	"testing"
)

// stubEmbedder 用关键词命中模拟向量空间：命中词的维度为 1。
type stubEmbedder struct {
	dims map[string]int
	err  error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		vector := make([]float64, len(s.dims)+1)
		if dim, ok := s.dims[text]; ok {
			vector[dim] = 1
		} else {
			vector[len(s.dims)] = 1
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func TestRecallOrdersOldestFirst(t *testing.T) {
	store := NewVectorStore()
	ctx := context.Background()
	for _, text := range []string{"第一条", "第二条", "第三条"} {
		if err := store.Remember(ctx, "s1", text); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	texts, err := store.Recall(ctx, "s1", "任意查询", 2)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(texts) != 2 || texts[0] != "第二条" || texts[1] != "第三条" {
		t.Fatalf("expected two newest in oldest-first order, got %v", texts)
	}
}

func TestRecallIsolatesSessions(t *testing.T) {
	store := NewVectorStore()
	ctx := context.Background()
	if err := store.Remember(ctx, "s1", "属于会话一"); err != nil {
		t.Fatalf("remember: %v", err)
	}

	texts, err := store.Recall(ctx, "s2", "查询", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(texts) != 0 {
		t.Fatalf("expected empty recall for other session, got %v", texts)
	}
}

func TestRecallRanksBySimilarity(t *testing.T) {
	embedder := &stubEmbedder{dims: map[string]int{
		"BTC 突破上轨":  0,
		"ETH 横盘":    1,
		"BTC 行情如何？": 0,
	}}
	store := NewVectorStore(WithEmbedder(embedder))
	ctx := context.Background()
	for _, text := range []string{"BTC 突破上轨", "ETH 横盘"} {
		if err := store.Remember(ctx, "s1", text); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	texts, err := store.Recall(ctx, "s1", "BTC 行情如何？", 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(texts) != 1 || texts[0] != "BTC 突破上轨" {
		t.Fatalf("expected similarity hit, got %v", texts)
	}
}

func TestRememberSurvivesEmbedderFailure(t *testing.T) {
	store := NewVectorStore(WithEmbedder(&stubEmbedder{err: errors.New("网络抖动")}))
	ctx := context.Background()
	if err := store.Remember(ctx, "s1", "无向量片段"); err != nil {
		t.Fatalf("remember should not fail on embedder error: %v", err)
	}

	texts, err := store.Recall(ctx, "s1", "", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(texts) != 1 || texts[0] != "无向量片段" {
		t.Fatalf("expected recency fallback, got %v", texts)
	}
}

type recordingRepo struct {
	snippets []Snippet
	vectors  [][]float64
}

func (r *recordingRepo) SaveSnippet(_ context.Context, snippet Snippet, vector []float64) error {
	r.snippets = append(r.snippets, snippet)
	r.vectors = append(r.vectors, vector)
	return nil
}

func (r *recordingRepo) LoadSnippets(_ context.Context, sessionID string) ([]Snippet, [][]float64, error) {
	var snippets []Snippet
	var vectors [][]float64
	for i, snippet := range r.snippets {
		if snippet.SessionID != sessionID {
			continue
		}
		snippets = append(snippets, snippet)
		vectors = append(vectors, r.vectors[i])
	}
	return snippets, vectors, nil
}

func TestWarmupReplaysRepository(t *testing.T) {
	repo := &recordingRepo{}
	ctx := context.Background()

	writer := NewVectorStore(WithRepository(repo))
	for _, text := range []string{"昨天买入 0.1 BTC", "止损设在 60000"} {
		if err := writer.Remember(ctx, "s1", text); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	reader := NewVectorStore(WithRepository(repo))
	if err := reader.Warmup(ctx, "s1"); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	texts, err := reader.Recall(ctx, "s1", "", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(texts) != 2 || texts[0] != "昨天买入 0.1 BTC" {
		t.Fatalf("expected replayed snippets in original order, got %v", texts)
	}
}

func TestRememberIgnoresBlankText(t *testing.T) {
	store := NewVectorStore()
	ctx := context.Background()
	if err := store.Remember(ctx, "s1", "   "); err != nil {
		t.Fatalf("remember: %v", err)
	}
	texts, err := store.Recall(ctx, "s1", "", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(texts) != 0 {
		t.Fatalf("blank text should not be stored, got %v", texts)
	}
}
