package mysql

import (
	"context"
	"testing"
	"time"

	"R0-Agent/internal/memory"
)

func TestJSONLSnippetRepositoryRoundTrip(t *testing.T) {
	repo, err := NewJSONLSnippetRepository(t.TempDir())
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}

	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	saves := []struct {
		snippet memory.Snippet
		vector  []float64
	}{
		{memory.Snippet{ID: "s1", SessionID: "sess-a", Text: "先买入 BTC", CreatedAt: base}, []float64{0.1, 0.9}},
		{memory.Snippet{ID: "s2", SessionID: "sess-b", Text: "别的会话", CreatedAt: base.Add(time.Second)}, nil},
		{memory.Snippet{ID: "s3", SessionID: "sess-a", Text: "随后卖出一半", CreatedAt: base.Add(2 * time.Second)}, []float64{0.7, 0.2}},
	}
	for _, save := range saves {
		if err := repo.SaveSnippet(ctx, save.snippet, save.vector); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	snippets, vectors, err := repo.LoadSnippets(ctx, "sess-a")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(snippets) != 2 || len(vectors) != 2 {
		t.Fatalf("期望 2 条记录，实际 %d/%d", len(snippets), len(vectors))
	}
	if snippets[0].ID != "s1" || snippets[1].ID != "s3" {
		t.Fatalf("顺序不符合写入先后: %+v", snippets)
	}
	if snippets[0].Text != "先买入 BTC" {
		t.Fatalf("文本丢失: %q", snippets[0].Text)
	}
	if len(vectors[0]) != 2 || vectors[0][1] != 0.9 {
		t.Fatalf("向量解码错误: %v", vectors[0])
	}
	if !snippets[1].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("时间戳错误: %v", snippets[1].CreatedAt)
	}
}

func TestJSONLSnippetRepositoryReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewJSONLSnippetRepository(dir)
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}
	snippet := memory.Snippet{ID: "s1", SessionID: "sess", Text: "记住这条", CreatedAt: time.Unix(1700000000, 0)}
	if err := first.SaveSnippet(ctx, snippet, []float64{1, 0}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	// 重新打开同一目录，应能重放历史。
	second, err := NewJSONLSnippetRepository(dir)
	if err != nil {
		t.Fatalf("重建仓库失败: %v", err)
	}
	snippets, _, err := second.LoadSnippets(ctx, "sess")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(snippets) != 1 || snippets[0].Text != "记住这条" {
		t.Fatalf("重放结果不符: %+v", snippets)
	}
}

func TestRowFromSnippetAssignsID(t *testing.T) {
	row := rowFromSnippet(memory.Snippet{SessionID: "sess", Text: "无 ID", CreatedAt: time.Now()}, nil)
	if row.ID == "" {
		t.Fatal("缺省时应生成 ID")
	}
}
