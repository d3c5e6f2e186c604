package knowledge

import "testing"

func TestQueryMatchesKeywords(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "仓位纪律", Content: "单笔不超过总资金的 10%", Keywords: []string{"买", "下单"}},
		{Title: "止损纪律", Content: "亏损超过 5% 必须止损", Keywords: []string{"止损"}},
	}, 3)

	results := provider.Query("帮我下单买入 BTC")
	if len(results) != 1 || results[0].Title != "仓位纪律" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestQueryGenericRuleAlwaysHits(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "通用纪律", Content: "任何操作前先看余额"},
	}, 3)

	results := provider.Query("随便聊聊")
	if len(results) != 1 {
		t.Fatalf("generic rule should always match, got %+v", results)
	}
}

func TestQueryHonorsMaxResults(t *testing.T) {
	items := []Snippet{
		{Title: "一", Content: "a"},
		{Title: "二", Content: "b"},
		{Title: "三", Content: "c"},
	}
	provider := NewStaticProvider(items, 2)

	if results := provider.Query("任意"); len(results) != 2 {
		t.Fatalf("expected max 2 results, got %d", len(results))
	}
}
