package signal

import (
	"math"
	"testing"
)

// risingCloses 先横盘再连续拉升。
func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		base := 100.0
		if i > n-8 {
			base += float64(i-(n-8)) * 3
		}
		closes[i] = base + math.Sin(float64(i))*0.2
	}
	return closes
}

// fallingCloses 先横盘再连续急跌。
func fallingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		base := 200.0
		if i > n-8 {
			base -= float64(i-(n-8)) * 5
		}
		closes[i] = base + math.Sin(float64(i))*0.2
	}
	return closes
}

func TestAnalyzeRequiresEnoughBars(t *testing.T) {
	_, err := Analyze(make([]float64, 10), DefaultConfig())
	if err == nil {
		t.Fatal("数据不足应当报错")
	}
}

func TestAnalyzeUptrendSignals(t *testing.T) {
	closes := risingCloses(60)
	summary, err := Analyze(closes, DefaultConfig())
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}
	if summary.Price != closes[len(closes)-1] {
		t.Fatalf("最新价不正确: %f", summary.Price)
	}
	if summary.RSI != "overbought" {
		t.Fatalf("连续拉升应判定超买，实际 %q", summary.RSI)
	}
	if summary.Bollinger != "upper_break" {
		t.Fatalf("急涨应突破上轨，实际 %q", summary.Bollinger)
	}
}

func TestAnalyzeDowntrendSignals(t *testing.T) {
	summary, err := Analyze(fallingCloses(60), DefaultConfig())
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}
	if summary.RSI != "oversold" {
		t.Fatalf("连续急跌应判定超卖，实际 %q", summary.RSI)
	}
	if summary.Bollinger != "lower_break" {
		t.Fatalf("急跌应跌破下轨，实际 %q", summary.Bollinger)
	}
}

func TestLastCross(t *testing.T) {
	cases := []struct {
		name string
		fast []float64
		slow []float64
		want string
	}{
		{"bull", []float64{99, 101}, []float64{100, 100}, "bull"},
		{"bear", []float64{101, 99}, []float64{100, 100}, "bear"},
		{"no cross above", []float64{101, 102}, []float64{100, 100}, ""},
		{"no cross below", []float64{98, 99}, []float64{100, 100}, ""},
		{"too short", []float64{100}, []float64{100}, ""},
	}
	for _, tc := range cases {
		if got := lastCross(tc.fast, tc.slow); got != tc.want {
			t.Errorf("%s: 期望 %q，实际 %q", tc.name, tc.want, got)
		}
	}
}

func TestClosesParsesKlineRows(t *testing.T) {
	raw := []any{
		[]any{1.0, 100.0, 101.0, 99.0, 100.5, 12.0},
		[]any{2.0, 100.5, 102.0, 100.0, 101.2, 8.0},
	}
	closes, err := Closes(raw)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(closes) != 2 || closes[1] != 101.2 {
		t.Fatalf("收盘价不正确: %v", closes)
	}
}

func TestClosesRejectsMalformedRows(t *testing.T) {
	if _, err := Closes("not-an-array"); err == nil {
		t.Fatal("非数组应当报错")
	}
	if _, err := Closes([]any{[]any{1.0, 2.0}}); err == nil {
		t.Fatal("列数不足应当报错")
	}
	if _, err := Closes([]any{[]any{1.0, 2.0, 3.0, 4.0, "oops", 6.0}}); err == nil {
		t.Fatal("非数字收盘价应当报错")
	}
}
