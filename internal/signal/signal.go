package signal

import (
	"fmt"

	"github.com/markcheno/go-talib"
)

// Config 控制各项指标的参数。
type Config struct {
	FastMA        int
	SlowMA        int
	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64
	BollPeriod    int
	BollDeviation float64
}

// DefaultConfig 返回与策略提示词约定一致的默认指标参数。
func DefaultConfig() Config {
	return Config{
		FastMA:        9,
		SlowMA:        21,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		BollPeriod:    20,
		BollDeviation: 2,
	}
}

// Summary 是一次市场分析的 JSON 安全输出。
// 空字符串表示该指标当前没有给出信号。
type Summary struct {
	Price     float64 `json:"price"`
	MACross   string  `json:"ma_cross,omitempty"`
	RSI       string  `json:"rsi,omitempty"`
	Bollinger string  `json:"bollinger,omitempty"`
}

// Analyze 在收盘价序列上计算均线交叉、RSI 与布林带信号。
// 纯函数，不持有状态，也不触发任何网络调用。
func Analyze(closes []float64, cfg Config) (Summary, error) {
	minLen := cfg.SlowMA + 1
	if cfg.BollPeriod+1 > minLen {
		minLen = cfg.BollPeriod + 1
	}
	if cfg.RSIPeriod+1 > minLen {
		minLen = cfg.RSIPeriod + 1
	}
	if len(closes) < minLen {
		return Summary{}, fmt.Errorf("K 线数量不足: 需要至少 %d 根，实际 %d", minLen, len(closes))
	}

	summary := Summary{Price: closes[len(closes)-1]}

	fast := talib.Sma(closes, cfg.FastMA)
	slow := talib.Sma(closes, cfg.SlowMA)
	summary.MACross = lastCross(fast, slow)

	rsi := talib.Rsi(closes, cfg.RSIPeriod)
	switch latest := rsi[len(rsi)-1]; {
	case latest < cfg.RSIOversold:
		summary.RSI = "oversold"
	case latest > cfg.RSIOverbought:
		summary.RSI = "overbought"
	}

	upper, _, lower := talib.BBands(closes, cfg.BollPeriod, cfg.BollDeviation, cfg.BollDeviation, talib.SMA)
	switch price := summary.Price; {
	case price < lower[len(lower)-1]:
		summary.Bollinger = "lower_break"
	case price > upper[len(upper)-1]:
		summary.Bollinger = "upper_break"
	}

	return summary, nil
}

// lastCross 根据最近两个点判断快慢均线的交叉方向。
func lastCross(fast, slow []float64) string {
	n := len(fast)
	if n < 2 || len(slow) < 2 {
		return ""
	}
	prevFast, prevSlow := fast[n-2], slow[n-2]
	currFast, currSlow := fast[n-1], slow[n-1]
	if prevFast < prevSlow && currFast > currSlow {
		return "bull"
	}
	if prevFast > prevSlow && currFast < currSlow {
		return "bear"
	}
	return ""
}

// Closes 从交易所返回的 K 线行中抽取收盘价序列。
// 每行形如 [ts, open, high, low, close, volume]。
func Closes(raw any) ([]float64, error) {
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("K 线响应不是数组: %T", raw)
	}
	closes := make([]float64, 0, len(rows))
	for i, item := range rows {
		row, ok := item.([]any)
		if !ok || len(row) < 5 {
			return nil, fmt.Errorf("第 %d 行 K 线格式不合法", i)
		}
		value, ok := row[4].(float64)
		if !ok {
			return nil, fmt.Errorf("第 %d 行收盘价不是数字: %T", i, row[4])
		}
		closes = append(closes, value)
	}
	return closes, nil
}
