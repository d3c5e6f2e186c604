package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "R0-Agent/internal/errors"
)

// 策略模型产出的参数是弱类型的 JSON：数字可能是 float64、
// json.Number 甚至字符串。这里统一做宽松取值，取不到或取错型
// 的情况一律归到 CodeValidationFailed。

// stringArg 按 key 列表取第一个存在的字符串参数，去掉首尾空白。
func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := args[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// requireStringArg 同 stringArg，缺失时返回校验错误。
func requireStringArg(args map[string]any, keys ...string) (string, error) {
	if value := stringArg(args, keys...); value != "" {
		return value, nil
	}
	return "", xerrors.New(xerrors.CodeValidationFailed, fmt.Sprintf("缺少必填参数 %q", keys[0]))
}

// decimalArg 把数字或数字字符串解析为 decimal，保留原始精度。
func decimalArg(args map[string]any, keys ...string) (decimal.Decimal, bool, error) {
	for _, key := range keys {
		value, ok := args[key]
		if !ok || value == nil {
			continue
		}
		raw := stringArg(args, key)
		if raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, false, xerrors.New(xerrors.CodeValidationFailed,
				fmt.Sprintf("参数 %q 不是合法数字: %s", key, raw))
		}
		return parsed, true, nil
	}
	return decimal.Zero, false, nil
}

// intArg 取整数参数，缺失时返回 fallback。
func intArg(args map[string]any, fallback int, keys ...string) (int, error) {
	for _, key := range keys {
		value, ok := args[key]
		if !ok || value == nil {
			continue
		}
		raw := stringArg(args, key)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0, xerrors.New(xerrors.CodeValidationFailed,
				fmt.Sprintf("参数 %q 不是合法整数: %s", key, raw))
		}
		return parsed, nil
	}
	return fallback, nil
}

// boolArg 取布尔参数，支持 true/false 字符串形式。
func boolArg(args map[string]any, keys ...string) (bool, bool) {
	for _, key := range keys {
		value, ok := args[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err == nil {
				return parsed, true
			}
		}
	}
	return false, false
}
