package roostoo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// canonicalPayload 将全部请求参数按键名字典序排列，拼接成
// key=value&key=value 形式的规范载荷。该载荷既是签名输入，
// 也是签名 POST 请求的请求体。
func canonicalPayload(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// sign 对规范载荷计算 HMAC-SHA256，返回十六进制摘要。
// 相同凭证与参数集的签名是确定的。
func sign(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
