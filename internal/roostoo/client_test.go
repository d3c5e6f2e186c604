package roostoo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		APISecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	client.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return client
}

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCanonicalPayloadSortsKeys(t *testing.T) {
	payload := canonicalPayload(map[string]string{
		"timestamp": "123",
		"pair":      "BTC/USD",
		"side":      "BUY",
	})
	if payload != "pair=BTC/USD&side=BUY&timestamp=123" {
		t.Fatalf("载荷未按键名排序: %q", payload)
	}
}

func TestSignDeterministic(t *testing.T) {
	first := sign([]byte("secret"), "a=1&b=2")
	second := sign([]byte("secret"), "a=1&b=2")
	if first != second {
		t.Fatalf("相同输入签名不一致: %q vs %q", first, second)
	}
	if first == sign([]byte("other"), "a=1&b=2") {
		t.Fatal("不同密钥不应产生相同签名")
	}
}

func TestBalanceSignsQueryPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance" {
			t.Fatalf("意外路径: %s", r.URL.Path)
		}
		if got := r.Header.Get("RST-API-KEY"); got != "test-key" {
			t.Fatalf("缺少 API key 头: %q", got)
		}
		payload := r.URL.RawQuery
		if payload != "timestamp=1700000000000" {
			t.Fatalf("查询载荷不正确: %q", payload)
		}
		if got := r.Header.Get("MSG-SIGNATURE"); got != hmacHex("test-secret", payload) {
			t.Fatalf("签名不匹配: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Success":true,"Wallet":{"USD":{"Free":50000}}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	payload, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("查询余额失败: %v", err)
	}
	body, ok := payload.(map[string]any)
	if !ok || body["Success"] != true {
		t.Fatalf("载荷不正确: %+v", payload)
	}
}

func TestPlaceOrderSignsFormBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/place_order" {
			t.Fatalf("意外请求: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Fatalf("Content-Type 不正确: %q", ct)
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("读取请求体失败: %v", err)
		}
		body := string(raw)
		want := "pair=BTC/USD&quantity=0.5&side=BUY&timestamp=1700000000000&type=MARKET"
		if body != want {
			t.Fatalf("请求体不正确:\n  got  %q\n  want %q", body, want)
		}
		if got := r.Header.Get("MSG-SIGNATURE"); got != hmacHex("test-secret", body) {
			t.Fatalf("签名与请求体不一致: %q", got)
		}
		_, _ = w.Write([]byte(`{"Success":true,"OrderDetail":{"OrderID":42}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	intent, err := NewOrderIntent("BTC/USD", "buy", "market", "0.5", "")
	if err != nil {
		t.Fatalf("构造订单失败: %v", err)
	}
	if _, err := client.PlaceOrder(context.Background(), intent); err != nil {
		t.Fatalf("下单失败: %v", err)
	}
}

func TestDoClassifiesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Balance(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("期望 HTTPError，实际 %v", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("状态码不正确: %d", httpErr.Status)
	}
}

func TestDoClassifiesExchangeReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Success":false,"ErrMsg":"insufficient balance"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Balance(context.Background())
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("期望 RejectError，实际 %v", err)
	}
	if reject.Message != "insufficient balance" {
		t.Fatalf("拒绝原因不正确: %q", reject.Message)
	}
}

func TestDoTreatsBareErrMsgAsReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ErrMsg":"pair not found"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Ticker(context.Background(), "XX/USD")
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("期望 RejectError，实际 %v", err)
	}
}

func TestNewOrderIntentValidation(t *testing.T) {
	if _, err := NewOrderIntent("", "BUY", "MARKET", "1", ""); err == nil {
		t.Fatal("缺少 pair 应当失败")
	}
	if _, err := NewOrderIntent("BTC/USD", "HOLD", "MARKET", "1", ""); err == nil {
		t.Fatal("非法 side 应当失败")
	}
	if _, err := NewOrderIntent("BTC/USD", "SELL", "LIMIT", "1", ""); err == nil {
		t.Fatal("LIMIT 缺 price 应当失败")
	}
	if _, err := NewOrderIntent("BTC/USD", "SELL", "MARKET", "-1", ""); err == nil {
		t.Fatal("负数数量应当失败")
	}

	intent, err := NewOrderIntent("BTC/USD", "sell", "market", "2", "100")
	if err != nil {
		t.Fatalf("合法市价单被拒绝: %v", err)
	}
	if intent.Price != "" {
		t.Fatalf("市价单不应携带 price: %q", intent.Price)
	}
	if intent.Side != SideSell || intent.Kind != KindMarket {
		t.Fatalf("归一化失败: %+v", intent)
	}
}

func TestQueryFilterMutualExclusion(t *testing.T) {
	filter := QueryFilter{OrderID: "42", Pair: "BTC/USD"}
	if err := filter.validate(); err == nil {
		t.Fatal("order_id 与 pair 并存应当失败")
	}
}

func TestKlinesUsesMarketGateway(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[[1700000000000,"100","101","99","100.5","12"]]`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL+"/v3")
	if _, err := client.Klines(context.Background(), "btc/usd", "", 0); err != nil {
		t.Fatalf("获取 K 线失败: %v", err)
	}
	if gotPath != "/v2/market/klines" {
		t.Fatalf("K 线应走 v2 网关: %q", gotPath)
	}
}
