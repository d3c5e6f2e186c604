package roostoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://mock-api.roostoo.com/v3"
	defaultTimeout = 10 * time.Second

	headerAPIKey    = "RST-API-KEY"
	headerSignature = "MSG-SIGNATURE"
)

// Config 描述构造 Roostoo 客户端所需的信息。
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client 负责把一次已校验的操作翻译成带签名的 HTTP 请求，
// 并把响应归类为成功、HTTP 失败或交易所拒绝三种结果之一。
// 客户端不包含任何重试逻辑，超时与网络错误按 HTTPError 上抛。
type Client struct {
	baseURL       string
	marketBaseURL string
	apiKey        string
	secret        []byte
	httpClient    *http.Client
	now           func() time.Time
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.APISecret)
	if apiKey == "" || secret == "" {
		return nil, errors.New("未提供 Roostoo API 凭证")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		// K 线行情仍在 v2 网关上提供。
		marketBaseURL: strings.Replace(baseURL, "/v3", "/v2", 1),
		apiKey:        apiKey,
		secret:        []byte(secret),
		httpClient:    &http.Client{Timeout: timeout},
		now:           time.Now,
	}, nil
}

// ServerTime 返回交易所服务器时钟（公开接口，无需签名）。
func (c *Client) ServerTime(ctx context.Context) (any, error) {
	return c.getPublic(ctx, "/serverTime", nil)
}

// ExchangeInfo 返回交易对元数据，如精度与最小下单量（公开接口）。
func (c *Client) ExchangeInfo(ctx context.Context) (any, error) {
	return c.getPublic(ctx, "/exchangeInfo", nil)
}

// Ticker 返回指定交易对的最新行情（公开接口）。
func (c *Client) Ticker(ctx context.Context, pair string) (any, error) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return nil, errors.New("pair 不能为空")
	}
	return c.getPublic(ctx, "/ticker", map[string]string{"pair": pair})
}

// Balance 返回账户全部资产余额（签名接口）。
func (c *Client) Balance(ctx context.Context) (any, error) {
	return c.getSigned(ctx, "/balance", nil)
}

// PendingCount 返回当前挂单数量（签名接口）。
func (c *Client) PendingCount(ctx context.Context) (any, error) {
	return c.getSigned(ctx, "/pending_count", nil)
}

// PlaceOrder 提交一笔已校验的订单（签名 POST）。
func (c *Client) PlaceOrder(ctx context.Context, intent OrderIntent) (any, error) {
	return c.postSigned(ctx, "/place_order", intent.params())
}

// QueryOrder 查询历史或挂单（签名 POST）。
func (c *Client) QueryOrder(ctx context.Context, filter QueryFilter) (any, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	return c.postSigned(ctx, "/query_order", filter.params())
}

// CancelOrder 撤销一笔、多笔或全部挂单（签名 POST）。
func (c *Client) CancelOrder(ctx context.Context, filter CancelFilter) (any, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	return c.postSigned(ctx, "/cancel_order", filter.params())
}

// Klines 返回指定交易对的 K 线数据，供指标计算使用（签名 GET，v2 网关）。
func (c *Client) Klines(ctx context.Context, pair, interval string, limit int) (any, error) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return nil, errors.New("pair 不能为空")
	}
	if interval == "" {
		interval = "1m"
	}
	if limit <= 0 {
		limit = 500
	}
	params := c.withTimestamp(map[string]string{
		"symbol":   strings.ToUpper(pair),
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	payload := canonicalPayload(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.marketBaseURL+"/market/klines?"+payload, nil)
	if err != nil {
		return nil, fmt.Errorf("构建 K 线请求失败: %w", err)
	}
	c.attachSignature(req, payload)
	return c.do(req)
}

// getPublic 发起无签名 GET 请求。
func (c *Client) getPublic(ctx context.Context, path string, params map[string]string) (any, error) {
	url := c.baseURL + path
	if len(params) > 0 {
		url += "?" + canonicalPayload(params)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	return c.do(req)
}

// getSigned 发起带签名的 GET 请求，参数随查询字符串发送。
func (c *Client) getSigned(ctx context.Context, path string, params map[string]string) (any, error) {
	payload := canonicalPayload(c.withTimestamp(params))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+payload, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	c.attachSignature(req, payload)
	return c.do(req)
}

// postSigned 发起带签名的 POST 请求，规范载荷即为表单请求体。
func (c *Client) postSigned(ctx context.Context, path string, params map[string]string) (any, error) {
	payload := canonicalPayload(c.withTimestamp(params))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.attachSignature(req, payload)
	return c.do(req)
}

// withTimestamp 复制参数并补充毫秒时间戳，时间戳参与签名。
func (c *Client) withTimestamp(params map[string]string) map[string]string {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	return merged
}

func (c *Client) attachSignature(req *http.Request, payload string) {
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerSignature, sign(c.secret, payload))
}

// do 执行请求并归类响应：
// 非 2xx 状态归为 HTTPError，携带尽力解码的响应体；
// 2xx 但 Success=false 或 ErrMsg 非空归为 RejectError；
// 其余情况返回解码后的成功载荷。
func (c *Client) do(req *http.Request) (any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &HTTPError{Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &HTTPError{Status: resp.StatusCode, Body: err.Error()}
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		// 非 JSON 响应降级为原始文本。
		body = strings.TrimSpace(string(raw))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: body}
	}

	if m, ok := body.(map[string]any); ok {
		if msg, rejected := rejectMessage(m); rejected {
			return nil, &RejectError{Message: msg}
		}
	}
	return body, nil
}

// rejectMessage 判断 2xx 响应是否为业务层拒绝。
func rejectMessage(m map[string]any) (string, bool) {
	errMsg := ""
	if v, ok := m["ErrMsg"].(string); ok {
		errMsg = strings.TrimSpace(v)
	}
	if success, ok := m["Success"].(bool); ok && !success {
		if errMsg == "" {
			errMsg = fmt.Sprintf("%v", m)
		}
		return errMsg, true
	}
	if errMsg != "" {
		return errMsg, true
	}
	return "", false
}
