package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"R0-Agent/internal/llm"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModelName  = "gpt-4o-mini"
	defaultEmbedModel = "text-embedding-3-small"
	defaultTimeout    = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
}

// Client 通过 HTTP 调用 OpenAI，承担两个角色：
// 作为策略模型产出下一步决策，以及为记忆存储计算文本向量。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Decide 调用 OpenAI 产出下一步决策：一次工具调用或最终回答。
func (c *Client) Decide(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	return parseDecision(content), nil
}

// Embed 返回文本的向量表示，供语义记忆做相似度检索。
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"model": c.embedModel,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化 embeddings 请求失败: %w", err)
	}

	body, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("解析 embeddings 响应失败: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings 响应数量不匹配: 期望 %d 实际 %d", len(texts), len(decoded.Data))
	}

	vectors := make([][]float64, len(decoded.Data))
	for i, item := range decoded.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
		"max_tokens":  1024,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}
