// Package r0 provides a small HTTP client for the R0 agent REST API. It covers
// submitting turns, polling their lifecycle and reading queue statistics.
package r0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the R0 agent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// TurnSubmission represents the payload required to create a new turn.
type TurnSubmission struct {
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Prompt    string         `json:"prompt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Step mirrors one tool dispatch recorded in a turn trace.
type Step struct {
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args,omitempty"`
	Error string         `json:"error,omitempty"`
}

// ExecutionResult contains the final thought, reply and trace of a turn.
type ExecutionResult struct {
	Thought    string   `json:"thought"`
	Reply      string   `json:"reply"`
	Recalled   []string `json:"recalled,omitempty"`
	Steps      []Step   `json:"steps,omitempty"`
	Iterations int      `json:"iterations"`
}

// Turn is the server side view of a submitted turn.
type Turn struct {
	ID         string           `json:"id"`
	Prompt     string           `json:"prompt"`
	SessionID  string           `json:"session_id"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Terminal reports whether the turn reached a final state.
func (t *Turn) Terminal() bool {
	return t != nil && (t.Status == "succeeded" || t.Status == "failed")
}

// Stats summarizes the queue state by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListQuery narrows down ListTurns results.
type ListQuery struct {
	Limit    int
	Offset   int
	Statuses []string
	Query    string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("r0 api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the R0 agent API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey stores the key attached to subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SubmitTurn creates a new turn and returns its queued representation.
func (c *Client) SubmitTurn(ctx context.Context, submission TurnSubmission) (Turn, error) {
	var created Turn
	if err := c.post(ctx, "/api/v1/turns", submission, &created); err != nil {
		return Turn{}, err
	}
	return created, nil
}

// GetTurn fetches a turn by identifier.
func (c *Client) GetTurn(ctx context.Context, turnID string) (Turn, error) {
	var detail Turn
	endpoint := "/api/v1/turns/" + url.PathEscape(turnID)
	if err := c.get(ctx, endpoint, &detail); err != nil {
		return Turn{}, err
	}
	return detail, nil
}

// ListTurns returns turns matching the provided query.
func (c *Client) ListTurns(ctx context.Context, query ListQuery) ([]Turn, error) {
	values := url.Values{}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		values.Set("offset", strconv.Itoa(query.Offset))
	}
	if len(query.Statuses) > 0 {
		values.Set("status", strings.Join(query.Statuses, ","))
	}
	if query.Query != "" {
		values.Set("query", query.Query)
	}

	endpoint := "/api/v1/turns"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var turns []Turn
	if err := c.get(ctx, endpoint, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// Stats reads the aggregated queue statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/stats", &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitForTurn polls until the turn reaches a terminal state or the context is
// cancelled.
func (c *Client) WaitForTurn(ctx context.Context, turnID string, interval time.Duration) (Turn, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		current, err := c.GetTurn(ctx, turnID)
		if err != nil {
			return Turn{}, err
		}
		if current.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return Turn{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
