package turn

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "R0-Agent/internal/errors"
)

// MemoryStore 以内存方式保存回合状态，主要用于测试与单机运行。
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string]*Turn
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string]*Turn)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, t *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "turn 不能为空")
	}
	if t.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "回合 ID 不能为空")
	}
	if _, ok := m.turns[t.ID]; ok {
		return ErrTurnConflict
	}
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.turns[t.ID] = cloneTurn(t)
	return nil
}

// Get 返回回合。
func (m *MemoryStore) Get(_ context.Context, id string) (*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrTurnNotFound
	}
	return cloneTurn(t), nil
}

// Claim 将回合状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrTurnNotFound
	}
	switch t.Status {
	case StatusSucceeded:
		return cloneTurn(t), ErrTurnCompleted
	case StatusRunning:
		return cloneTurn(t), ErrTurnConflict
	}
	if t.Attempts >= t.MaxRetries {
		return cloneTurn(t), ErrTurnExhausted
	}
	t.Status = StatusRunning
	t.Attempts++
	t.LastError = ""
	t.ErrorCode = ""
	t.UpdatedAt = time.Now().Unix()
	return cloneTurn(t), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return ErrTurnNotFound
	}
	t.Status = StatusSucceeded
	t.Result = &result
	t.LastError = ""
	t.ErrorCode = ""
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记回合失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return ErrTurnNotFound
	}
	t.Status = StatusFailed
	t.LastError = lastError
	t.ErrorCode = string(code)
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的回合。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Turn, 0, len(m.turns))
	for _, t := range m.turns {
		if !matchesListFilters(t, opts) {
			continue
		}
		results = append(results, cloneTurn(t))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Turn{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的回合数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, t := range m.turns {
		if !matchesListFilters(t, opts) {
			continue
		}
		stats.Total++
		switch t.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if t.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = t.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (t.UpdatedAt != 0 && t.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = t.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneTurn(t *Turn) *Turn {
	clone := *t
	if t.Result != nil {
		resultCopy := *t.Result
		resultCopy.Recalled = append([]string(nil), t.Result.Recalled...)
		resultCopy.Steps = append(resultCopy.Steps[:0:0], t.Result.Steps...)
		clone.Result = &resultCopy
	}
	clone.Metadata = cloneMetadata(t.Metadata)
	return &clone
}

func matchesListFilters(t *Turn, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if t.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && t.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && t.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && resultPresent(t.Result) != *opts.HasResult {
		return false
	}
	if opts.Query != "" && !matchesQuery(t, opts.Query) {
		return false
	}
	return true
}

func matchesQuery(t *Turn, query string) bool {
	query = strings.ToLower(query)
	fields := []string{t.ID, t.Prompt, t.SessionID, t.LastError}
	if t.Result != nil {
		fields = append(fields, t.Result.Thought, t.Result.Reply)
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
