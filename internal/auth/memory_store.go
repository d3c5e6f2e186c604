package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
)

// KeyEntry 描述一把静态 API key 及其授权范围。
type KeyEntry struct {
	Key         string
	Name        string
	Roles       []string
	Permissions []string
	Disabled    bool
}

// MemoryStore 以内存方式保存 API key 目录，启动时从配置装载。
// key 本身只保留摘要，比较时恒定耗时。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Subject
}

// NewMemoryStore 从静态条目构建 key 目录。
func NewMemoryStore(entries []KeyEntry) *MemoryStore {
	store := &MemoryStore{entries: make(map[string]*Subject, len(entries))}
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "key-" + fingerprint(key)[:8]
		}
		perms := entry.Permissions
		if len(perms) == 0 {
			// 未显式限制的 key 拥有回合读写权限。
			perms = []string{PermTurnsRead, PermTurnsWrite}
		}
		store.entries[fingerprint(key)] = &Subject{
			Name:        name,
			Roles:       entry.Roles,
			Permissions: perms,
			Disabled:    entry.Disabled,
		}
	}
	return store
}

// FindByKey 实现 Store 接口。
func (m *MemoryStore) FindByKey(_ context.Context, key string) (*Subject, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingKey
	}
	digest := fingerprint(key)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for stored, subject := range m.entries {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			clone := *subject
			return &clone, nil
		}
	}
	return nil, ErrInvalidKey
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// 内置权限名。
const (
	PermTurnsRead  = "turns:read"
	PermTurnsWrite = "turns:write"
)

var _ Store = (*MemoryStore)(nil)
