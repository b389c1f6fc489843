// Package cache 持久化节点会话 id，供进程重启后恢复会话
package cache

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore 进程内会话存储，重启即丢失
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	sessionID string
	expires   time.Time // 零值表示不过期
}

// NewMemorySessionStore 创建进程内会话存储
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get 读取节点会话 id，不存在或已过期时返回空串
func (s *MemorySessionStore) Get(_ context.Context, node string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[node]
	if !ok {
		return "", nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, node)
		return "", nil
	}
	return e.sessionID, nil
}

// Save 保存节点会话 id；ttl <= 0 表示不过期
func (s *MemorySessionStore) Save(_ context.Context, node, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{sessionID: sessionID}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[node] = e
	return nil
}
