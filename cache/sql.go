package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NodeSession 节点会话表的一行
type NodeSession struct {
	Node      string     `gorm:"primaryKey;size:64"`
	SessionID string     `gorm:"size:128;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 表名
func (NodeSession) TableName() string { return "node_sessions" }

// SQLSessionStore 基于 GORM 的会话存储
type SQLSessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLSessionStore 迁移会话表并返回存储
func NewSQLSessionStore(db *gorm.DB) (*SQLSessionStore, error) {
	if err := db.AutoMigrate(&NodeSession{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate node sessions: %w", err)
	}
	return &SQLSessionStore{db: db, now: time.Now}, nil
}

// Get 读取节点会话 id，不存在或已过期时返回空串
func (s *SQLSessionStore) Get(ctx context.Context, node string) (string, error) {
	var row NodeSession
	err := s.db.WithContext(ctx).Where("node = ?", node).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session of node %s: %w", node, err)
	}
	if row.ExpiresAt != nil && !s.now().Before(*row.ExpiresAt) {
		return "", nil
	}
	return row.SessionID, nil
}

// Save 写入或覆盖节点会话 id；ttl <= 0 表示不过期
func (s *SQLSessionStore) Save(ctx context.Context, node, sessionID string, ttl time.Duration) error {
	row := NodeSession{Node: node, SessionID: sessionID, UpdatedAt: s.now()}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		row.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save session of node %s: %w", node, err)
	}
	return nil
}
