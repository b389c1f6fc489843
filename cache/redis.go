package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Tidelink/config"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "tidelink:session:"

// RedisSessionStore 基于 Redis 的会话存储，多个进程可共享
type RedisSessionStore struct {
	client *redis.Client
}

// ConnectRedis 初始化 Redis 连接并验证可用
func ConnectRedis(ctx context.Context, cfg config.Redis) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSessionStore(client), nil
}

// NewRedisSessionStore 使用已有的客户端
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Get 读取节点会话 id，不存在时返回空串
func (s *RedisSessionStore) Get(ctx context.Context, node string) (string, error) {
	sid, err := s.client.Get(ctx, sessionKeyPrefix+node).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session of node %s: %w", node, err)
	}
	return sid, nil
}

// Save 保存节点会话 id；ttl <= 0 表示不过期
func (s *RedisSessionStore) Save(ctx context.Context, node, sessionID string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+node, sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session of node %s: %w", node, err)
	}
	return nil
}

// Close 关闭 Redis 连接
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
