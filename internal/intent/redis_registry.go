package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistryConfig 描述 Redis 去重表的连接参数。
type RedisRegistryConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisRegistry 借助 SETNX 在多实例部署间共享意图去重状态。
// 键会在 TTL 之后过期，超过交易有效期的意图重放会被合约侧拒绝。
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry 创建 Redis 去重表实例。
func NewRedisRegistry(cfg RedisRegistryConfig) (*RedisRegistry, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "neorelay:intent:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisRegistry) key(intentID string) string {
	return r.prefix + intentID
}

// Claim 尝试占用意图编号。
func (r *RedisRegistry) Claim(ctx context.Context, intentID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(intentID), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Redis 占用意图编号失败: %w", err)
	}
	return ok, nil
}

// Release 释放意图编号的占用。
func (r *RedisRegistry) Release(ctx context.Context, intentID string) error {
	if err := r.client.Del(ctx, r.key(intentID)).Err(); err != nil {
		return fmt.Errorf("Redis 释放意图编号失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (r *RedisRegistry) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ Registry = (*RedisRegistry)(nil)
