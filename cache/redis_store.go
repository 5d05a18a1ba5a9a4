package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/chronoflow/internal/tlsutil"
)

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix"`
	TLS          bool          `yaml:"tls" json:"tls"`
	DefaultTTL   time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		KeyPrefix:    "chronoflow:cache:",
		DefaultTTL:   5 * time.Minute,
	}
}

// RedisStore 基于 Redis 的共享缓存
// 值以 JSON 存储，读回后数字类型为 float64
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore 连接 Redis 并创建缓存存储
func NewRedisStore(ctx context.Context, config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(hostOf(config.Addr))
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := NewRedisStoreWithClient(client, config, logger)
	store.logger.Info("redis cache connected", zap.String("addr", config.Addr))
	return store, nil
}

// NewRedisStoreWithClient 使用已有客户端创建缓存存储
func NewRedisStoreWithClient(client *redis.Client, config RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultRedisConfig().DefaultTTL
	}
	return &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_cache")),
	}
}

// Get 获取缓存
func (s *RedisStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		s.misses.Add(1)
		s.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.misses.Add(1)
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	s.hits.Add(1)
	entry.HitCount++
	return &entry, nil
}

// Set 写入缓存
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}
	now := time.Now()
	data, err := json.Marshal(&CacheEntry{
		Key:        key,
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Set(ctx, s.redisKey(key), data, ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete 删除缓存
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Expire 设置键的过期时间
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, s.redisKey(key), ttl).Result()
	if err != nil {
		return fmt.Errorf("cache expire failed: %w", err)
	}
	if !ok {
		return ErrCacheMiss
	}
	return nil
}

// Stats 返回进程内观察到的统计，Size 为 -1 表示未知
func (s *RedisStore) Stats() StoreStats {
	return StoreStats{
		Size:   -1,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭底层客户端
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) redisKey(key string) string {
	return s.config.KeyPrefix + key
}

// hostOf 返回地址中的主机名，用于 TLS SNI
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
