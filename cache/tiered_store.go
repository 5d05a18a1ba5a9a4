package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TieredStore 多级缓存：本地 MemoryStore 在前，共享 Store（通常为 Redis）在后
type TieredStore struct {
	local  *MemoryStore
	remote Store
	logger *zap.Logger
}

// NewTieredStore 创建多级缓存
func NewTieredStore(local *MemoryStore, remote Store, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{
		local:  local,
		remote: remote,
		logger: logger.With(zap.String("component", "tiered_cache")),
	}
}

// Get 先查本地，未命中再查远端并回填本地（保留远端剩余 TTL）
func (t *TieredStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	if entry, err := t.local.Get(ctx, key); err == nil {
		return entry, nil
	}

	entry, err := t.remote.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			t.logger.Warn("remote cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrCacheMiss
	}

	if remaining := time.Until(entry.ExpiresAt); remaining > 0 {
		_ = t.local.Set(ctx, key, entry.Value, remaining)
	}
	return entry, nil
}

// Set 同时写入本地与远端；远端失败只记录日志
func (t *TieredStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := t.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := t.remote.Set(ctx, key, value, ttl); err != nil {
		t.logger.Warn("remote cache set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Delete 删除两级缓存
func (t *TieredStore) Delete(ctx context.Context, key string) error {
	_ = t.local.Delete(ctx, key)
	return t.remote.Delete(ctx, key)
}

// Expire 同步两级过期时间
func (t *TieredStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_ = t.local.Expire(ctx, key, ttl)
	return t.remote.Expire(ctx, key, ttl)
}

// Stats 合并统计：命中数为两级之和，大小取本地
func (t *TieredStore) Stats() StoreStats {
	local := t.local.Stats()
	remote := t.remote.Stats()
	return StoreStats{
		Size:      local.Size,
		Hits:      local.Hits + remote.Hits,
		Misses:    remote.Misses,
		Evictions: local.Evictions,
	}
}
