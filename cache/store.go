package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrStoreClosed = errors.New("cache store closed")
)

// Store 缓存存储接口
// 由批处理器按签名读写，实现需并发安全
type Store interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Stats() StoreStats
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Key        string    `json:"key"`
	Value      any       `json:"value"`
	InsertedAt time.Time `json:"inserted_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	HitCount   int64     `json:"hit_count"`
}

// Expired 判断条目在 now 时刻是否已过期
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// StoreStats 缓存统计
type StoreStats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// HitRate 返回命中率 (0-1)
func (s StoreStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
