package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryConfig 本地缓存配置
type MemoryConfig struct {
	MaxEntries    int           `yaml:"max_entries" json:"max_entries"`
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultMemoryConfig 默认配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries:    10000,
		DefaultTTL:    5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// MemoryStore 进程内 LRU + TTL 缓存
// 条目按 TTL 过期，命中次数不会延长寿命
type MemoryStore struct {
	mu     sync.Mutex
	config MemoryConfig
	items  map[string]*lruNode
	head   *lruNode // 最近使用
	tail   *lruNode // 最久未使用
	now    func() time.Time
	logger *zap.Logger

	hits      int64
	misses    int64
	evictions int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	closed   bool
}

type lruNode struct {
	entry *CacheEntry
	prev  *lruNode
	next  *lruNode
}

// NewMemoryStore 创建本地缓存
func NewMemoryStore(config MemoryConfig, logger *zap.Logger) *MemoryStore {
	defaults := DefaultMemoryConfig()
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaults.MaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		config: config,
		items:  make(map[string]*lruNode),
		now:    time.Now,
		logger: logger.With(zap.String("component", "memory_cache")),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Get 获取缓存条目，过期条目视为未命中并立即移除
func (s *MemoryStore) Get(_ context.Context, key string) (*CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, ErrCacheMiss
	}
	if node.entry.Expired(s.now()) {
		s.unlink(node)
		delete(s.items, key)
		s.evictions++
		s.misses++
		return nil, ErrCacheMiss
	}

	s.moveToHead(node)
	node.entry.HitCount++
	s.hits++

	entry := *node.entry
	return &entry, nil
}

// Set 写入缓存，ttl <= 0 时使用默认 TTL
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := s.now()
	if node, ok := s.items[key]; ok {
		node.entry = &CacheEntry{Key: key, Value: value, InsertedAt: now, ExpiresAt: now.Add(ttl)}
		s.moveToHead(node)
		return nil
	}

	if len(s.items) >= s.config.MaxEntries {
		s.evictTail()
	}

	node := &lruNode{entry: &CacheEntry{Key: key, Value: value, InsertedAt: now, ExpiresAt: now.Add(ttl)}}
	s.items[key] = node
	s.addToHead(node)
	return nil
}

// Delete 删除缓存
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.items[key]; ok {
		s.unlink(node)
		delete(s.items, key)
	}
	return nil
}

// Expire 重设条目过期时间
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.items[key]
	if !ok {
		return ErrCacheMiss
	}
	node.entry.ExpiresAt = s.now().Add(ttl)
	return nil
}

// Stats 返回统计信息
func (s *MemoryStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{
		Size:      len(s.items),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// Sweep 清理所有过期条目，返回清理数量
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, node := range s.items {
		if node.entry.Expired(now) {
			s.unlink(node)
			delete(s.items, key)
			removed++
		}
	}
	s.evictions += int64(removed)
	return removed
}

// StartSweeper 启动后台过期清理，Close 或 ctx 取消时退出
func (s *MemoryStore) StartSweeper(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval <= 0 {
		close(s.doneCh)
		return
	}

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Debug("expired entries swept", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Close 停止后台清理，不清空已有条目
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
	})
	return nil
}

// Wait 等待后台清理协程退出（仅在调用过 StartSweeper 后有效）
func (s *MemoryStore) Wait() {
	<-s.doneCh
}

func (s *MemoryStore) addToHead(node *lruNode) {
	node.prev = nil
	node.next = s.head
	if s.head != nil {
		s.head.prev = node
	}
	s.head = node
	if s.tail == nil {
		s.tail = node
	}
}

func (s *MemoryStore) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		s.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		s.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (s *MemoryStore) moveToHead(node *lruNode) {
	if node == s.head {
		return
	}
	s.unlink(node)
	s.addToHead(node)
}

func (s *MemoryStore) evictTail() {
	if s.tail == nil {
		return
	}
	victim := s.tail
	s.unlink(victim)
	delete(s.items, victim.entry.Key)
	s.evictions++
}
