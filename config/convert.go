package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/chronoflow/balancer"
	"github.com/BaSui01/chronoflow/batch"
	"github.com/BaSui01/chronoflow/cache"
	"github.com/BaSui01/chronoflow/monitor"
)

// =============================================================================
// 🔄 转换为各组件配置
// =============================================================================

// Options 转换为批处理选项
func (c BatchConfig) Options() batch.Options {
	return batch.Options{
		MaxConcurrency:       c.MaxConcurrency,
		ChunkSize:            c.ChunkSize,
		Timeout:              c.Timeout,
		ContinueOnError:      c.ContinueOnError,
		EnableCaching:        c.EnableCaching,
		EnableDeduplication:  c.EnableDeduplication,
		EnablePrioritization: c.EnablePrioritization,
		RetryFailedItems:     c.RetryFailedItems,
		MaxRetries:           c.MaxRetries,
		RetryDelay:           c.RetryDelay,
		CacheTTL:             c.CacheTTL,
		ItemsPerSecond:       c.ItemsPerSecond,
		EnableProgress:       c.EnableProgress,
	}
}

// Processor 转换为处理器配置
func (c BatchConfig) Processor() batch.Config {
	return batch.Config{
		MemoryHighWaterMark: c.MemoryHighWaterMark,
		BackpressurePause:   c.BackpressurePause,
	}
}

// Memory 转换为本地缓存配置
func (c CacheConfig) Memory() cache.MemoryConfig {
	return cache.MemoryConfig{
		MaxEntries:    c.MaxEntries,
		DefaultTTL:    c.DefaultTTL,
		SweepInterval: c.SweepInterval,
	}
}

// Store 转换为 Redis 缓存配置
func (c RedisConfig) Store(defaultTTL time.Duration) cache.RedisConfig {
	return cache.RedisConfig{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		KeyPrefix:    c.KeyPrefix,
		TLS:          c.TLS,
		DefaultTTL:   defaultTTL,
	}
}

// Build 转换为监控配置
func (c MonitorConfig) Build() monitor.Config {
	return monitor.Config{
		Thresholds: monitor.Thresholds{
			MaxMemoryUsageMB:       c.MaxMemoryUsageMB,
			MinThroughputPerSecond: c.MinThroughputPerSecond,
			MaxErrorRatePercent:    c.MaxErrorRatePercent,
			MaxLatency:             c.MaxLatency,
			MinCacheHitRatePercent: c.MinCacheHitRatePercent,
		},
		Retention:            c.Retention,
		MaxSnapshots:         c.MaxSnapshots,
		MaxAlerts:            c.MaxAlerts,
		TrendWindow:          c.TrendWindow,
		RecommendationWindow: c.RecommendationWindow,
		SampleInterval:       c.SampleInterval,
	}
}

// Build 转换为负载均衡配置，校验策略与节点
func (c BalancerConfig) Build() (balancer.Config, error) {
	strategy, err := balancer.ParseStrategy(c.Strategy)
	if err != nil {
		return balancer.Config{}, err
	}

	seen := make(map[string]bool, len(c.Nodes))
	nodes := make([]balancer.WorkerNode, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return balancer.Config{}, fmt.Errorf("balancer node without id")
		}
		if seen[n.ID] {
			return balancer.Config{}, fmt.Errorf("duplicate balancer node %q", n.ID)
		}
		if n.Capacity <= 0 {
			return balancer.Config{}, fmt.Errorf("balancer node %q needs a positive capacity", n.ID)
		}
		seen[n.ID] = true
		nodes = append(nodes, balancer.WorkerNode{
			ID:           n.ID,
			Endpoint:     n.Endpoint,
			Capacity:     n.Capacity,
			Region:       n.Region,
			Priority:     n.Priority,
			Capabilities: n.Capabilities,
		})
	}

	return balancer.Config{
		Strategy:            strategy,
		HealthCheckInterval: c.HealthCheckInterval,
		HealthCheckTimeout:  c.HealthCheckTimeout,
		AdaptiveAlpha:       c.AdaptiveAlpha,
		DegradedErrorRate:   c.DegradedErrorRate,
		Nodes:               nodes,
	}, nil
}
