// =============================================================================
// 📦 ChronoFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Batch:     DefaultBatchConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Monitor:   DefaultMonitorConfig(),
		Balancer:  DefaultBalancerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultBatchConfig 返回默认批处理配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrency:       10,
		ChunkSize:            50,
		Timeout:              5 * time.Minute,
		ContinueOnError:      true,
		EnableCaching:        true,
		EnableDeduplication:  true,
		EnablePrioritization: true,
		RetryFailedItems:     true,
		MaxRetries:           3,
		RetryDelay:           time.Second,
		CacheTTL:             5 * time.Minute,
		ItemsPerSecond:       0,
		EnableProgress:       false,
		MemoryHighWaterMark:  512 << 20,
		BackpressurePause:    100 * time.Millisecond,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       "memory",
		MaxEntries:    10000,
		DefaultTTL:    5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		KeyPrefix:    "chronoflow:cache:",
	}
}

// DefaultMonitorConfig 返回默认监控配置
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:                false,
		MaxMemoryUsageMB:       512,
		MinThroughputPerSecond: 10,
		MaxErrorRatePercent:    5,
		MaxLatency:             30 * time.Second,
		MinCacheHitRatePercent: 20,
		Retention:              24 * time.Hour,
		MaxSnapshots:           1000,
		MaxAlerts:              500,
		TrendWindow:            20,
		RecommendationWindow:   10,
		SampleInterval:         30 * time.Second,
	}
}

// DefaultBalancerConfig 返回默认负载均衡配置
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{
		Enabled:             false,
		Strategy:            "adaptive",
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		AdaptiveAlpha:       0.1,
		DegradedErrorRate:   0.5,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chronoflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认 Prometheus 配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "chronoflow",
		Addr:      "",
	}
}
