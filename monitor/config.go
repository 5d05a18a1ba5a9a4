package monitor

import "time"

// Thresholds 告警阈值，零值表示关闭对应检查
type Thresholds struct {
	MaxMemoryUsageMB       float64       `yaml:"max_memory_usage_mb" json:"max_memory_usage_mb"`
	MinThroughputPerSecond float64       `yaml:"min_throughput_per_second" json:"min_throughput_per_second"`
	MaxErrorRatePercent    float64       `yaml:"max_error_rate_percent" json:"max_error_rate_percent"`
	MaxLatency             time.Duration `yaml:"max_latency" json:"max_latency"`
	MinCacheHitRatePercent float64       `yaml:"min_cache_hit_rate_percent" json:"min_cache_hit_rate_percent"`
}

// Config 监控配置
type Config struct {
	Thresholds           Thresholds    `yaml:"thresholds" json:"thresholds"`
	Retention            time.Duration `yaml:"retention" json:"retention"`
	MaxSnapshots         int           `yaml:"max_snapshots" json:"max_snapshots"`
	MaxAlerts            int           `yaml:"max_alerts" json:"max_alerts"`
	TrendWindow          int           `yaml:"trend_window" json:"trend_window"`
	RecommendationWindow int           `yaml:"recommendation_window" json:"recommendation_window"`
	SampleInterval       time.Duration `yaml:"sample_interval" json:"sample_interval"`
}

// DefaultThresholds 返回默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxMemoryUsageMB:       512,
		MinThroughputPerSecond: 10,
		MaxErrorRatePercent:    5,
		MaxLatency:             30 * time.Second,
		MinCacheHitRatePercent: 20,
	}
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Thresholds:           DefaultThresholds(),
		Retention:            24 * time.Hour,
		MaxSnapshots:         1000,
		MaxAlerts:            500,
		TrendWindow:          20,
		RecommendationWindow: 10,
		SampleInterval:       30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = d.MaxSnapshots
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = d.MaxAlerts
	}
	if c.TrendWindow < 2 {
		c.TrendWindow = d.TrendWindow
	}
	if c.RecommendationWindow <= 0 {
		c.RecommendationWindow = d.RecommendationWindow
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	return c
}
