package monitor

import "time"

// Severity 告警 / 建议级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank 返回排序值，critical 最高
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AlertType 告警类型
type AlertType string

const (
	AlertMemory     AlertType = "memory"
	AlertCPU        AlertType = "cpu"
	AlertThroughput AlertType = "throughput"
	AlertErrorRate  AlertType = "error_rate"
	AlertLatency    AlertType = "latency"
	AlertCache      AlertType = "cache"
)

// Trend 趋势方向
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// CacheStats 批次的缓存表现
type CacheStats struct {
	Enabled   bool    `json:"enabled"`
	HitRate   float64 `json:"hit_rate"` // 0..1
	Size      int     `json:"size"`
	Evictions int64   `json:"evictions"`
}

// ConcurrencyStats 批次的并发表现
type ConcurrencyStats struct {
	Active  int     `json:"active"`
	Peak    int     `json:"peak"`
	Average float64 `json:"average"`
}

// BatchMetricsInput RecordBatchMetrics 的输入
type BatchMetricsInput struct {
	BatchID        string
	Size           int
	ProcessingTime time.Duration
	SuccessCount   int
	ErrorCount     int
	RetryCount     int
	Cache          CacheStats
	Concurrency    ConcurrencyStats
}

// PerformanceMetric 每个批次一条的不可变快照
type PerformanceMetric struct {
	Timestamp      time.Time        `json:"timestamp"`
	BatchID        string           `json:"batch_id"`
	BatchSize      int              `json:"batch_size"`
	ProcessingTime time.Duration    `json:"processing_time"`
	Throughput     float64          `json:"throughput"`      // items/s
	MemoryUsageMB  float64          `json:"memory_usage_mb"` // 堆内存
	Concurrency    ConcurrencyStats `json:"concurrency"`
	Cache          CacheStats       `json:"cache"`
	ErrorRate      float64          `json:"error_rate"` // 百分比
	RetryRate      float64          `json:"retry_rate"` // 百分比
}

// PerformanceAlert 告警，创建后不再修改
type PerformanceAlert struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	BatchID         string    `json:"batch_id"`
	Severity        Severity  `json:"severity"`
	Type            AlertType `json:"type"`
	Message         string    `json:"message"`
	Threshold       float64   `json:"threshold"`
	ActualValue     float64   `json:"actual_value"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// OptimizationRecommendation 由近期快照推导的优化建议，不持久化
type OptimizationRecommendation struct {
	Type                string   `json:"type"`
	Priority            Severity `json:"priority"`
	Description         string   `json:"description"`
	ExpectedImprovement string   `json:"expected_improvement"`
	Implementation      string   `json:"implementation"`
	EstimatedEffort     string   `json:"estimated_effort"`
}

// Summary 时间窗口内的汇总
type Summary struct {
	TotalBatches        int              `json:"total_batches"`
	TotalItems          int              `json:"total_items"`
	AverageThroughput   float64          `json:"average_throughput"`
	AverageLatency      time.Duration    `json:"average_latency"`
	AverageMemoryMB     float64          `json:"average_memory_mb"`
	PeakMemoryMB        float64          `json:"peak_memory_mb"`
	AverageErrorRate    float64          `json:"average_error_rate"`
	AverageCacheHitRate float64          `json:"average_cache_hit_rate"`
	AlertCounts         map[Severity]int `json:"alert_counts"`
}

// Trends 各指标趋势
type Trends struct {
	Throughput Trend `json:"throughput"`
	Memory     Trend `json:"memory"`
	ErrorRate  Trend `json:"error_rate"`
}

// Analytics GetPerformanceAnalytics 的返回值
type Analytics struct {
	Summary         Summary                      `json:"summary"`
	Trends          Trends                       `json:"trends"`
	Alerts          []PerformanceAlert           `json:"alerts"`
	Recommendations []OptimizationRecommendation `json:"recommendations"`
}
