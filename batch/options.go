package batch

import "time"

// Options 单次 ProcessBatch 的选项，从 DefaultOptions 出发修改
type Options struct {
	MaxConcurrency       int            `yaml:"max_concurrency" json:"max_concurrency"`
	ChunkSize            int            `yaml:"chunk_size" json:"chunk_size"`
	Timeout              time.Duration  `yaml:"timeout" json:"timeout"`
	ContinueOnError      bool           `yaml:"continue_on_error" json:"continue_on_error"`
	EnableCaching        bool           `yaml:"enable_caching" json:"enable_caching"`
	EnableDeduplication  bool           `yaml:"enable_deduplication" json:"enable_deduplication"`
	EnablePrioritization bool           `yaml:"enable_prioritization" json:"enable_prioritization"`
	RetryFailedItems     bool           `yaml:"retry_failed_items" json:"retry_failed_items"`
	MaxRetries           int            `yaml:"max_retries" json:"max_retries"`
	RetryDelay           time.Duration  `yaml:"retry_delay" json:"retry_delay"`
	CacheTTL             time.Duration  `yaml:"cache_ttl" json:"cache_ttl"`
	ItemsPerSecond       float64        `yaml:"items_per_second" json:"items_per_second"` // 0 表示不限速
	EnableProgress       bool           `yaml:"enable_progress" json:"enable_progress"`
	Params               map[string]any `yaml:"params" json:"params,omitempty"` // 参与签名计算的上下文参数
}

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	return Options{
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
	}
}

// withDefaults 补齐非法的数值字段，布尔字段保持调用方设置
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.ItemsPerSecond < 0 {
		o.ItemsPerSecond = 0
	}
	return o
}

// retryBudget 返回允许的重试次数
func (o Options) retryBudget() int {
	if !o.RetryFailedItems {
		return 0
	}
	return o.MaxRetries
}
