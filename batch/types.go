package batch

import (
	"context"
	"time"

	"github.com/BaSui01/chronoflow/types"
)

// WorkItem 批处理中的单个工作项，提交后视为只读
type WorkItem struct {
	ID         string         `json:"id,omitempty" yaml:"id"`
	Payload    any            `json:"payload" yaml:"payload"`
	OutputSpec []string       `json:"output_spec,omitempty" yaml:"output_spec"`
	Priority   types.Priority `json:"priority,omitempty" yaml:"priority"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}

// ItemError 单个工作项的失败信息
type ItemError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details,omitempty"`
}

// WorkResult 工作项的处理结果，Index 为原始提交位置
type WorkResult struct {
	ID             string         `json:"id,omitempty"`
	Success        bool           `json:"success"`
	Value          any            `json:"value,omitempty"`
	Error          *ItemError     `json:"error,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Index          int            `json:"index"`
	CacheHit       bool           `json:"cache_hit"`
	RetryCount     int            `json:"retry_count"`
	Priority       types.Priority `json:"priority"`
	NodeID         string         `json:"node_id,omitempty"`
}

// ConcurrencyStats 并发观测值
type ConcurrencyStats struct {
	MaxConfigured int     `json:"max_configured"`
	Average       float64 `json:"average"`
	Peak          int     `json:"peak"`
}

// MemoryUsage 批次结束时的内存快照（字节）
type MemoryUsage struct {
	HeapAlloc uint64 `json:"heap_alloc"`
	HeapSys   uint64 `json:"heap_sys"`
	Sys       uint64 `json:"sys"`
}

// BatchStats 批次聚合统计，批次结束时计算一次
type BatchStats struct {
	TotalItems        int              `json:"total_items"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
	CacheHits         int              `json:"cache_hits"`
	DuplicatesSkipped int              `json:"duplicates_skipped"`
	RetryCount        int              `json:"retry_count"`
	TotalTime         time.Duration    `json:"total_time"`
	AverageTime       time.Duration    `json:"average_time"`
	MinTime           time.Duration    `json:"min_time"`
	MaxTime           time.Duration    `json:"max_time"`
	Throughput        float64          `json:"throughput"`
	Concurrency       ConcurrencyStats `json:"concurrency"`
	MemoryUsage       MemoryUsage      `json:"memory_usage"`
	ChunksExecuted    int              `json:"chunks_executed"`
}

// Outcome ProcessBatch 的返回值
type Outcome struct {
	BatchID string       `json:"batch_id"`
	Results []WorkResult `json:"results"`
	Stats   BatchStats   `json:"stats"`
}

// ConvertContext 传给转换器的上下文信息
type ConvertContext struct {
	ItemID   string
	Index    int
	Attempt  int
	NodeID   string
	Metadata map[string]any
	Params   map[string]any
}

// Converter 外部转换协作者
type Converter interface {
	Convert(ctx context.Context, payload any, outputSpec []string, cc ConvertContext) (any, error)
}

// ConverterFunc 函数适配器
type ConverterFunc func(ctx context.Context, payload any, outputSpec []string, cc ConvertContext) (any, error)

// Convert 实现 Converter
func (f ConverterFunc) Convert(ctx context.Context, payload any, outputSpec []string, cc ConvertContext) (any, error) {
	return f(ctx, payload, outputSpec, cc)
}

// NodeSelector 为工作项挑选执行节点并回报结果
type NodeSelector interface {
	Select(ctx context.Context, item WorkItem) (nodeID string, err error)
	Report(nodeID string, responseTime time.Duration, success bool, size int)
}

// Progress 进度快照
type Progress struct {
	Completed              int           `json:"completed"`
	Total                  int           `json:"total"`
	Percentage             float64       `json:"percentage"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
	CurrentThroughput      float64       `json:"current_throughput"`
	Errors                 int           `json:"errors"`
	CacheHits              int           `json:"cache_hits"`
}

// ProgressSink 进度回调
type ProgressSink interface {
	OnProgress(p Progress)
}

// ProgressFunc 函数适配器
type ProgressFunc func(p Progress)

// OnProgress 实现 ProgressSink
func (f ProgressFunc) OnProgress(p Progress) {
	f(p)
}
