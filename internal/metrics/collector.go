// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	registry *prometheus.Registry

	// 批处理指标
	batchesTotal      *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	batchThroughput   prometheus.Gauge
	itemsTotal        *prometheus.CounterVec
	itemDuration      prometheus.Histogram
	itemRetries       prometheus.Counter
	duplicatesSkipped prometheus.Counter
	inflightItems     prometheus.Gauge
	backpressureTotal prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 节点指标
	nodeSelections   *prometheus.CounterVec
	nodeRequests     *prometheus.CounterVec
	nodeResponseTime *prometheus.HistogramVec
	nodeAdaptive     *prometheus.GaugeVec
	nodeHealthy      *prometheus.GaugeVec

	// 监控指标
	alertsTotal *prometheus.CounterVec
	heapInUse   prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到独立 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// 批处理指标
	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of processed batches",
		},
		[]string{"status"}, // status: completed, timeout, aborted
	)

	c.batchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch wall time in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.batchThroughput = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_throughput_items_per_second",
			Help:      "Throughput of the most recent batch",
		},
	)

	c.itemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Total number of processed work items",
		},
		[]string{"status"}, // status: success, failure
	)

	c.itemDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Per-item processing time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.itemRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_retries_total",
			Help:      "Total number of item retry attempts",
		},
	)

	c.duplicatesSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Total number of duplicate items collapsed",
		},
	)

	c.inflightItems = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_items",
			Help:      "Number of items currently executing",
		},
	)

	c.backpressureTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_pauses_total",
			Help:      "Total number of inter-chunk backpressure pauses",
		},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 节点指标
	c.nodeSelections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_selections_total",
			Help:      "Total number of node selections",
		},
		[]string{"strategy", "node"},
	)

	c.nodeRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_requests_total",
			Help:      "Total number of requests recorded per node",
		},
		[]string{"node", "status"},
	)

	c.nodeResponseTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_response_time_seconds",
			Help:      "Node response time in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"node"},
	)

	c.nodeAdaptive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_adaptive_weight",
			Help:      "Current adaptive weight of a node",
		},
		[]string{"node"},
	)

	c.nodeHealthy = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_healthy",
			Help:      "1 if the node is selectable, 0 otherwise",
		},
		[]string{"node"},
	)

	// 监控指标
	c.alertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of performance alerts",
		},
		[]string{"type", "severity"},
	)

	c.heapInUse = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_in_use_megabytes",
			Help:      "Most recently sampled heap usage in MB",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// 📦 批处理指标记录
// =============================================================================

// RecordBatch 记录一次批处理
func (c *Collector) RecordBatch(status string, duration time.Duration, throughput float64, success, failure, duplicates int) {
	c.batchesTotal.WithLabelValues(status).Inc()
	c.batchDuration.Observe(duration.Seconds())
	c.batchThroughput.Set(throughput)
	c.itemsTotal.WithLabelValues("success").Add(float64(success))
	c.itemsTotal.WithLabelValues("failure").Add(float64(failure))
	c.duplicatesSkipped.Add(float64(duplicates))
}

// RecordItem 记录单个工作项
func (c *Collector) RecordItem(duration time.Duration, retries int) {
	c.itemDuration.Observe(duration.Seconds())
	if retries > 0 {
		c.itemRetries.Add(float64(retries))
	}
}

// ItemStarted / ItemFinished 维护在途工作项数
func (c *Collector) ItemStarted() {
	c.inflightItems.Inc()
}

func (c *Collector) ItemFinished() {
	c.inflightItems.Dec()
}

// RecordBackpressure 记录一次背压暂停
func (c *Collector) RecordBackpressure() {
	c.backpressureTotal.Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// ⚖️ 节点指标记录
// =============================================================================

// RecordNodeSelection 记录节点选择
func (c *Collector) RecordNodeSelection(strategy, nodeID string) {
	c.nodeSelections.WithLabelValues(strategy, nodeID).Inc()
}

// RecordNodeRequest 记录节点请求结果
func (c *Collector) RecordNodeRequest(nodeID string, success bool, responseTime time.Duration, adaptiveWeight float64) {
	c.nodeRequests.WithLabelValues(nodeID, outcome(success)).Inc()
	c.nodeResponseTime.WithLabelValues(nodeID).Observe(responseTime.Seconds())
	c.nodeAdaptive.WithLabelValues(nodeID).Set(adaptiveWeight)
}

// RecordNodeHealth 记录节点是否可选
func (c *Collector) RecordNodeHealth(nodeID string, selectable bool) {
	v := 0.0
	if selectable {
		v = 1
	}
	c.nodeHealthy.WithLabelValues(nodeID).Set(v)
}

// =============================================================================
// 🚨 监控指标记录
// =============================================================================

// RecordAlert 记录告警
func (c *Collector) RecordAlert(alertType, severity string) {
	c.alertsTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordHeapUsage 记录堆内存占用（MB）
func (c *Collector) RecordHeapUsage(mb float64) {
	c.heapInUse.Set(mb)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
