package monitor

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chronoflow/internal/metrics"
)

const bytesPerMB = 1024 * 1024

// MemoryReader 返回当前堆内存占用（MB）
type MemoryReader func() float64

// AlertHandler 告警回调
type AlertHandler func(PerformanceAlert)

// Monitor 性能监控器
// 快照与告警在内存中按保留窗口保存，仅在写入时清理。
type Monitor struct {
	config     Config
	logger     *zap.Logger
	collector  *metrics.Collector
	readMemory MemoryReader
	now        func() time.Time

	mu        sync.RWMutex
	snapshots []PerformanceMetric
	alerts    []PerformanceAlert

	listenerMu sync.RWMutex
	listeners  map[uint64]AlertHandler
	nextID     uint64

	samplerMu   sync.Mutex
	stopCh      chan struct{}
	samplerWG   sync.WaitGroup
	memoryAbove bool
}

// Option 配置 Monitor
type Option func(*Monitor)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCollector 同步记录到 Prometheus
func WithCollector(c *metrics.Collector) Option {
	return func(m *Monitor) { m.collector = c }
}

// WithMemoryReader 替换内存采样函数
func WithMemoryReader(r MemoryReader) Option {
	return func(m *Monitor) {
		if r != nil {
			m.readMemory = r
		}
	}
}

// New 创建监控器
func New(config Config, opts ...Option) *Monitor {
	m := &Monitor{
		config:     config.withDefaults(),
		logger:     zap.NewNop(),
		readMemory: heapMB,
		now:        time.Now,
		listeners:  make(map[uint64]AlertHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "performance_monitor"))
	return m
}

// Config 返回生效配置
func (m *Monitor) Config() Config {
	return m.config
}

// RecordBatchMetrics 写入一条批次快照，按阈值评估并同步触发告警
func (m *Monitor) RecordBatchMetrics(in BatchMetricsInput) []PerformanceAlert {
	now := m.now()
	snap := PerformanceMetric{
		Timestamp:      now,
		BatchID:        in.BatchID,
		BatchSize:      in.Size,
		ProcessingTime: in.ProcessingTime,
		MemoryUsageMB:  m.readMemory(),
		Concurrency:    in.Concurrency,
		Cache:          in.Cache,
	}
	if in.ProcessingTime > 0 {
		snap.Throughput = float64(in.Size) / in.ProcessingTime.Seconds()
	}
	if in.Size > 0 {
		snap.ErrorRate = float64(in.ErrorCount) / float64(in.Size) * 100
		snap.RetryRate = float64(in.RetryCount) / float64(in.Size) * 100
	}

	alerts := m.evaluate(snap)

	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	m.alerts = append(m.alerts, alerts...)
	m.purgeLocked(now)
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordHeapUsage(snap.MemoryUsageMB)
	}
	m.logger.Debug("batch metrics recorded",
		zap.String("batch_id", in.BatchID),
		zap.Float64("throughput", snap.Throughput),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Float64("memory_mb", snap.MemoryUsageMB),
		zap.Int("alerts", len(alerts)))

	m.dispatch(alerts)
	return alerts
}

// evaluate 五项独立检查
func (m *Monitor) evaluate(s PerformanceMetric) []PerformanceAlert {
	t := m.config.Thresholds
	var alerts []PerformanceAlert

	if a, ok := m.checkMemory(s.BatchID, s.MemoryUsageMB, s.Timestamp); ok {
		alerts = append(alerts, a)
	}

	if t.MinThroughputPerSecond > 0 && s.BatchSize > 0 && s.ProcessingTime > 0 && s.Throughput < t.MinThroughputPerSecond {
		sev := SeverityMedium
		if s.Throughput < t.MinThroughputPerSecond*0.5 {
			sev = SeverityHigh
		}
		alerts = append(alerts, m.newAlert(s.BatchID, s.Timestamp, AlertThroughput, sev,
			fmt.Sprintf("throughput %.2f items/s below minimum %.2f", s.Throughput, t.MinThroughputPerSecond),
			t.MinThroughputPerSecond, s.Throughput,
			"increase max concurrency", "enable caching for repeated inputs"))
	}

	if t.MaxErrorRatePercent > 0 && s.ErrorRate > t.MaxErrorRatePercent {
		sev := SeverityHigh
		if s.ErrorRate > t.MaxErrorRatePercent*2 {
			sev = SeverityCritical
		}
		alerts = append(alerts, m.newAlert(s.BatchID, s.Timestamp, AlertErrorRate, sev,
			fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", s.ErrorRate, t.MaxErrorRatePercent),
			t.MaxErrorRatePercent, s.ErrorRate,
			"validate inputs before submission", "inspect converter failures"))
	}

	latencyMs := float64(s.ProcessingTime) / float64(time.Millisecond)
	maxMs := float64(t.MaxLatency) / float64(time.Millisecond)
	if maxMs > 0 && latencyMs > maxMs {
		sev := SeverityMedium
		if latencyMs > maxMs*2 {
			sev = SeverityHigh
		}
		alerts = append(alerts, m.newAlert(s.BatchID, s.Timestamp, AlertLatency, sev,
			fmt.Sprintf("batch took %s, above %s", s.ProcessingTime, t.MaxLatency),
			maxMs, latencyMs,
			"reduce chunk size", "split large batches"))
	}

	hitPct := s.Cache.HitRate * 100
	if t.MinCacheHitRatePercent > 0 && s.Cache.Enabled && hitPct < t.MinCacheHitRatePercent {
		alerts = append(alerts, m.newAlert(s.BatchID, s.Timestamp, AlertCache, SeverityLow,
			fmt.Sprintf("cache hit rate %.1f%% below %.1f%%", hitPct, t.MinCacheHitRatePercent),
			t.MinCacheHitRatePercent, hitPct,
			"increase cache TTL", "normalize inputs to improve reuse"))
	}

	return alerts
}

func (m *Monitor) checkMemory(batchID string, mb float64, ts time.Time) (PerformanceAlert, bool) {
	limit := m.config.Thresholds.MaxMemoryUsageMB
	if limit <= 0 || mb <= limit {
		return PerformanceAlert{}, false
	}
	sev := SeverityHigh
	if mb > limit*1.5 {
		sev = SeverityCritical
	}
	return m.newAlert(batchID, ts, AlertMemory, sev,
		fmt.Sprintf("heap usage %.1fMB exceeds %.1fMB", mb, limit),
		limit, mb,
		"reduce chunk size", "lower max concurrency"), true
}

func (m *Monitor) newAlert(batchID string, ts time.Time, typ AlertType, sev Severity, msg string, threshold, actual float64, recs ...string) PerformanceAlert {
	return PerformanceAlert{
		ID:              uuid.NewString(),
		Timestamp:       ts,
		BatchID:         batchID,
		Severity:        sev,
		Type:            typ,
		Message:         msg,
		Threshold:       threshold,
		ActualValue:     actual,
		Recommendations: recs,
	}
}

// purgeLocked 按年龄与数量清理，调用方持有 m.mu
func (m *Monitor) purgeLocked(now time.Time) {
	cutoff := now.Add(-m.config.Retention)

	i := 0
	for i < len(m.snapshots) && m.snapshots[i].Timestamp.Before(cutoff) {
		i++
	}
	if over := len(m.snapshots) - i - m.config.MaxSnapshots; over > 0 {
		i += over
	}
	if i > 0 {
		m.snapshots = append([]PerformanceMetric(nil), m.snapshots[i:]...)
	}

	j := 0
	for j < len(m.alerts) && m.alerts[j].Timestamp.Before(cutoff) {
		j++
	}
	if over := len(m.alerts) - j - m.config.MaxAlerts; over > 0 {
		j += over
	}
	if j > 0 {
		m.alerts = append([]PerformanceAlert(nil), m.alerts[j:]...)
	}
}

// OnAlert 订阅告警，返回取消订阅函数
func (m *Monitor) OnAlert(h AlertHandler) func() {
	m.listenerMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = h
	m.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenerMu.Lock()
			delete(m.listeners, id)
			m.listenerMu.Unlock()
		})
	}
}

func (m *Monitor) dispatch(alerts []PerformanceAlert) {
	if len(alerts) == 0 {
		return
	}

	m.listenerMu.RLock()
	handlers := make([]AlertHandler, 0, len(m.listeners))
	for _, h := range m.listeners {
		handlers = append(handlers, h)
	}
	m.listenerMu.RUnlock()

	for _, a := range alerts {
		if m.collector != nil {
			m.collector.RecordAlert(string(a.Type), string(a.Severity))
		}
		m.logger.Warn("performance alert",
			zap.String("alert_id", a.ID),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message))
		for _, h := range handlers {
			m.invoke(h, a)
		}
	}
}

func (m *Monitor) invoke(h AlertHandler, a PerformanceAlert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alert handler panicked",
				zap.String("alert_id", a.ID),
				zap.Any("panic", r))
		}
	}()
	h(a)
}

// StartMonitoring 启动后台内存采样，interval<=0 使用配置值；重复调用无效
func (m *Monitor) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = m.config.SampleInterval
	}

	m.samplerMu.Lock()
	defer m.samplerMu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	stop := m.stopCh

	m.samplerWG.Add(1)
	go func() {
		defer m.samplerWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()

	m.logger.Info("monitoring started", zap.Duration("interval", interval))
}

// StopMonitoring 停止后台采样并等待其退出
func (m *Monitor) StopMonitoring() {
	m.samplerMu.Lock()
	if m.stopCh == nil {
		m.samplerMu.Unlock()
		return
	}
	close(m.stopCh)
	m.stopCh = nil
	m.samplerMu.Unlock()

	m.samplerWG.Wait()
	m.logger.Info("monitoring stopped")
}

// sample 批次之间的内存漂移检测，只在越过阈值时告警一次
func (m *Monitor) sample() {
	mb := m.readMemory()
	if m.collector != nil {
		m.collector.RecordHeapUsage(mb)
	}

	now := m.now()
	alert, above := m.checkMemory("system", mb, now)

	m.mu.Lock()
	rising := above && !m.memoryAbove
	m.memoryAbove = above
	if rising {
		m.alerts = append(m.alerts, alert)
		m.purgeLocked(now)
	}
	m.mu.Unlock()

	if rising {
		m.dispatch([]PerformanceAlert{alert})
	}
}

// Snapshots 返回保留中的快照副本
func (m *Monitor) Snapshots() []PerformanceMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PerformanceMetric(nil), m.snapshots...)
}

// Alerts 返回保留中的告警副本
func (m *Monitor) Alerts() []PerformanceAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PerformanceAlert(nil), m.alerts...)
}

func heapMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / bytesPerMB
}
