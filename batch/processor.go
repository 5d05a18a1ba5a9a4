package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/chronoflow/cache"
	"github.com/BaSui01/chronoflow/internal/metrics"
	"github.com/BaSui01/chronoflow/types"
)

var (
	ErrBatchTimeout = errors.New("batch timeout")
	ErrNoConverter  = errors.New("batch processor has no converter")
)

const tracerName = "github.com/BaSui01/chronoflow/batch"

// Config 处理器级配置（跨批次生效）
type Config struct {
	// MemoryHighWaterMark 块间背压阈值（堆内存字节数）
	MemoryHighWaterMark uint64 `yaml:"memory_high_water_mark" json:"memory_high_water_mark"`
	// BackpressurePause 超过阈值时的暂停时长
	BackpressurePause time.Duration `yaml:"backpressure_pause" json:"backpressure_pause"`
}

// DefaultConfig 返回默认处理器配置
func DefaultConfig() Config {
	return Config{
		MemoryHighWaterMark: 512 << 20,
		BackpressurePause:   100 * time.Millisecond,
	}
}

// Processor 自适应批处理器
// 缓存与在途去重表在所有批次间共享
type Processor struct {
	config    Config
	converter Converter
	store     cache.Store
	inflight  *cache.Inflight
	selector  NodeSelector
	progress  ProgressSink
	metrics   *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
	readHeap  func() uint64
}

// Option 配置 Processor
type Option func(*Processor)

// WithCache 设置缓存存储，nil 表示禁用缓存
func WithCache(store cache.Store) Option {
	return func(p *Processor) { p.store = store }
}

// WithInflight 共享外部在途去重表
func WithInflight(f *cache.Inflight) Option {
	return func(p *Processor) {
		if f != nil {
			p.inflight = f
		}
	}
}

// WithNodeSelector 每个工作项执行前选择目标节点
func WithNodeSelector(s NodeSelector) Option {
	return func(p *Processor) { p.selector = s }
}

// WithProgressSink 设置进度回调（需 Options.EnableProgress）
func WithProgressSink(s ProgressSink) Option {
	return func(p *Processor) { p.progress = s }
}

// WithMetrics 设置 Prometheus 指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Processor) { p.metrics = c }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithConfig 设置处理器配置
func WithConfig(c Config) Option {
	return func(p *Processor) { p.config = c }
}

// NewProcessor 创建批处理器
func NewProcessor(converter Converter, opts ...Option) *Processor {
	p := &Processor{
		config:    DefaultConfig(),
		converter: converter,
		inflight:  cache.NewInflight(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		readHeap:  heapAlloc,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "batch_processor"))
	if p.config.BackpressurePause <= 0 {
		p.config.BackpressurePause = DefaultConfig().BackpressurePause
	}
	return p
}

// run 单次批处理的共享状态
type run struct {
	opts     Options
	slots    []*WorkResult
	limiter  *rate.Limiter
	stopped  atomic.Bool
	dropped  atomic.Bool // 有结果因截止而作废
	conc     concurrencyTracker
	progress *progressTracker
	chunks   int
	complete bool // 所有块均已执行（或因失败停止）
}

// ProcessBatch 处理一批工作项
// 返回的结果按原始下标排序；ContinueOnError=false 时未处理的项不出现在结果中。
// 超过 opts.Timeout 返回 TIMEOUT_ERROR，在途任务被放弃。
func (p *Processor) ProcessBatch(ctx context.Context, items []WorkItem, opts Options) (*Outcome, error) {
	if p.converter == nil {
		return nil, ErrNoConverter
	}
	opts = opts.withDefaults()
	batchID := uuid.NewString()
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "batch.process", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", len(items)),
		attribute.Int("batch.max_concurrency", opts.MaxConcurrency),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	pl := buildPlan(items, opts)
	r := &run{
		opts:  opts,
		slots: make([]*WorkResult, len(items)),
	}
	if opts.ItemsPerSecond > 0 {
		burst := int(opts.ItemsPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.ItemsPerSecond), burst)
	}
	if opts.EnableProgress && p.progress != nil {
		r.progress = newProgressTracker(p.progress, len(items), start, p.logger)
	}

	p.logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.Int("items", len(items)),
		zap.Int("tasks", len(pl.tasks)),
		zap.Int("chunks", len(pl.chunks)),
		zap.Int("duplicates", pl.dupCount))

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.execute(runCtx, pl, r)
	}()

	finished := awaitRun(runCtx, done)

	if err := runCtx.Err(); err != nil && !(finished && r.complete) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			p.recordBatch("cancelled", time.Since(start), 0, nil, pl.dupCount)
			return nil, ctxErr
		}
		p.logger.Warn("batch timed out",
			zap.String("batch_id", batchID),
			zap.Duration("timeout", opts.Timeout))
		span.SetStatus(codes.Error, "timeout")
		p.recordBatch("timeout", time.Since(start), 0, nil, pl.dupCount)
		return nil, types.NewError(types.ErrTimeout, "batch deadline exceeded").
			WithCause(ErrBatchTimeout).
			WithDetail("batch_id", batchID).
			WithDetail("timeout", opts.Timeout.String())
	}

	copyDuplicates(items, r.slots, pl.duplicates)
	results := collectResults(r.slots)
	stats := aggregate(results, len(items), pl, r, time.Since(start))

	status := "completed"
	if r.stopped.Load() {
		status = "aborted"
	}
	p.recordBatch(status, stats.TotalTime, stats.Throughput, results, pl.dupCount)
	span.SetAttributes(
		attribute.Int("batch.success", stats.SuccessCount),
		attribute.Int("batch.failure", stats.FailureCount),
		attribute.Int("batch.cache_hits", stats.CacheHits),
	)

	p.logger.Info("batch completed",
		zap.String("batch_id", batchID),
		zap.String("status", status),
		zap.Int("success", stats.SuccessCount),
		zap.Int("failure", stats.FailureCount),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Duration("total_time", stats.TotalTime),
		zap.Float64("throughput", stats.Throughput))

	return &Outcome{BatchID: batchID, Results: results, Stats: stats}, nil
}

// awaitRun 等待执行结束或批次截止；两者同时就绪时以执行结束为准
func awaitRun(runCtx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-runCtx.Done():
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// execute 顺序执行各块，块内受 MaxConcurrency 限制
func (p *Processor) execute(ctx context.Context, pl *plan, r *run) {
	defer func() {
		r.complete = r.stopped.Load() || (r.chunks == len(pl.chunks) && !r.dropped.Load())
	}()
	for i, chunk := range pl.chunks {
		if ctx.Err() != nil || r.stopped.Load() {
			return
		}

		p.runChunk(ctx, i, chunk, pl, r)
		r.chunks++

		if r.stopped.Load() {
			p.logger.Info("batch stopped on first failure", zap.Int("chunk", i))
			return
		}
		if i < len(pl.chunks)-1 {
			p.applyBackpressure(ctx)
		}
	}
}

func (p *Processor) runChunk(ctx context.Context, idx int, chunk []task, pl *plan, r *run) {
	ctx, span := p.tracer.Start(ctx, "batch.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", idx),
		attribute.Int("chunk.size", len(chunk)),
	))
	defer span.End()

	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrency)

	for _, t := range chunk {
		g.Go(func() error {
			if r.stopped.Load() {
				return nil
			}
			if ctx.Err() != nil {
				r.dropped.Store(true)
				return nil
			}

			r.conc.enter()
			res := p.processItem(ctx, t, r)
			r.conc.leave()

			if ctx.Err() != nil && !res.Success {
				// 截止时间已过，结果作废
				r.dropped.Store(true)
				return nil
			}
			r.slots[t.index] = res

			if !res.Success && !r.opts.ContinueOnError {
				r.stopped.Store(true)
			}
			if r.progress != nil {
				r.progress.record(res, 1+len(pl.duplicates[t.index]))
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug("chunk completed",
		zap.Int("chunk", idx),
		zap.Int("size", len(chunk)),
		zap.Int("peak_concurrency", r.conc.peakValue()))
}

// processItem 缓存 → 在途去重 → 转换器（含重试）
func (p *Processor) processItem(ctx context.Context, t task, r *run) *WorkResult {
	start := time.Now()
	res := &WorkResult{
		ID:       t.item.ID,
		Index:    t.index,
		Priority: t.item.Priority.Normalize(),
	}
	defer func() {
		res.ProcessingTime = time.Since(start)
		if p.metrics != nil {
			p.metrics.RecordItem(res.ProcessingTime, res.RetryCount)
		}
	}()

	if t.invalid {
		res.Error = &ItemError{
			Code:    types.ErrInvalidInput,
			Message: "payload is empty",
		}
		return res
	}

	if r.opts.EnableCaching && p.store != nil {
		if entry, err := p.store.Get(ctx, t.signature); err == nil {
			res.Success = true
			res.Value = entry.Value
			res.CacheHit = true
			p.recordCache(true)
			return res
		} else if !cache.IsCacheMiss(err) {
			p.logger.Warn("cache lookup failed", zap.Int("index", t.index), zap.Error(err))
		}
		p.recordCache(false)
	}

	budget := r.opts.retryBudget()
	var lastErr error
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			res.RetryCount = attempt
			if r.opts.RetryDelay > 0 {
				select {
				case <-ctx.Done():
					lastErr = ctx.Err()
					res.Error = toItemError(lastErr, attempt)
					return res
				case <-time.After(r.opts.RetryDelay):
				}
			}
			p.logger.Debug("retrying item",
				zap.Int("index", t.index),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		value, nodeID, err := p.resolve(ctx, t, attempt, r)
		res.NodeID = nodeID
		if err == nil {
			res.Success = true
			res.Value = value
			res.Error = nil
			return res
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	res.Error = toItemError(lastErr, res.RetryCount+1)
	return res
}

type resolved struct {
	value  any
	nodeID string
}

// resolve 在途去重包装：同签名的并发请求只触发一次 invoke
func (p *Processor) resolve(ctx context.Context, t task, attempt int, r *run) (any, string, error) {
	call := func() (any, error) {
		v, nodeID, err := p.invoke(ctx, t, attempt, r)
		if err != nil {
			return resolved{nodeID: nodeID}, err
		}
		return resolved{value: v, nodeID: nodeID}, nil
	}

	var (
		out any
		err error
	)
	if r.opts.EnableDeduplication && t.signature != "" {
		out, err, _ = p.inflight.Do(ctx, t.signature, call)
	} else {
		out, err = call()
	}

	res, _ := out.(resolved)
	return res.value, res.nodeID, err
}

// invoke 选择节点、限速、调用转换器并写缓存
func (p *Processor) invoke(ctx context.Context, t task, attempt int, r *run) (value any, nodeID string, err error) {
	// 限速等待期间不占用节点负载
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	if p.selector != nil {
		nodeID, err = p.selector.Select(ctx, *t.item)
		if err != nil {
			return nil, "", err
		}
	}

	if p.metrics != nil {
		p.metrics.ItemStarted()
		defer p.metrics.ItemFinished()
	}

	start := time.Now()
	value, err = p.safeConvert(ctx, t, attempt, nodeID, r.opts.Params)
	if p.selector != nil && nodeID != "" {
		p.selector.Report(nodeID, time.Since(start), err == nil, 1)
	}
	if err != nil {
		return nil, nodeID, err
	}

	if r.opts.EnableCaching && p.store != nil && t.signature != "" {
		if err := p.store.Set(ctx, t.signature, value, r.opts.CacheTTL); err != nil {
			p.logger.Warn("cache store failed", zap.Int("index", t.index), zap.Error(err))
		}
	}
	return value, nodeID, nil
}

// safeConvert 调用转换器并将 panic 转为错误
func (p *Processor) safeConvert(ctx context.Context, t task, attempt int, nodeID string, params map[string]any) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("converter panicked", zap.Int("index", t.index), zap.Any("panic", rec))
			err = types.NewError(types.ErrConversion, fmt.Sprintf("converter panicked: %v", rec))
		}
	}()

	return p.converter.Convert(ctx, t.item.Payload, t.item.OutputSpec, ConvertContext{
		ItemID:   t.item.ID,
		Index:    t.index,
		Attempt:  attempt,
		NodeID:   nodeID,
		Metadata: t.item.Metadata,
		Params:   params,
	})
}

// applyBackpressure 块间检查堆内存，超过阈值时暂停并触发 GC
func (p *Processor) applyBackpressure(ctx context.Context) {
	if p.config.MemoryHighWaterMark == 0 {
		return
	}
	heap := p.readHeap()
	if heap <= p.config.MemoryHighWaterMark {
		return
	}

	p.logger.Warn("memory above high-water mark, pausing",
		zap.Uint64("heap_alloc", heap),
		zap.Uint64("high_water_mark", p.config.MemoryHighWaterMark),
		zap.Duration("pause", p.config.BackpressurePause))
	if p.metrics != nil {
		p.metrics.RecordBackpressure()
	}

	runtime.GC()
	select {
	case <-ctx.Done():
	case <-time.After(p.config.BackpressurePause):
	}
}

func (p *Processor) recordCache(hit bool) {
	if p.metrics == nil {
		return
	}
	if hit {
		p.metrics.RecordCacheHit("batch")
	} else {
		p.metrics.RecordCacheMiss("batch")
	}
}

func (p *Processor) recordBatch(status string, d time.Duration, throughput float64, results []WorkResult, dups int) {
	if p.metrics == nil {
		return
	}
	success, failure := 0, 0
	for i := range results {
		if results[i].Success {
			success++
		} else {
			failure++
		}
	}
	p.metrics.RecordBatch(status, d, throughput, success, failure, dups)
}

// toItemError 将错误映射为工作项错误；未分类错误记为 CONVERSION_ERROR
func toItemError(err error, attempts int) *ItemError {
	if err == nil {
		err = errors.New("unknown error")
	}
	ie := &ItemError{
		Code:    types.ErrConversion,
		Message: err.Error(),
		Details: map[string]any{"attempts": attempts},
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		ie.Code = typed.Code
		ie.Message = typed.Message
		for k, v := range typed.Details {
			ie.Details[k] = v
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		ie.Code = types.ErrTimeout
	}
	return ie
}

// copyDuplicates 将主项结果复制给其重复项（保留各自 ID / Index / Priority）
func copyDuplicates(items []WorkItem, slots []*WorkResult, duplicates map[int][]int) {
	for primary, dups := range duplicates {
		src := slots[primary]
		if src == nil {
			continue
		}
		for _, d := range dups {
			cp := *src
			cp.ID = items[d].ID
			cp.Index = d
			cp.Priority = items[d].Priority.Normalize()
			slots[d] = &cp
		}
	}
}

func collectResults(slots []*WorkResult) []WorkResult {
	results := make([]WorkResult, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	return results
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
