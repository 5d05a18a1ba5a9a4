package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/BaSui01/chronoflow/balancer"
	"github.com/BaSui01/chronoflow/batch"
	"github.com/BaSui01/chronoflow/cache"
	"github.com/BaSui01/chronoflow/config"
	"github.com/BaSui01/chronoflow/internal/metrics"
	"github.com/BaSui01/chronoflow/monitor"
)

const meterName = "github.com/BaSui01/chronoflow/engine"

// Deps 外部注入的协作者，Converter 必填
type Deps struct {
	Converter batch.Converter
	// Store 非 nil 时覆盖 cache.backend
	Store cache.Store
	// Prober 为 nil 时使用 HTTP 探测
	Prober balancer.Prober
	// Collector 为 nil 且 metrics.enabled 时自动创建
	Collector *metrics.Collector
	Progress  batch.ProgressSink
	Logger    *zap.Logger
}

// Options 单次批处理选项
type Options struct {
	batch.Options
	// IncludeRecommendations 报告中附带优化建议
	IncludeRecommendations bool
}

// Report ProcessBatch 的返回值
type Report struct {
	*batch.Outcome
	Alerts          []monitor.PerformanceAlert           `json:"alerts,omitempty"`
	Recommendations []monitor.OptimizationRecommendation `json:"recommendations,omitempty"`
}

// Engine 串联批处理器、性能监控与负载均衡
type Engine struct {
	config    *config.Config
	processor *batch.Processor
	monitor   *monitor.Monitor
	balancer  *balancer.Balancer
	store     cache.Store
	collector *metrics.Collector
	logger    *zap.Logger

	itemCounter   metric.Int64Counter
	batchDuration metric.Float64Histogram

	cancel    context.CancelFunc
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// New 按配置组装引擎；ctx 仅用于初始化阶段（如 Redis 连通性检查）
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Converter == nil {
		return nil, fmt.Errorf("create engine: %w", batch.ErrNoConverter)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:    cfg,
		collector: deps.Collector,
		logger:    logger.With(zap.String("component", "engine")),
	}
	if e.collector == nil && cfg.Metrics.Enabled {
		e.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	// 后台任务（缓存清理、健康检查）的生命周期跟随引擎
	bgCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	if deps.Store != nil {
		e.store = deps.Store
	} else {
		store, err := e.buildStore(ctx, bgCtx)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	e.monitor = monitor.New(cfg.Monitor.Build(),
		monitor.WithLogger(logger),
		monitor.WithCollector(e.collector),
	)
	if cfg.Monitor.Enabled {
		e.monitor.StartMonitoring(cfg.Monitor.SampleInterval)
		e.closers = append(e.closers, func() error {
			e.monitor.StopMonitoring()
			return nil
		})
	}

	procOpts := []batch.Option{
		batch.WithConfig(cfg.Batch.Processor()),
		batch.WithCache(e.store),
		batch.WithMetrics(e.collector),
		batch.WithLogger(logger),
		batch.WithProgressSink(deps.Progress),
	}

	if cfg.Balancer.Enabled {
		lb, err := e.buildBalancer(bgCtx, deps.Prober)
		if err != nil {
			return nil, err
		}
		e.balancer = lb
		procOpts = append(procOpts, batch.WithNodeSelector(&nodeSelector{lb: lb}))
	}

	e.processor = batch.NewProcessor(deps.Converter, procOpts...)

	if err := e.initInstruments(); err != nil {
		return nil, err
	}

	ok = true
	e.logger.Info("engine created",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("balancer", cfg.Balancer.Enabled),
		zap.Bool("monitoring", cfg.Monitor.Enabled),
	)
	return e, nil
}

// buildStore 按 cache.backend 创建缓存存储，none 返回 nil
func (e *Engine) buildStore(ctx, bgCtx context.Context) (cache.Store, error) {
	cfg := e.config
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "redis":
		remote, err := e.newRedis(ctx)
		if err != nil {
			return nil, err
		}
		return remote, nil
	case "tiered":
		remote, err := e.newRedis(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewTieredStore(e.newMemory(bgCtx), remote, e.logger), nil
	default:
		return e.newMemory(bgCtx), nil
	}
}

func (e *Engine) newMemory(bgCtx context.Context) *cache.MemoryStore {
	local := cache.NewMemoryStore(e.config.Cache.Memory(), e.logger)
	local.StartSweeper(bgCtx)
	e.closers = append(e.closers, func() error {
		err := local.Close()
		local.Wait()
		return err
	})
	return local
}

func (e *Engine) newRedis(ctx context.Context) (*cache.RedisStore, error) {
	remote, err := cache.NewRedisStore(ctx, e.config.Redis.Store(e.config.Cache.DefaultTTL), e.logger)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	e.closers = append(e.closers, remote.Close)
	return remote, nil
}

func (e *Engine) buildBalancer(bgCtx context.Context, prober balancer.Prober) (*balancer.Balancer, error) {
	bcfg, err := e.config.Balancer.Build()
	if err != nil {
		return nil, err
	}

	opts := []balancer.Option{
		balancer.WithLogger(e.logger),
		balancer.WithCollector(e.collector),
	}
	if prober != nil {
		opts = append(opts, balancer.WithProber(prober))
	}

	lb, err := balancer.New(bcfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create balancer: %w", err)
	}
	lb.StartHealthChecks(bgCtx)
	e.closers = append(e.closers, func() error {
		lb.Stop()
		return nil
	})
	return lb, nil
}

// initInstruments 注册 OTel 指标，未初始化 SDK 时为 noop
func (e *Engine) initInstruments() error {
	meter := otel.Meter(meterName)

	var err error
	e.itemCounter, err = meter.Int64Counter("chronoflow.batch.items",
		metric.WithDescription("Work items processed, by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create item counter: %w", err)
	}

	e.batchDuration, err = meter.Float64Histogram("chronoflow.batch.duration",
		metric.WithDescription("Batch wall-clock duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create batch duration histogram: %w", err)
	}
	return nil
}

// DefaultOptions 返回配置文件中的批处理选项
func (e *Engine) DefaultOptions() Options {
	return Options{Options: e.config.Batch.Options()}
}

// ProcessBatch 执行批处理并把结果喂给性能监控
func (e *Engine) ProcessBatch(ctx context.Context, items []batch.WorkItem, opts Options) (*Report, error) {
	start := time.Now()
	outcome, err := e.processor.ProcessBatch(ctx, items, opts.Options)
	if err != nil {
		e.batchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", "error")))
		return nil, err
	}

	stats := outcome.Stats
	e.itemCounter.Add(ctx, int64(stats.SuccessCount), metric.WithAttributes(attribute.String("outcome", "success")))
	e.itemCounter.Add(ctx, int64(stats.FailureCount), metric.WithAttributes(attribute.String("outcome", "failure")))
	e.batchDuration.Record(ctx, stats.TotalTime.Seconds(),
		metric.WithAttributes(attribute.String("status", "ok")))

	report := &Report{Outcome: outcome}
	if stats.TotalItems == 0 {
		return report, nil
	}

	report.Alerts = e.monitor.RecordBatchMetrics(e.metricsInput(outcome, opts.Options))
	if opts.IncludeRecommendations {
		report.Recommendations = e.monitor.GetPerformanceAnalytics(0).Recommendations
	}
	return report, nil
}

// metricsInput 把批次统计转换为监控输入
func (e *Engine) metricsInput(outcome *batch.Outcome, opts batch.Options) monitor.BatchMetricsInput {
	stats := outcome.Stats
	in := monitor.BatchMetricsInput{
		BatchID:        outcome.BatchID,
		Size:           stats.TotalItems,
		ProcessingTime: stats.TotalTime,
		SuccessCount:   stats.SuccessCount,
		ErrorCount:     stats.FailureCount,
		RetryCount:     stats.RetryCount,
		// 批次结束时无活跃任务
		Concurrency: monitor.ConcurrencyStats{
			Peak:    stats.Concurrency.Peak,
			Average: stats.Concurrency.Average,
		},
	}
	if opts.EnableCaching && e.store != nil {
		ss := e.store.Stats()
		in.Cache = monitor.CacheStats{
			Enabled:   true,
			HitRate:   float64(stats.CacheHits) / float64(stats.TotalItems),
			Size:      ss.Size,
			Evictions: ss.Evictions,
		}
	}
	return in
}

// Monitor 返回性能监控
func (e *Engine) Monitor() *monitor.Monitor {
	return e.monitor
}

// Balancer 返回负载均衡器，未启用时为 nil
func (e *Engine) Balancer() *balancer.Balancer {
	return e.balancer
}

// Collector 返回 Prometheus 收集器，未启用时为 nil
func (e *Engine) Collector() *metrics.Collector {
	return e.collector
}

// Close 停止后台任务并释放缓存连接，可重复调用
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		// 逆序关闭
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		if e.cancel != nil {
			e.cancel()
		}
		e.closeErr = errors.Join(errs...)
		e.logger.Info("engine closed")
	})
	return e.closeErr
}
