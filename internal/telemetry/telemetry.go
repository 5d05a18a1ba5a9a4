// =============================================================================
// ChronoFlow OpenTelemetry 初始化
// =============================================================================
// 遥测关闭时不创建任何导出器，全局 Provider 保持 noop；
// batch 包的 span 与 engine 包的指标在此情况下不产生开销。
// 开启时资源属性携带引擎拓扑（缓存后端、调度策略、并发度），
// 便于在后端按部署形态筛选批次 span。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/chronoflow/config"
)

// 引擎拓扑资源属性
const (
	AttrCacheBackend     = attribute.Key("chronoflow.cache.backend")
	AttrBalancerStrategy = attribute.Key("chronoflow.balancer.strategy")
	AttrMaxConcurrency   = attribute.Key("chronoflow.batch.max_concurrency")
	AttrChunkSize        = attribute.Key("chronoflow.batch.chunk_size")
)

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider，关闭时两者均为 nil
type Providers struct {
	tp         *sdktrace.TracerProvider
	mp         *sdkmetric.MeterProvider
	instanceID string
}

// Enabled 是否创建了真实的 Provider
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// InstanceID 本进程的 service.instance.id，遥测关闭时为空
func (p *Providers) InstanceID() string {
	if p == nil {
		return ""
	}
	return p.instanceID
}

// Init 按 cfg.Telemetry 初始化 OTel SDK 并注册为全局 Provider
func Init(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	tc := cfg.Telemetry
	if !tc.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	instanceID := uuid.NewString()
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg, instanceID)...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tc.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(tc.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(batchSampler(tc.SampleRate)),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
			sdkmetric.WithResource(res),
		),
		instanceID: instanceID,
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", tc.OTLPEndpoint),
		zap.String("service_name", tc.ServiceName),
		zap.String("instance_id", instanceID),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Float64("sample_rate", clampRate(tc.SampleRate)),
	)
	return p, nil
}

// resourceAttributes 服务标识加引擎拓扑；均衡器未启用时不带策略属性
func resourceAttributes(cfg *config.Config, instanceID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.Telemetry.ServiceName),
		semconv.ServiceVersionKey.String(buildVersion()),
		semconv.ServiceInstanceIDKey.String(instanceID),
		AttrCacheBackend.String(cfg.Cache.Backend),
		AttrMaxConcurrency.Int(cfg.Batch.MaxConcurrency),
		AttrChunkSize.Int(cfg.Batch.ChunkSize),
	}
	if cfg.Balancer.Enabled {
		attrs = append(attrs, AttrBalancerStrategy.String(cfg.Balancer.Strategy))
	}
	return attrs
}

// batchSampler 批次根 span 按比例采样，子 span（块）跟随父级决定
func batchSampler(rate float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRate(rate)))
}

// Shutdown 刷新并关闭导出器；noop Provider 上调用安全
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func clampRate(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// buildVersion 从构建信息读取模块版本，缺省为 dev
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
