// =============================================================================
// 📦 ChronoFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("chronoflow.yaml").
//	    WithEnvPrefix("CHRONOFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ChronoFlow 的完整配置结构
type Config struct {
	// Batch 批处理默认选项
	Batch BatchConfig `yaml:"batch" env:"BATCH"`

	// Cache 缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 共享缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Monitor 性能监控配置
	Monitor MonitorConfig `yaml:"monitor" env:"MONITOR"`

	// Balancer 负载均衡配置
	Balancer BalancerConfig `yaml:"balancer" env:"BALANCER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// BatchConfig 批处理配置
type BatchConfig struct {
	// 块内最大并发
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 分块大小
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 整批超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单项失败后是否继续
	ContinueOnError bool `yaml:"continue_on_error" env:"CONTINUE_ON_ERROR"`
	// 是否启用结果缓存
	EnableCaching bool `yaml:"enable_caching" env:"ENABLE_CACHING"`
	// 是否启用去重
	EnableDeduplication bool `yaml:"enable_deduplication" env:"ENABLE_DEDUPLICATION"`
	// 是否按优先级排序
	EnablePrioritization bool `yaml:"enable_prioritization" env:"ENABLE_PRIORITIZATION"`
	// 是否重试失败项
	RetryFailedItems bool `yaml:"retry_failed_items" env:"RETRY_FAILED_ITEMS"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 结果缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 每秒最多处理的项数，0 表示不限速
	ItemsPerSecond float64 `yaml:"items_per_second" env:"ITEMS_PER_SECOND"`
	// 是否回调进度
	EnableProgress bool `yaml:"enable_progress" env:"ENABLE_PROGRESS"`
	// 块间背压阈值（字节）
	MemoryHighWaterMark uint64 `yaml:"memory_high_water_mark" env:"MEMORY_HIGH_WATER_MARK"`
	// 背压暂停时长
	BackpressurePause time.Duration `yaml:"backpressure_pause" env:"BACKPRESSURE_PAUSE"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	// 后端: memory, redis, tiered, none
	Backend string `yaml:"backend" env:"BACKEND"`
	// 本地缓存最大条目数
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// 默认 TTL
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 过期清理间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// MonitorConfig 性能监控配置
type MonitorConfig struct {
	// 是否在后台采样内存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 堆内存上限（MB）
	MaxMemoryUsageMB float64 `yaml:"max_memory_usage_mb" env:"MAX_MEMORY_USAGE_MB"`
	// 最低吞吐量（items/s）
	MinThroughputPerSecond float64 `yaml:"min_throughput_per_second" env:"MIN_THROUGHPUT_PER_SECOND"`
	// 最大错误率（%）
	MaxErrorRatePercent float64 `yaml:"max_error_rate_percent" env:"MAX_ERROR_RATE_PERCENT"`
	// 单批最大耗时
	MaxLatency time.Duration `yaml:"max_latency" env:"MAX_LATENCY"`
	// 最低缓存命中率（%）
	MinCacheHitRatePercent float64 `yaml:"min_cache_hit_rate_percent" env:"MIN_CACHE_HIT_RATE_PERCENT"`
	// 快照与告警保留时长
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// 最多保留快照数
	MaxSnapshots int `yaml:"max_snapshots" env:"MAX_SNAPSHOTS"`
	// 最多保留告警数
	MaxAlerts int `yaml:"max_alerts" env:"MAX_ALERTS"`
	// 趋势计算使用的快照数
	TrendWindow int `yaml:"trend_window" env:"TREND_WINDOW"`
	// 生成建议时参考的最近快照数
	RecommendationWindow int `yaml:"recommendation_window" env:"RECOMMENDATION_WINDOW"`
	// 后台采样间隔
	SampleInterval time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
}

// BalancerConfig 负载均衡配置
type BalancerConfig struct {
	// 是否为每个工作项选择节点
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 策略: round_robin, least_connections, weighted_round_robin,
	// least_response_time, geographic, adaptive
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 单次探测超时
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT"`
	// 自适应权重 EMA 系数
	AdaptiveAlpha float64 `yaml:"adaptive_alpha" env:"ADAPTIVE_ALPHA"`
	// 探测通过但错误率不低于该值时标记为 degraded（0..1）
	DegradedErrorRate float64 `yaml:"degraded_error_rate" env:"DEGRADED_ERROR_RATE"`
	// 节点列表（仅支持 YAML）
	Nodes []NodeConfig `yaml:"nodes" env:"-"`
}

// NodeConfig 工作节点配置
type NodeConfig struct {
	ID           string   `yaml:"id"`
	Endpoint     string   `yaml:"endpoint"`
	Capacity     int      `yaml:"capacity"`
	Region       string   `yaml:"region"`
	Priority     int      `yaml:"priority"`
	Capabilities []string `yaml:"capabilities"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// HTTP 监听地址，空表示不暴露
	Addr string `yaml:"addr" env:"ADDR"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHRONOFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 按 env tag 递归覆盖字段，键为 PREFIX_SECTION_FIELD
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// setFieldValue 将字符串解析为字段类型
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var validBackends = map[string]bool{"memory": true, "redis": true, "tiered": true, "none": true}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Batch.MaxConcurrency <= 0 {
		errs = append(errs, "batch.max_concurrency must be positive")
	}
	if c.Batch.ChunkSize <= 0 {
		errs = append(errs, "batch.chunk_size must be positive")
	}
	if c.Batch.Timeout <= 0 {
		errs = append(errs, "batch.timeout must be positive")
	}
	if c.Batch.MaxRetries < 0 {
		errs = append(errs, "batch.max_retries must not be negative")
	}
	if c.Batch.ItemsPerSecond < 0 {
		errs = append(errs, "batch.items_per_second must not be negative")
	}

	if !validBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	if (c.Cache.Backend == "redis" || c.Cache.Backend == "tiered") && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required for redis cache backend")
	}

	if c.Monitor.MaxErrorRatePercent < 0 || c.Monitor.MaxErrorRatePercent > 100 {
		errs = append(errs, "monitor.max_error_rate_percent must be within [0, 100]")
	}
	if c.Monitor.MinCacheHitRatePercent < 0 || c.Monitor.MinCacheHitRatePercent > 100 {
		errs = append(errs, "monitor.min_cache_hit_rate_percent must be within [0, 100]")
	}

	if _, err := c.Balancer.Build(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Balancer.DegradedErrorRate < 0 || c.Balancer.DegradedErrorRate > 1 {
		errs = append(errs, "balancer.degraded_error_rate must be within [0, 1]")
	}

	if c.Telemetry.Enabled && (c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1) {
		errs = append(errs, "telemetry.sample_rate must be within [0, 1]")
	}

	if len(errs) > 0 {
		return errors.New("config validation errors: " + strings.Join(errs, "; "))
	}
	return nil
}
