package balancer

import "time"

// Config 负载均衡配置
type Config struct {
	Strategy            Strategy      `yaml:"strategy" json:"strategy"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
	// AdaptiveAlpha 自适应权重 EMA 系数
	AdaptiveAlpha float64 `yaml:"adaptive_alpha" json:"adaptive_alpha"`
	// DegradedErrorRate 健康检查通过但错误率不低于该值时标记为 degraded
	DegradedErrorRate float64      `yaml:"degraded_error_rate" json:"degraded_error_rate"`
	Nodes             []WorkerNode `yaml:"nodes" json:"nodes"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyAdaptive,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		AdaptiveAlpha:       0.1,
		DegradedErrorRate:   0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.AdaptiveAlpha <= 0 || c.AdaptiveAlpha > 1 {
		c.AdaptiveAlpha = d.AdaptiveAlpha
	}
	if c.DegradedErrorRate <= 0 {
		c.DegradedErrorRate = d.DegradedErrorRate
	}
	return c
}

const (
	minAdaptiveWeight = 0.1
	maxAdaptiveWeight = 2.0

	historyLimit      = 1000
	historyTrimTo     = 500
	performanceWindow = 100
	errorWindow       = 20
	errorWindowAge    = 5 * time.Minute

	defaultResponseTime = time.Second
	maxAlternatives     = 3
)
