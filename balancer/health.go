package balancer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/chronoflow/internal/tlsutil"
)

// Prober 节点健康探测
type Prober interface {
	Probe(ctx context.Context, node WorkerNode) error
}

// ProberFunc 函数适配器
type ProberFunc func(ctx context.Context, node WorkerNode) error

// Probe 实现 Prober
func (f ProberFunc) Probe(ctx context.Context, node WorkerNode) error {
	return f(ctx, node)
}

// HTTPProber 通过 GET {endpoint}/health 探测，2xx 视为健康
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber 创建 HTTP 探测器
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: tlsutil.ProbeClient(timeout)}
}

// Probe 实现 Prober
func (p *HTTPProber) Probe(ctx context.Context, node WorkerNode) error {
	if node.Endpoint == "" {
		return fmt.Errorf("node %s has no endpoint", node.ID)
	}
	url := strings.TrimRight(node.Endpoint, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// PerformHealthChecks 并发探测所有节点并更新状态
// 失败一次标记为 unhealthy，连续第二次失败标记为 offline，成功恢复为 healthy
// （错误率不低于 DegradedErrorRate 时为 degraded）。
func (b *Balancer) PerformHealthChecks(ctx context.Context) {
	nodes := b.Nodes()
	if len(nodes) == 0 {
		return
	}

	results := make([]error, len(nodes))
	var g errgroup.Group
	for i, n := range nodes {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, b.config.HealthCheckTimeout)
			defer cancel()
			results[i] = b.prober.Probe(probeCtx, n)
			return nil
		})
	}
	_ = g.Wait()

	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range nodes {
		st, ok := b.nodes[n.ID]
		if !ok {
			// 探测期间被移除
			continue
		}
		prev := st.node.Status
		st.node.LastHealthCheck = now

		if err := results[i]; err != nil {
			st.consecutiveFailures++
			if st.consecutiveFailures >= 2 {
				st.node.Status = StatusOffline
			} else {
				st.node.Status = StatusUnhealthy
			}
			b.logger.Warn("node health check failed",
				zap.String("node_id", n.ID),
				zap.Int("consecutive_failures", st.consecutiveFailures),
				zap.Error(err))
		} else {
			st.consecutiveFailures = 0
			if st.node.ErrorRate >= b.config.DegradedErrorRate {
				st.node.Status = StatusDegraded
			} else {
				st.node.Status = StatusHealthy
			}
		}

		if prev != st.node.Status {
			b.logger.Info("node status changed",
				zap.String("node_id", n.ID),
				zap.String("from", string(prev)),
				zap.String("to", string(st.node.Status)))
		}
		b.recordHealthLocked(st)
	}
}

func (b *Balancer) recordHealthLocked(st *nodeState) {
	if b.collector != nil {
		b.collector.RecordNodeHealth(st.node.ID, st.node.Status.selectable())
	}
}

// StartHealthChecks 按 HealthCheckInterval 周期执行健康检查；重复调用无效
func (b *Balancer) StartHealthChecks(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.stopCh != nil {
		return
	}
	b.stopCh = make(chan struct{})
	stop := b.stopCh

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.config.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				b.PerformHealthChecks(ctx)
			}
		}
	}()

	b.logger.Info("health checks started", zap.Duration("interval", b.config.HealthCheckInterval))
}

// Stop 停止健康检查并等待退出
func (b *Balancer) Stop() {
	b.runMu.Lock()
	if b.stopCh == nil {
		b.runMu.Unlock()
		return
	}
	close(b.stopCh)
	b.stopCh = nil
	b.runMu.Unlock()

	b.wg.Wait()
}
