package balancer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chronoflow/internal/metrics"
	"github.com/BaSui01/chronoflow/types"
)

var (
	ErrNoAvailableNodes = errors.New("no available nodes")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNodeExists       = errors.New("node already registered")
	ErrInvalidNode      = errors.New("invalid node")
)

// requestRecord 一次请求结果
type requestRecord struct {
	nodeID       string
	responseTime time.Duration
	success      bool
	size         int
	at           time.Time
}

// nodeState 节点及其内部统计
type nodeState struct {
	node                WorkerNode
	requests            int64
	adaptiveWeight      float64
	consecutiveFailures int
}

// Balancer 节点注册表与选择器
// 所有节点状态的读改写都在 mu 保护下完成。
type Balancer struct {
	config    Config
	prober    Prober
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	strategy Strategy
	order    []string
	nodes    map[string]*nodeState
	history  []requestRecord

	runMu  sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option 配置 Balancer
type Option func(*Balancer)

// WithProber 设置健康探测器
func WithProber(p Prober) Option {
	return func(b *Balancer) { b.prober = p }
}

// WithCollector 记录 Prometheus 指标
func WithCollector(c *metrics.Collector) Option {
	return func(b *Balancer) { b.collector = c }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(b *Balancer) {
		if l != nil {
			b.logger = l
		}
	}
}

// New 创建负载均衡器并注册配置中的节点
func New(config Config, opts ...Option) (*Balancer, error) {
	config = config.withDefaults()
	parsed, err := ParseStrategy(string(config.Strategy))
	if err != nil {
		return nil, err
	}
	config.Strategy = parsed

	b := &Balancer{
		config:   config,
		logger:   zap.NewNop(),
		now:      time.Now,
		strategy: config.Strategy,
		nodes:    make(map[string]*nodeState),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.prober == nil {
		b.prober = NewHTTPProber(config.HealthCheckTimeout)
	}
	b.logger = b.logger.With(zap.String("component", "load_balancer"))

	for _, n := range config.Nodes {
		if err := b.AddNode(n); err != nil {
			return nil, fmt.Errorf("register node %q: %w", n.ID, err)
		}
	}
	return b, nil
}

// Strategy 返回当前策略
func (b *Balancer) Strategy() Strategy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.strategy
}

// SetStrategy 切换策略
func (b *Balancer) SetStrategy(s Strategy) error {
	parsed, err := ParseStrategy(string(s))
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.strategy = parsed
	b.mu.Unlock()
	return nil
}

// AddNode 注册节点；状态为空时视为 healthy
func (b *Balancer) AddNode(node WorkerNode) error {
	if node.ID == "" || node.Capacity <= 0 {
		return fmt.Errorf("%w: id and positive capacity required", ErrInvalidNode)
	}
	if node.Status == "" {
		node.Status = StatusHealthy
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[node.ID]; ok {
		return ErrNodeExists
	}
	n := node.clone()
	b.nodes[node.ID] = &nodeState{node: n, adaptiveWeight: 1.0}
	b.order = append(b.order, node.ID)

	b.logger.Info("node added",
		zap.String("node_id", node.ID),
		zap.String("endpoint", node.Endpoint),
		zap.Int("capacity", node.Capacity))
	return nil
}

// RemoveNode 注销节点
func (b *Balancer) RemoveNode(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	delete(b.nodes, id)
	for i, nid := range b.order {
		if nid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.logger.Info("node removed", zap.String("node_id", id))
	return nil
}

// UpdateNodeStatus 手动设置节点状态，立即影响后续选择
func (b *Balancer) UpdateNodeStatus(id string, status NodeStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	st.node.Status = status
	if status == StatusHealthy {
		st.consecutiveFailures = 0
	}
	b.recordHealthLocked(st)
	return nil
}

// Node 返回节点副本
func (b *Balancer) Node(id string) (WorkerNode, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.nodes[id]
	if !ok {
		return WorkerNode{}, false
	}
	return st.node.clone(), true
}

// Nodes 按注册顺序返回所有节点副本
func (b *Balancer) Nodes() []WorkerNode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]WorkerNode, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.nodes[id].node.clone())
	}
	return out
}

// AdaptiveWeight 返回节点的自适应权重，未知节点返回 0
func (b *Balancer) AdaptiveWeight(id string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.nodes[id]; ok {
		return st.adaptiveWeight
	}
	return 0
}

// SelectNode 为工作负载选择最佳节点，并将其 CurrentLoad 加一
// 没有可用节点时返回 NO_AVAILABLE_NODES，调用方可稍后重试。
func (b *Balancer) SelectNode(ctx context.Context, w Workload) (*Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.eligibleLocked(w)
	if len(candidates) == 0 {
		b.logger.Warn("no eligible node",
			zap.Int("registered", len(b.order)),
			zap.Strings("required_capabilities", w.RequiredCapabilities))
		return nil, types.NewError(types.ErrNoAvailableNodes, "no eligible node for workload").
			WithCause(ErrNoAvailableNodes).
			WithRetryable(true).
			WithDetail("registered_nodes", len(b.order))
	}

	scored, reason := b.scoreLocked(candidates, w)

	best := 0
	var sum float64
	for i, s := range scored {
		sum += s.score
		if s.score > scored[best].score {
			best = i
		}
	}
	chosen := scored[best].state

	confidence := 1.0 / float64(len(scored))
	if sum > 0 {
		confidence = scored[best].score / sum
	}

	alternatives := make([]scoredNode, 0, len(scored)-1)
	for i, s := range scored {
		if i != best {
			alternatives = append(alternatives, s)
		}
	}
	sort.SliceStable(alternatives, func(i, j int) bool {
		return alternatives[i].score > alternatives[j].score
	})
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	sel := &Selection{
		Reason:                  reason,
		Confidence:              confidence,
		EstimatedCompletionTime: estimateCompletion(&chosen.node),
	}
	for _, a := range alternatives {
		sel.AlternativeNodes = append(sel.AlternativeNodes, a.state.node.clone())
	}

	chosen.node.CurrentLoad++
	chosen.requests++
	sel.SelectedNode = chosen.node.clone()
	sel.LoadDistribution = b.loadDistributionLocked()

	if b.collector != nil {
		b.collector.RecordNodeSelection(string(b.strategy), chosen.node.ID)
	}
	b.logger.Debug("node selected",
		zap.String("node_id", chosen.node.ID),
		zap.String("strategy", string(b.strategy)),
		zap.Float64("confidence", confidence),
		zap.String("reason", reason))
	return sel, nil
}

// eligibleLocked 过滤条件每次读取实时状态
func (b *Balancer) eligibleLocked(w Workload) []*nodeState {
	var out []*nodeState
	for _, id := range b.order {
		st := b.nodes[id]
		n := &st.node
		if !n.Status.selectable() || n.CurrentLoad >= n.Capacity || !n.HasCapabilities(w.RequiredCapabilities) {
			continue
		}
		out = append(out, st)
	}
	return out
}

func (b *Balancer) loadDistributionLocked() map[string]float64 {
	dist := make(map[string]float64, len(b.nodes))
	for id, st := range b.nodes {
		dist[id] = float64(st.node.CurrentLoad) / float64(st.node.Capacity)
	}
	return dist
}

func estimateCompletion(n *WorkerNode) time.Duration {
	rt := n.AverageResponseTime
	if rt <= 0 {
		rt = defaultResponseTime
	}
	factor := 1 + float64(n.CurrentLoad)/float64(n.Capacity)
	return time.Duration(float64(rt) * factor)
}

// RecordRequest 记录一次请求结果，更新响应时间、错误率、负载与自适应权重
func (b *Balancer) RecordRequest(nodeID string, responseTime time.Duration, success bool, size int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	now := b.now()
	n := &st.node

	if n.AverageResponseTime == 0 {
		n.AverageResponseTime = responseTime
	} else {
		n.AverageResponseTime = (n.AverageResponseTime + responseTime) / 2
	}
	if n.CurrentLoad > 0 {
		n.CurrentLoad--
	}

	b.history = append(b.history, requestRecord{
		nodeID:       nodeID,
		responseTime: responseTime,
		success:      success,
		size:         size,
		at:           now,
	})
	if len(b.history) > historyLimit {
		b.history = append([]requestRecord(nil), b.history[len(b.history)-historyTrimTo:]...)
	}

	n.ErrorRate = b.errorRateLocked(nodeID, now)
	st.adaptiveWeight = b.nextAdaptiveWeightLocked(st)

	if b.collector != nil {
		b.collector.RecordNodeRequest(nodeID, success, responseTime, st.adaptiveWeight)
	}
	return nil
}

// errorRateLocked 节点最近 ≤20 次且 5 分钟内的请求失败率
func (b *Balancer) errorRateLocked(nodeID string, now time.Time) float64 {
	cutoff := now.Add(-errorWindowAge)
	total, failed := 0, 0
	for i := len(b.history) - 1; i >= 0 && total < errorWindow; i-- {
		r := b.history[i]
		if r.at.Before(cutoff) {
			break
		}
		if r.nodeID != nodeID {
			continue
		}
		total++
		if !r.success {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
