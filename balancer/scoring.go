package balancer

import (
	"fmt"
	"time"

	"github.com/BaSui01/chronoflow/types"
)

// scoredNode 候选节点及得分（越高越好）
type scoredNode struct {
	state *nodeState
	score float64
}

// scoreLocked 按当前策略为候选节点打分，返回顺序与 candidates 一致
func (b *Balancer) scoreLocked(candidates []*nodeState, w Workload) ([]scoredNode, string) {
	scored := make([]scoredNode, 0, len(candidates))
	add := func(f func(st *nodeState) float64) {
		for _, st := range candidates {
			scored = append(scored, scoredNode{state: st, score: f(st)})
		}
	}

	switch b.strategy {
	case StrategyRoundRobin:
		add(func(st *nodeState) float64 { return 1 / (1 + float64(st.requests)) })
		return scored, "round_robin: fewest requests served"

	case StrategyLeastConnections:
		add(func(st *nodeState) float64 { return 1 / (1 + float64(st.node.CurrentLoad)) })
		return scored, "least_connections: lowest current load"

	case StrategyWeightedRoundRobin:
		add(func(st *nodeState) float64 {
			return float64(st.node.Capacity*st.node.Priority) / float64(st.node.CurrentLoad+1)
		})
		return scored, "weighted_round_robin: capacity x priority / (load + 1)"

	case StrategyLeastResponseTime:
		add(func(st *nodeState) float64 { return inverseResponseTime(st.node.AverageResponseTime) })
		return scored, "least_response_time: lowest average response time"

	case StrategyGeographic:
		if w.Region != "" {
			var local []*nodeState
			for _, st := range candidates {
				if st.node.Region == w.Region {
					local = append(local, st)
				}
			}
			if len(local) > 0 {
				candidates = local
				add(func(st *nodeState) float64 { return baseScore(&st.node, w) })
				return scored, fmt.Sprintf("geographic: same region %s", w.Region)
			}
		}
		add(func(st *nodeState) float64 { return baseScore(&st.node, w) })
		return scored, "geographic: no node in region, global best"

	default:
		now := b.now()
		add(func(st *nodeState) float64 {
			return baseScore(&st.node, w) * st.adaptiveWeight * workloadAdjustment(&st.node, w, now)
		})
		return scored, "adaptive: weighted score x adaptive weight"
	}
}

// baseScore 容量余量、响应时间、错误率、优先级、能力匹配、健康状态的加权和
func baseScore(n *WorkerNode, w Workload) float64 {
	headroom := float64(n.Capacity-n.CurrentLoad) / float64(n.Capacity)
	capability := 0.5
	if n.HasCapabilities(w.RequiredCapabilities) {
		capability = 1.0
	}

	return headroom*0.30 +
		inverseResponseTime(n.AverageResponseTime)*0.25 +
		(1-n.ErrorRate)*0.20 +
		float64(n.Priority)/10*0.10 +
		capability*0.10 +
		n.Status.healthScore()*0.05
}

// workloadAdjustment 工作负载相关的乘数
func workloadAdjustment(n *WorkerNode, w Workload, now time.Time) float64 {
	adj := 1.0
	switch w.Priority {
	case types.PriorityCritical:
		if n.Priority > 8 {
			adj *= 1.2
		}
	case types.PriorityLow:
		if n.Priority < 5 {
			adj *= 0.8
		}
	}
	if w.Complexity > 0.8 && n.Capacity > 80 {
		adj *= 1.1
	}
	if !w.Deadline.IsZero() && w.Deadline.Sub(now) <= 30*time.Second && n.AverageResponseTime < time.Second {
		adj *= 1.3
	}
	return adj
}

func inverseResponseTime(rt time.Duration) float64 {
	ms := float64(rt) / float64(time.Millisecond)
	return 1 / (1 + ms/1000)
}

// nextAdaptiveWeightLocked 以节点最近表现为目标做指数滑动平均，结果限制在 [0.1, 2.0]
// 目标值 = 2.0 × 成功率 / (1 + 平均响应秒数)，全部成功且低延迟的节点趋近 2.0。
func (b *Balancer) nextAdaptiveWeightLocked(st *nodeState) float64 {
	start := len(b.history) - performanceWindow
	if start < 0 {
		start = 0
	}

	total, succeeded := 0, 0
	var rt time.Duration
	for _, r := range b.history[start:] {
		if r.nodeID != st.node.ID {
			continue
		}
		total++
		rt += r.responseTime
		if r.success {
			succeeded++
		}
	}
	if total == 0 {
		return st.adaptiveWeight
	}

	successRate := float64(succeeded) / float64(total)
	avg := rt / time.Duration(total)
	target := maxAdaptiveWeight * successRate * inverseResponseTime(avg)

	alpha := b.config.AdaptiveAlpha
	weight := (1-alpha)*st.adaptiveWeight + alpha*target
	return clamp(weight, minAdaptiveWeight, maxAdaptiveWeight)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
