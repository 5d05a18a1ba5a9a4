package balancer

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/chronoflow/types"
)

// NodeStatus 节点健康状态
type NodeStatus string

const (
	StatusHealthy   NodeStatus = "healthy"
	StatusDegraded  NodeStatus = "degraded"
	StatusUnhealthy NodeStatus = "unhealthy"
	StatusOffline   NodeStatus = "offline"
)

// selectable unhealthy / offline 节点不参与选择
func (s NodeStatus) selectable() bool {
	return s != StatusUnhealthy && s != StatusOffline
}

func (s NodeStatus) healthScore() float64 {
	switch s {
	case StatusHealthy:
		return 1.0
	case StatusDegraded:
		return 0.7
	case StatusUnhealthy:
		return 0.3
	default:
		return 0
	}
}

// WorkerNode 工作节点
type WorkerNode struct {
	ID                  string        `json:"id" yaml:"id"`
	Endpoint            string        `json:"endpoint" yaml:"endpoint"`
	Capacity            int           `json:"capacity" yaml:"capacity"`
	CurrentLoad         int           `json:"current_load" yaml:"-"`
	AverageResponseTime time.Duration `json:"average_response_time" yaml:"-"`
	ErrorRate           float64       `json:"error_rate" yaml:"-"` // 0..1
	Status              NodeStatus    `json:"status" yaml:"status"`
	Capabilities        []string      `json:"capabilities,omitempty" yaml:"capabilities"`
	Region              string        `json:"region,omitempty" yaml:"region"`
	Priority            int           `json:"priority" yaml:"priority"` // 0..10
	LastHealthCheck     time.Time     `json:"last_health_check" yaml:"-"`
}

// HasCapabilities 判断节点是否具备全部能力
func (n *WorkerNode) HasCapabilities(required []string) bool {
	for _, r := range required {
		found := false
		for _, c := range n.Capabilities {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (n *WorkerNode) clone() WorkerNode {
	cp := *n
	cp.Capabilities = append([]string(nil), n.Capabilities...)
	return cp
}

// Strategy 节点评分策略
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyLeastConnections   Strategy = "least_connections"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	StrategyLeastResponseTime  Strategy = "least_response_time"
	StrategyGeographic         Strategy = "geographic"
	StrategyAdaptive           Strategy = "adaptive"
)

// ParseStrategy 解析策略名，空值为 adaptive
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyAdaptive, nil
	case StrategyRoundRobin, StrategyLeastConnections, StrategyWeightedRoundRobin,
		StrategyLeastResponseTime, StrategyGeographic, StrategyAdaptive:
		return st, nil
	default:
		return "", fmt.Errorf("unknown balancing strategy %q", s)
	}
}

// Workload 待分配工作的特征
type Workload struct {
	Priority             types.Priority
	RequiredCapabilities []string
	Region               string
	Complexity           float64 // 0..1
	Deadline             time.Time
	Size                 int
}

// Selection SelectNode 的返回值
type Selection struct {
	SelectedNode            WorkerNode         `json:"selected_node"`
	Reason                  string             `json:"reason"`
	Confidence              float64            `json:"confidence"`
	AlternativeNodes        []WorkerNode       `json:"alternative_nodes,omitempty"`
	EstimatedCompletionTime time.Duration      `json:"estimated_completion_time"`
	LoadDistribution        map[string]float64 `json:"load_distribution"`
}
