package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/chronoflow/balancer"
)

// ErrProbeFailed 模拟探测失败
var ErrProbeFailed = errors.New("mock probe failed")

// MockProber 是 balancer.Prober 的模拟实现，默认所有节点健康
type MockProber struct {
	mu     sync.Mutex
	down   map[string]bool
	probes map[string]int
}

// NewMockProber 创建 MockProber
func NewMockProber() *MockProber {
	return &MockProber{
		down:   make(map[string]bool),
		probes: make(map[string]int),
	}
}

// SetDown 设置节点探测结果
func (m *MockProber) SetDown(nodeID string, down bool) *MockProber {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down[nodeID] = down
	return m
}

// Probe 实现 balancer.Prober
func (m *MockProber) Probe(ctx context.Context, node balancer.WorkerNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[node.ID]++
	if m.down[node.ID] {
		return ErrProbeFailed
	}
	return nil
}

// ProbeCount 返回节点被探测的次数
func (m *MockProber) ProbeCount(nodeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes[nodeID]
}
