// MockConverter 批处理转换器的测试模拟实现。
//
// 支持固定延迟、按 payload 注入错误与调用计数。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chronoflow/batch"
)

// MockConverter 是 batch.Converter 的模拟实现
type MockConverter struct {
	mu sync.Mutex

	delay   time.Duration
	failFor map[string]error
	fn      func(payload any, outputSpec []string) (any, error)
	calls   []batch.ConvertContext

	active atomic.Int32
	peak   atomic.Int32
}

// NewMockConverter 创建 MockConverter，默认返回 "converted:<payload>"
func NewMockConverter() *MockConverter {
	return &MockConverter{failFor: make(map[string]error)}
}

// WithDelay 每次调用前等待
func (m *MockConverter) WithDelay(d time.Duration) *MockConverter {
	m.delay = d
	return m
}

// WithError 指定 payload 的调用返回错误
func (m *MockConverter) WithError(payload any, err error) *MockConverter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[fmt.Sprint(payload)] = err
	return m
}

// WithFunc 自定义转换结果
func (m *MockConverter) WithFunc(fn func(payload any, outputSpec []string) (any, error)) *MockConverter {
	m.fn = fn
	return m
}

// Convert 实现 batch.Converter
func (m *MockConverter) Convert(ctx context.Context, payload any, outputSpec []string, cc batch.ConvertContext) (any, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, cc)
	err := m.failFor[fmt.Sprint(payload)]
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if m.fn != nil {
		return m.fn(payload, outputSpec)
	}
	return fmt.Sprintf("converted:%v", payload), nil
}

// CallCount 返回调用次数
func (m *MockConverter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回每次调用的上下文副本
func (m *MockConverter) Calls() []batch.ConvertContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]batch.ConvertContext(nil), m.calls...)
}

// PeakConcurrency 返回观测到的最大并发调用数
func (m *MockConverter) PeakConcurrency() int {
	return int(m.peak.Load())
}

// Reset 清空调用记录
func (m *MockConverter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.peak.Store(0)
}
