// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BaSui01/chronoflow/batch"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertResultsOrdered 断言结果按原始提交位置排列
func AssertResultsOrdered(t *testing.T, results []batch.WorkResult) {
	t.Helper()
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result[%d] has index %d", i, r.Index)
		}
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// TimestampItems 生成 n 个互不相同的时间戳工作项
func TimestampItems(n int, base int64, outputs ...string) []batch.WorkItem {
	if len(outputs) == 0 {
		outputs = []string{"iso"}
	}
	items := make([]batch.WorkItem, n)
	for i := range items {
		items[i] = batch.WorkItem{
			ID:         fmt.Sprintf("item-%d", i),
			Payload:    base + int64(i),
			OutputSpec: outputs,
		}
	}
	return items
}
