package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/chronoflow/cache"
	"github.com/BaSui01/chronoflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// recordingConverter 记录调用次数、调用顺序与在途并发峰值
type recordingConverter struct {
	mu       sync.Mutex
	order    []any
	calls    atomic.Int32
	active   atomic.Int32
	peak     atomic.Int32
	delay    func(payload any) time.Duration
	failWhen func(payload any, attempt int) error
}

func (c *recordingConverter) Convert(ctx context.Context, payload any, _ []string, cc ConvertContext) (any, error) {
	c.calls.Add(1)
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}

	c.mu.Lock()
	c.order = append(c.order, payload)
	c.mu.Unlock()

	if c.delay != nil {
		select {
		case <-time.After(c.delay(payload)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.failWhen != nil {
		if err := c.failWhen(payload, cc.Attempt); err != nil {
			return nil, err
		}
	}
	return fmt.Sprintf("converted:%v", payload), nil
}

func (c *recordingConverter) callOrder() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.order...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = 0
	opts.EnableCaching = false
	return opts
}

func intItems(n int) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{ID: fmt.Sprintf("item-%d", i), Payload: i}
	}
	return items
}

// =============================================================================
// 🧪 顺序与去重
// =============================================================================

func TestProcessBatch_TwoItemsInOrder(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv, WithLogger(zap.NewNop()))

	opts := testOptions()
	opts.MaxConcurrency = 1

	out, err := p.ProcessBatch(context.Background(), []WorkItem{
		{ID: "a", Payload: 1000},
		{ID: "b", Payload: 2000},
	}, opts)
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "a", out.Results[0].ID)
	assert.Equal(t, "b", out.Results[1].ID)
	assert.Equal(t, 2, out.Stats.TotalItems)
	assert.Equal(t, 0, out.Stats.CacheHits)
	assert.NotEmpty(t, out.BatchID)
}

func TestProcessBatch_OrderingWithReversedLatency(t *testing.T) {
	const n = 20
	conv := &recordingConverter{
		delay: func(payload any) time.Duration {
			return time.Duration(n-payload.(int)) * 2 * time.Millisecond
		},
	}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.MaxConcurrency = n

	out, err := p.ProcessBatch(context.Background(), intItems(n), opts)
	require.NoError(t, err)
	require.Len(t, out.Results, n)

	for i, res := range out.Results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, fmt.Sprintf("item-%d", i), res.ID)
		assert.Equal(t, fmt.Sprintf("converted:%d", i), res.Value)
		assert.True(t, res.Success)
	}
}

func TestProcessBatch_DeduplicatesIdenticalItems(t *testing.T) {
	conv := &recordingConverter{delay: func(any) time.Duration { return 5 * time.Millisecond }}
	p := NewProcessor(conv)

	items := make([]WorkItem, 10)
	for i := range items {
		items[i] = WorkItem{ID: fmt.Sprintf("dup-%d", i), Payload: 1700000000, OutputSpec: []string{"iso"}}
	}

	out, err := p.ProcessBatch(context.Background(), items, testOptions())
	require.NoError(t, err)

	assert.Equal(t, int32(1), conv.calls.Load())
	assert.Equal(t, 9, out.Stats.DuplicatesSkipped)
	require.Len(t, out.Results, 10)
	for i, res := range out.Results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, fmt.Sprintf("dup-%d", i), res.ID)
		assert.Equal(t, "converted:1700000000", res.Value)
	}
	assert.Equal(t, 10, out.Stats.SuccessCount)
}

func TestProcessBatch_DedupDisabled(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.EnableDeduplication = false

	items := []WorkItem{{Payload: "x"}, {Payload: "x"}, {Payload: "x"}}
	out, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)

	assert.Equal(t, int32(3), conv.calls.Load())
	assert.Equal(t, 0, out.Stats.DuplicatesSkipped)
}

// =============================================================================
// 🧪 缓存
// =============================================================================

func TestProcessBatch_CacheIdempotence(t *testing.T) {
	store := cache.NewMemoryStore(cache.DefaultMemoryConfig(), zap.NewNop())
	conv := &recordingConverter{}
	p := NewProcessor(conv, WithCache(store))

	opts := testOptions()
	opts.EnableCaching = true
	items := intItems(8)

	first, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(8), conv.calls.Load())
	assert.Equal(t, 0, first.Stats.CacheHits)

	second, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(8), conv.calls.Load(), "second run must not call the converter")
	assert.Equal(t, 8, second.Stats.CacheHits)

	for i := range second.Results {
		assert.True(t, second.Results[i].CacheHit)
		assert.Equal(t, 0, second.Results[i].RetryCount)
		assert.Equal(t, first.Results[i].Value, second.Results[i].Value)
	}
}

func TestProcessBatch_ParamsChangeSignature(t *testing.T) {
	store := cache.NewMemoryStore(cache.DefaultMemoryConfig(), zap.NewNop())
	conv := &recordingConverter{}
	p := NewProcessor(conv, WithCache(store))

	opts := testOptions()
	opts.EnableCaching = true
	items := intItems(1)

	opts.Params = map[string]any{"tz": "UTC"}
	_, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)

	opts.Params = map[string]any{"tz": "Asia/Shanghai"}
	out, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)

	assert.Equal(t, int32(2), conv.calls.Load())
	assert.False(t, out.Results[0].CacheHit)
}

// =============================================================================
// 🧪 并发与分块
// =============================================================================

func TestProcessBatch_ChunksAndConcurrencyBound(t *testing.T) {
	conv := &recordingConverter{delay: func(any) time.Duration { return 5 * time.Millisecond }}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.ChunkSize = 50
	opts.MaxConcurrency = 20

	out, err := p.ProcessBatch(context.Background(), intItems(150), opts)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Stats.ChunksExecuted)
	assert.LessOrEqual(t, int(conv.peak.Load()), 20)
	assert.LessOrEqual(t, out.Stats.Concurrency.Peak, 20)
	assert.Equal(t, 20, out.Stats.Concurrency.MaxConfigured)
	assert.Greater(t, out.Stats.Concurrency.Average, 0.0)
	assert.Len(t, out.Results, 150)
	assert.Equal(t, 150, out.Stats.SuccessCount)
}

func TestProcessBatch_PriorityOrder(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.MaxConcurrency = 1

	items := []WorkItem{
		{ID: "low", Payload: "low", Priority: types.PriorityLow},
		{ID: "critical", Payload: "critical", Priority: types.PriorityCritical},
		{ID: "normal", Payload: "normal"},
		{ID: "high", Payload: "high", Priority: types.PriorityHigh},
	}

	out, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)

	assert.Equal(t, []any{"critical", "high", "normal", "low"}, conv.callOrder())
	assert.Equal(t, 4, out.Stats.ChunksExecuted)

	// 结果仍按提交顺序
	assert.Equal(t, "low", out.Results[0].ID)
	assert.Equal(t, types.PriorityNormal, out.Results[2].Priority)
}

func TestProcessBatch_PriorityCaseInsensitive(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.MaxConcurrency = 1

	items := []WorkItem{
		{Payload: 1, Priority: types.PriorityLow},
		{Payload: 2, Priority: "CRITICAL"},
		{Payload: 3, Priority: types.PriorityCritical},
	}

	out, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)

	assert.Equal(t, []any{2, 3, 1}, conv.callOrder())
	assert.Equal(t, types.PriorityCritical, out.Results[1].Priority)
	assert.Equal(t, 2, out.Stats.ChunksExecuted)
}

func TestProcessBatch_RateLimit(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.ItemsPerSecond = 50

	start := time.Now()
	out, err := p.ProcessBatch(context.Background(), intItems(60), opts)
	require.NoError(t, err)

	// 突发 50 个后，剩余 10 个需约 200ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 60, out.Stats.SuccessCount)
}

func TestProcessBatch_Backpressure(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv, WithConfig(Config{
		MemoryHighWaterMark: 1,
		BackpressurePause:   time.Millisecond,
	}))

	var reads atomic.Int32
	p.readHeap = func() uint64 {
		reads.Add(1)
		return 1 << 30
	}

	opts := testOptions()
	opts.ChunkSize = 5

	out, err := p.ProcessBatch(context.Background(), intItems(15), opts)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Stats.ChunksExecuted)
	// 只在块之间检查
	assert.Equal(t, int32(2), reads.Load())
}

// =============================================================================
// 🧪 失败与重试
// =============================================================================

func TestProcessBatch_RetryThenSucceed(t *testing.T) {
	conv := &recordingConverter{
		failWhen: func(_ any, attempt int) error {
			if attempt < 2 {
				return errors.New("transient")
			}
			return nil
		},
	}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.MaxRetries = 3

	out, err := p.ProcessBatch(context.Background(), intItems(1), opts)
	require.NoError(t, err)

	res := out.Results[0]
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, int32(3), conv.calls.Load())
	assert.Equal(t, 2, out.Stats.RetryCount)
}

func TestProcessBatch_RetryExhausted(t *testing.T) {
	conv := &recordingConverter{
		failWhen: func(any, int) error { return errors.New("bad payload") },
	}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.MaxRetries = 2

	out, err := p.ProcessBatch(context.Background(), intItems(1), opts)
	require.NoError(t, err)

	res := out.Results[0]
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.ErrConversion, res.Error.Code)
	assert.Equal(t, "bad payload", res.Error.Message)
	assert.Equal(t, 3, res.Error.Details["attempts"])
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, int32(3), conv.calls.Load())
	assert.Equal(t, 1, out.Stats.FailureCount)
}

func TestProcessBatch_FailureNotCached(t *testing.T) {
	store := cache.NewMemoryStore(cache.DefaultMemoryConfig(), zap.NewNop())
	var fail atomic.Bool
	fail.Store(true)
	conv := &recordingConverter{
		failWhen: func(any, int) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	}
	p := NewProcessor(conv, WithCache(store))

	opts := testOptions()
	opts.EnableCaching = true
	opts.RetryFailedItems = false

	out, err := p.ProcessBatch(context.Background(), intItems(1), opts)
	require.NoError(t, err)
	assert.False(t, out.Results[0].Success)

	fail.Store(false)
	out, err = p.ProcessBatch(context.Background(), intItems(1), opts)
	require.NoError(t, err)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[0].CacheHit)
}

func TestProcessBatch_ConverterPanic(t *testing.T) {
	p := NewProcessor(ConverterFunc(func(context.Context, any, []string, ConvertContext) (any, error) {
		panic("boom")
	}))

	opts := testOptions()
	opts.RetryFailedItems = false

	out, err := p.ProcessBatch(context.Background(), intItems(2), opts)
	require.NoError(t, err)
	for _, res := range out.Results {
		assert.False(t, res.Success)
		assert.Equal(t, types.ErrConversion, res.Error.Code)
		assert.Contains(t, res.Error.Message, "boom")
	}
}

func TestProcessBatch_InvalidInput(t *testing.T) {
	conv := &recordingConverter{}
	p := NewProcessor(conv)

	items := []WorkItem{{ID: "nil"}, {ID: "empty", Payload: ""}, {ID: "ok", Payload: 5}}
	out, err := p.ProcessBatch(context.Background(), items, testOptions())
	require.NoError(t, err)

	require.Len(t, out.Results, 3)
	assert.Equal(t, types.ErrInvalidInput, out.Results[0].Error.Code)
	assert.Equal(t, types.ErrInvalidInput, out.Results[1].Error.Code)
	assert.True(t, out.Results[2].Success)
	assert.Equal(t, int32(1), conv.calls.Load())
	assert.Equal(t, 2, out.Stats.FailureCount)
}

func TestProcessBatch_StopOnFirstFailure(t *testing.T) {
	conv := &recordingConverter{
		failWhen: func(payload any, _ int) error {
			if payload.(int) == 3 {
				return errors.New("fail at 3")
			}
			return nil
		},
	}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.MaxConcurrency = 1
	opts.ChunkSize = 5
	opts.ContinueOnError = false
	opts.RetryFailedItems = false

	out, err := p.ProcessBatch(context.Background(), intItems(10), opts)
	require.NoError(t, err)

	require.Len(t, out.Results, 4)
	for i, res := range out.Results {
		assert.Equal(t, i, res.Index)
	}
	assert.False(t, out.Results[3].Success)
	assert.Equal(t, 1, out.Stats.ChunksExecuted)
	assert.Equal(t, 10, out.Stats.TotalItems)
	assert.Equal(t, int32(4), conv.calls.Load())
}

// =============================================================================
// 🧪 超时与取消
// =============================================================================

func TestProcessBatch_Timeout(t *testing.T) {
	conv := &recordingConverter{delay: func(any) time.Duration { return time.Second }}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond

	start := time.Now()
	out, err := p.ProcessBatch(context.Background(), intItems(3), opts)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.ErrorIs(t, err, ErrBatchTimeout)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestProcessBatch_RetryWaitBoundedByTimeout(t *testing.T) {
	conv := &recordingConverter{
		failWhen: func(any, int) error { return errors.New("always failing") },
	}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.RetryDelay = 200 * time.Millisecond
	opts.MaxRetries = 5
	opts.Timeout = 50 * time.Millisecond

	start := time.Now()
	out, err := p.ProcessBatch(context.Background(), intItems(1), opts)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrBatchTimeout)
	// 重试等待不得越过批次截止时间
	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, int32(1), conv.calls.Load())
}

func TestProcessBatch_RetryDelaySpacesAttempts(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts []time.Time
	)
	conv := &recordingConverter{
		failWhen: func(any, int) error {
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			return errors.New("transient")
		},
	}
	p := NewProcessor(conv)

	opts := testOptions()
	opts.RetryDelay = 30 * time.Millisecond
	opts.MaxRetries = 2

	out, err := p.ProcessBatch(context.Background(), intItems(1), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Results[0].RetryCount)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3)
	for i := 1; i < len(attempts); i++ {
		assert.GreaterOrEqual(t, attempts[i].Sub(attempts[i-1]), 25*time.Millisecond, "attempt %d", i)
	}
}

func TestAwaitRun_PrefersCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	close(done)

	// 执行结束与截止同时就绪时必须判定为完成
	for i := 0; i < 100; i++ {
		assert.True(t, awaitRun(ctx, done))
	}

	pending := make(chan struct{})
	assert.False(t, awaitRun(ctx, pending))
}

func TestProcessBatch_ParentCancelled(t *testing.T) {
	conv := &recordingConverter{delay: func(any) time.Duration { return time.Second }}
	p := NewProcessor(conv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.ProcessBatch(ctx, intItems(3), testOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessBatch_NoConverter(t *testing.T) {
	p := NewProcessor(nil)
	_, err := p.ProcessBatch(context.Background(), intItems(1), testOptions())
	assert.ErrorIs(t, err, ErrNoConverter)
}

// =============================================================================
// 🧪 进度与节点选择
// =============================================================================

func TestProcessBatch_Progress(t *testing.T) {
	conv := &recordingConverter{}

	var (
		mu        sync.Mutex
		snapshots []Progress
	)
	sink := ProgressFunc(func(pr Progress) {
		mu.Lock()
		snapshots = append(snapshots, pr)
		mu.Unlock()
	})
	p := NewProcessor(conv, WithProgressSink(sink))

	opts := testOptions()
	opts.EnableProgress = true

	// 两个重复项随主项一起计入进度
	items := append(intItems(4), WorkItem{Payload: 0}, WorkItem{Payload: 1})
	_, err := p.ProcessBatch(context.Background(), items, opts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 4)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 6, last.Completed)
	assert.Equal(t, 6, last.Total)
	assert.InDelta(t, 100.0, last.Percentage, 0.001)
	assert.Equal(t, time.Duration(0), last.EstimatedTimeRemaining)
	for i := 1; i < len(snapshots); i++ {
		assert.Greater(t, snapshots[i].Completed, snapshots[i-1].Completed)
	}
}

func TestProcessBatch_ProgressSinkPanicIgnored(t *testing.T) {
	conv := &recordingConverter{}
	sink := ProgressFunc(func(Progress) { panic("sink broke") })
	p := NewProcessor(conv, WithProgressSink(sink))

	opts := testOptions()
	opts.EnableProgress = true

	out, err := p.ProcessBatch(context.Background(), intItems(3), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Stats.SuccessCount)
}

type fakeSelector struct {
	mu      sync.Mutex
	nodeID  string
	err     error
	reports []bool
}

func (s *fakeSelector) Select(context.Context, WorkItem) (string, error) {
	return s.nodeID, s.err
}

func (s *fakeSelector) Report(_ string, _ time.Duration, success bool, _ int) {
	s.mu.Lock()
	s.reports = append(s.reports, success)
	s.mu.Unlock()
}

func TestProcessBatch_NodeSelection(t *testing.T) {
	conv := &recordingConverter{}
	sel := &fakeSelector{nodeID: "node-a"}
	p := NewProcessor(conv, WithNodeSelector(sel))

	out, err := p.ProcessBatch(context.Background(), intItems(3), testOptions())
	require.NoError(t, err)

	for _, res := range out.Results {
		assert.Equal(t, "node-a", res.NodeID)
	}
	sel.mu.Lock()
	defer sel.mu.Unlock()
	assert.Equal(t, []bool{true, true, true}, sel.reports)
}

func TestProcessBatch_NoAvailableNodes(t *testing.T) {
	conv := &recordingConverter{}
	sel := &fakeSelector{err: types.NewError(types.ErrNoAvailableNodes, "no eligible node")}
	p := NewProcessor(conv, WithNodeSelector(sel))

	opts := testOptions()
	opts.RetryFailedItems = false

	out, err := p.ProcessBatch(context.Background(), intItems(2), opts)
	require.NoError(t, err)

	for _, res := range out.Results {
		assert.False(t, res.Success)
		assert.Equal(t, types.ErrNoAvailableNodes, res.Error.Code)
	}
	assert.Equal(t, int32(0), conv.calls.Load())
}

// =============================================================================
// 🧪 属性测试
// =============================================================================

func TestProperty_ResultsOrderedAndDeduplicated(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payloads := rapid.SliceOfN(rapid.IntRange(1, 8), 1, 60).Draw(rt, "payloads")
		concurrency := rapid.IntRange(1, 16).Draw(rt, "concurrency")
		chunk := rapid.IntRange(1, 20).Draw(rt, "chunk")

		conv := &recordingConverter{}
		p := NewProcessor(conv)

		opts := testOptions()
		opts.MaxConcurrency = concurrency
		opts.ChunkSize = chunk

		items := make([]WorkItem, len(payloads))
		distinct := make(map[int]bool)
		for i, v := range payloads {
			items[i] = WorkItem{Payload: v}
			distinct[v] = true
		}

		out, err := p.ProcessBatch(context.Background(), items, opts)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(out.Results) != len(items) {
			rt.Fatalf("got %d results, want %d", len(out.Results), len(items))
		}
		for i, res := range out.Results {
			if res.Index != i {
				rt.Fatalf("result %d has index %d", i, res.Index)
			}
			if res.Value != fmt.Sprintf("converted:%d", payloads[i]) {
				rt.Fatalf("result %d has value %v", i, res.Value)
			}
		}
		if int(conv.calls.Load()) != len(distinct) {
			rt.Fatalf("converter called %d times, want %d", conv.calls.Load(), len(distinct))
		}
		if int(conv.peak.Load()) > concurrency {
			rt.Fatalf("peak %d exceeds %d", conv.peak.Load(), concurrency)
		}
		if out.Stats.DuplicatesSkipped != len(items)-len(distinct) {
			rt.Fatalf("duplicates skipped %d", out.Stats.DuplicatesSkipped)
		}
	})
}
