package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/chronoflow/balancer"
	"github.com/BaSui01/chronoflow/batch"
	"github.com/BaSui01/chronoflow/config"
	"github.com/BaSui01/chronoflow/monitor"
	"github.com/BaSui01/chronoflow/testutil"
	"github.com/BaSui01/chronoflow/testutil/mocks"
	"github.com/BaSui01/chronoflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// testConfig 只保留缓存命中率与错误率两项检查，避免机器负载影响结果
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Batch.RetryDelay = time.Millisecond
	cfg.Batch.MaxRetries = 0
	cfg.Monitor.MaxMemoryUsageMB = 0
	cfg.Monitor.MinThroughputPerSecond = 0
	cfg.Monitor.MaxLatency = 0
	cfg.Monitor.MinCacheHitRatePercent = 50
	cfg.Monitor.MaxErrorRatePercent = 10
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, deps Deps) *Engine {
	t.Helper()
	if deps.Converter == nil {
		deps.Converter = mocks.NewMockConverter()
	}
	deps.Logger = zaptest.NewLogger(t)

	e, err := New(testutil.TestContext(t), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func alertTypes(alerts []monitor.PerformanceAlert) []monitor.AlertType {
	out := make([]monitor.AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

// =============================================================================
// 🏗️ 组装
// =============================================================================

func TestNew_RequiresConverter(t *testing.T) {
	_, err := New(context.Background(), testConfig(), Deps{})
	assert.ErrorIs(t, err, batch.ErrNoConverter)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = "memcached"

	_, err := New(context.Background(), cfg, Deps{Converter: mocks.NewMockConverter()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cache backend")
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	e, err := New(context.Background(), nil, Deps{Converter: mocks.NewMockConverter()})
	require.NoError(t, err)
	defer e.Close()

	assert.Nil(t, e.Balancer())
	assert.NotNil(t, e.Monitor())
	assert.NotNil(t, e.Collector())
	assert.Equal(t, config.DefaultBatchConfig().ChunkSize, e.DefaultOptions().ChunkSize)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = -1

	_, err := New(context.Background(), cfg, Deps{Converter: mocks.NewMockConverter()})
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Enabled = true
	cfg.Monitor.SampleInterval = 10 * time.Millisecond

	e, err := New(context.Background(), cfg, Deps{Converter: mocks.NewMockConverter()})
	require.NoError(t, err)

	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

// =============================================================================
// 🚀 批处理流程
// =============================================================================

func TestProcessBatch_FeedsMonitor(t *testing.T) {
	conv := mocks.NewMockConverter()
	e := newTestEngine(t, testConfig(), Deps{Converter: conv})
	ctx := testutil.TestContext(t)

	items := testutil.TimestampItems(4, 1700000000)
	opts := e.DefaultOptions()

	// 首批全部未命中，缓存命中率告警
	report, err := e.ProcessBatch(ctx, items, opts)
	require.NoError(t, err)
	require.Len(t, report.Results, 4)
	testutil.AssertResultsOrdered(t, report.Results)
	assert.Equal(t, 4, report.Stats.SuccessCount)
	assert.Equal(t, []monitor.AlertType{monitor.AlertCache}, alertTypes(report.Alerts))

	assert.Equal(t, 4, conv.CallCount())
	conv.Reset()

	// 第二批全部命中缓存，转换器不再被调用
	report, err = e.ProcessBatch(ctx, items, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Stats.CacheHits)
	assert.Empty(t, report.Alerts)
	assert.Zero(t, conv.CallCount())
	assert.Zero(t, conv.PeakConcurrency())

	snaps := e.Monitor().Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, report.BatchID, snaps[1].BatchID)
	assert.InDelta(t, 1.0, snaps[1].Cache.HitRate, 1e-9)
	assert.True(t, snaps[1].Cache.Enabled)
}

func TestProcessBatch_CachingDisabledSkipsCacheCheck(t *testing.T) {
	e := newTestEngine(t, testConfig(), Deps{})

	opts := e.DefaultOptions()
	opts.EnableCaching = false

	report, err := e.ProcessBatch(testutil.TestContext(t), testutil.TimestampItems(3, 1), opts)
	require.NoError(t, err)
	assert.Empty(t, report.Alerts)
	assert.False(t, e.Monitor().Snapshots()[0].Cache.Enabled)
}

func TestProcessBatch_ErrorRateAndRecommendations(t *testing.T) {
	boom := errors.New("boom")
	conv := mocks.NewMockConverter().WithError(int64(1), boom).WithError(int64(2), boom)
	cfg := testConfig()
	cfg.Cache.Backend = "none"
	e := newTestEngine(t, cfg, Deps{Converter: conv})

	alerts := make(chan monitor.PerformanceAlert, 4)
	unsubscribe := e.Monitor().OnAlert(func(a monitor.PerformanceAlert) { alerts <- a })
	defer unsubscribe()

	opts := e.DefaultOptions()
	opts.IncludeRecommendations = true

	report, err := e.ProcessBatch(testutil.TestContext(t), testutil.TimestampItems(4, 0), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.FailureCount)

	delivered, ok := testutil.WaitForChannel(alerts, time.Second)
	require.True(t, ok)
	assert.Equal(t, monitor.AlertErrorRate, delivered.Type)

	// 50% 错误率超过阈值两倍
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, monitor.AlertErrorRate, report.Alerts[0].Type)
	assert.Equal(t, monitor.SeverityCritical, report.Alerts[0].Severity)

	require.NotEmpty(t, report.Recommendations)
	var found bool
	for _, r := range report.Recommendations {
		if r.Priority == monitor.SeverityCritical {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProcessBatch_EmptyBatch(t *testing.T) {
	e := newTestEngine(t, testConfig(), Deps{})

	report, err := e.ProcessBatch(testutil.TestContext(t), nil, e.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, e.Monitor().Snapshots())
}

func TestProcessBatch_TimeoutNotRecorded(t *testing.T) {
	conv := mocks.NewMockConverter().WithDelay(time.Second)
	e := newTestEngine(t, testConfig(), Deps{Converter: conv})

	opts := e.DefaultOptions()
	opts.Timeout = 30 * time.Millisecond

	_, err := e.ProcessBatch(testutil.TestContext(t), testutil.TimestampItems(2, 1), opts)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Empty(t, e.Monitor().Snapshots())
}

func TestProcessBatch_CancelledNotRecorded(t *testing.T) {
	conv := mocks.NewMockConverter()
	e := newTestEngine(t, testConfig(), Deps{Converter: conv})

	_, err := e.ProcessBatch(testutil.CancelledContext(), testutil.TimestampItems(3, 1), e.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.Monitor().Snapshots())
}

func TestProcessBatch_ConcurrencyBound(t *testing.T) {
	conv := mocks.NewMockConverter().
		WithDelay(10 * time.Millisecond).
		WithFunc(func(payload any, outputSpec []string) (any, error) {
			return map[string]any{outputSpec[0]: payload}, nil
		})
	cfg := testConfig()
	cfg.Cache.Backend = "none"
	e := newTestEngine(t, cfg, Deps{Converter: conv})

	opts := e.DefaultOptions()
	opts.MaxConcurrency = 2

	report, err := e.ProcessBatch(testutil.TestContext(t), testutil.TimestampItems(8, 100), opts)
	require.NoError(t, err)
	require.Len(t, report.Results, 8)

	assert.Equal(t, 8, conv.CallCount())
	assert.LessOrEqual(t, conv.PeakConcurrency(), 2)
	assert.Equal(t, map[string]any{"iso": int64(103)}, report.Results[3].Value)
}

func TestEngine_BackgroundMemorySampling(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Enabled = true
	cfg.Monitor.SampleInterval = 5 * time.Millisecond
	cfg.Monitor.MaxMemoryUsageMB = 0.001

	var raised atomic.Int32
	e := newTestEngine(t, cfg, Deps{})
	unsubscribe := e.Monitor().OnAlert(func(a monitor.PerformanceAlert) {
		if a.Type == monitor.AlertMemory && a.BatchID == "system" {
			raised.Add(1)
		}
	})
	defer unsubscribe()

	testutil.AssertEventuallyTrue(t, func() bool { return raised.Load() > 0 }, 2*time.Second)
}

// =============================================================================
// 🗄️ Redis 后端
// =============================================================================

func TestProcessBatch_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, backend := range []string{"redis", "tiered"} {
		t.Run(backend, func(t *testing.T) {
			mr.FlushAll()
			cfg := testConfig()
			cfg.Cache.Backend = backend
			cfg.Redis.Addr = mr.Addr()

			conv := mocks.NewMockConverter()
			e := newTestEngine(t, cfg, Deps{Converter: conv})

			report, err := e.ProcessBatch(testutil.TestContext(t), testutil.TimestampItems(3, 1700000000), e.DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, 3, report.Stats.SuccessCount)

			keys := mr.Keys()
			assert.Len(t, keys, 3)
			for _, k := range keys {
				assert.True(t, strings.HasPrefix(k, cfg.Redis.KeyPrefix))
			}
			assert.Equal(t, 3, conv.CallCount())
		})
	}
}

// =============================================================================
// ⚖️ 节点选择
// =============================================================================

func balancedConfig() *config.Config {
	cfg := testConfig()
	cfg.Balancer.Enabled = true
	cfg.Balancer.Strategy = "least_connections"
	cfg.Balancer.Nodes = []config.NodeConfig{
		{ID: "gpu-1", Capacity: 4, Region: "eu", Capabilities: []string{"gpu"}},
		{ID: "cpu-1", Capacity: 4, Region: "us"},
	}
	return cfg
}

func TestProcessBatch_SelectsNodes(t *testing.T) {
	conv := mocks.NewMockConverter()
	e := newTestEngine(t, balancedConfig(), Deps{Converter: conv, Prober: mocks.NewMockProber()})
	require.NotNil(t, e.Balancer())

	items := []batch.WorkItem{
		{Payload: 1, Metadata: map[string]any{MetaCapabilities: []any{"gpu"}}},
		{Payload: 2},
		{Payload: 3, Metadata: map[string]any{MetaCapabilities: "tpu"}},
	}

	report, err := e.ProcessBatch(testutil.TestContext(t), items, e.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.Equal(t, "gpu-1", report.Results[0].NodeID)
	assert.NotEmpty(t, report.Results[1].NodeID)

	require.False(t, report.Results[2].Success)
	assert.Equal(t, types.ErrNoAvailableNodes, report.Results[2].Error.Code)

	for _, cc := range conv.Calls() {
		assert.NotEmpty(t, cc.NodeID)
	}

	// 回报后负载归零
	for _, n := range e.Balancer().Nodes() {
		assert.Equal(t, 0, n.CurrentLoad, n.ID)
	}
}

func TestProcessBatch_UnhealthyNodeSkipped(t *testing.T) {
	prober := mocks.NewMockProber().SetDown("gpu-1", true)
	e := newTestEngine(t, balancedConfig(), Deps{Prober: prober})

	e.Balancer().PerformHealthChecks(testutil.TestContext(t))
	assert.GreaterOrEqual(t, prober.ProbeCount("gpu-1"), 1)
	assert.GreaterOrEqual(t, prober.ProbeCount("cpu-1"), 1)

	report, err := e.ProcessBatch(testutil.TestContext(t), []batch.WorkItem{{Payload: 1}}, e.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "cpu-1", report.Results[0].NodeID)
}

func TestWorkloadFor(t *testing.T) {
	deadline := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	w := workloadFor(batch.WorkItem{
		Priority: types.PriorityHigh,
		Metadata: map[string]any{
			MetaCapabilities: []string{"gpu", "fp16"},
			MetaRegion:       "eu",
			MetaComplexity:   "0.8",
			MetaDeadline:     deadline.Format(time.RFC3339),
		},
	})
	assert.Equal(t, types.PriorityHigh, w.Priority)
	assert.Equal(t, []string{"gpu", "fp16"}, w.RequiredCapabilities)
	assert.Equal(t, "eu", w.Region)
	assert.InDelta(t, 0.8, w.Complexity, 1e-9)
	assert.True(t, deadline.Equal(w.Deadline))
	assert.Equal(t, 1, w.Size)

	w = workloadFor(batch.WorkItem{Metadata: map[string]any{
		MetaComplexity: []int{1},
		MetaDeadline:   "tomorrow",
		MetaRegion:     42,
	}})
	assert.Equal(t, types.PriorityNormal, w.Priority)
	assert.Zero(t, w.Complexity)
	assert.True(t, w.Deadline.IsZero())
	assert.Empty(t, w.Region)
	assert.Nil(t, w.RequiredCapabilities)
}

func TestNodeSelector_RemovedNodeIgnored(t *testing.T) {
	lb, err := balancer.New(balancer.Config{
		Nodes: []balancer.WorkerNode{{ID: "a", Capacity: 1}},
	}, balancer.WithProber(mocks.NewMockProber()))
	require.NoError(t, err)

	s := &nodeSelector{lb: lb}
	id, err := s.Select(context.Background(), batch.WorkItem{Payload: 1})
	require.NoError(t, err)
	require.Equal(t, "a", id)

	require.NoError(t, lb.RemoveNode("a"))
	assert.NotPanics(t, func() { s.Report("a", time.Millisecond, true, 1) })
}
