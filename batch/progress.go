package batch

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// progressTracker 串行化进度回调，回调 panic 被捕获
type progressTracker struct {
	mu        sync.Mutex
	sink      ProgressSink
	total     int
	start     time.Time
	completed int
	errors    int
	cacheHits int
	logger    *zap.Logger
}

func newProgressTracker(sink ProgressSink, total int, start time.Time, logger *zap.Logger) *progressTracker {
	return &progressTracker{sink: sink, total: total, start: start, logger: logger}
}

func (t *progressTracker) record(res *WorkResult, weight int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed += weight
	if !res.Success {
		t.errors += weight
	}
	if res.CacheHit {
		t.cacheHits += weight
	}

	elapsed := time.Since(t.start)
	var throughput float64
	if elapsed > 0 {
		throughput = float64(t.completed) / elapsed.Seconds()
	}
	var eta time.Duration
	if throughput > 0 && t.completed < t.total {
		eta = time.Duration(float64(t.total-t.completed) / throughput * float64(time.Second))
	}
	percentage := 100.0
	if t.total > 0 {
		percentage = float64(t.completed) / float64(t.total) * 100
	}

	snapshot := Progress{
		Completed:              t.completed,
		Total:                  t.total,
		Percentage:             percentage,
		EstimatedTimeRemaining: eta,
		CurrentThroughput:      throughput,
		Errors:                 t.errors,
		CacheHits:              t.cacheHits,
	}

	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("progress sink panicked", zap.Any("panic", rec))
		}
	}()
	t.sink.OnProgress(snapshot)
}
