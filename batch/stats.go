package batch

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// aggregate 批次结束时计算一次统计
func aggregate(results []WorkResult, total int, pl *plan, r *run, elapsed time.Duration) BatchStats {
	stats := BatchStats{
		TotalItems:        total,
		DuplicatesSkipped: pl.dupCount,
		TotalTime:         elapsed,
		ChunksExecuted:    r.chunks,
		Concurrency: ConcurrencyStats{
			MaxConfigured: r.opts.MaxConcurrency,
			Average:       math.Round(r.conc.average()*100) / 100,
			Peak:          r.conc.peakValue(),
		},
		MemoryUsage: readMemoryUsage(),
	}

	// 时间统计只计入实际执行的项，复制给重复项的结果不重复计数
	executed := make(map[int]bool, len(pl.tasks))
	for _, t := range pl.tasks {
		executed[t.index] = true
	}

	var sum time.Duration
	timed := 0
	for i := range results {
		res := &results[i]
		if res.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		if res.CacheHit {
			stats.CacheHits++
		}
		if !executed[res.Index] {
			continue
		}
		stats.RetryCount += res.RetryCount

		sum += res.ProcessingTime
		if timed == 0 || res.ProcessingTime < stats.MinTime {
			stats.MinTime = res.ProcessingTime
		}
		if res.ProcessingTime > stats.MaxTime {
			stats.MaxTime = res.ProcessingTime
		}
		timed++
	}
	if timed > 0 {
		stats.AverageTime = sum / time.Duration(timed)
	}
	if elapsed > 0 {
		stats.Throughput = float64(len(results)) / elapsed.Seconds()
	}
	return stats
}

func readMemoryUsage() MemoryUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryUsage{HeapAlloc: m.HeapAlloc, HeapSys: m.HeapSys, Sys: m.Sys}
}

// concurrencyTracker 记录在途任务数的峰值与平均值
type concurrencyTracker struct {
	active  atomic.Int64
	peak    atomic.Int64
	samples atomic.Int64
	sum     atomic.Int64
}

func (c *concurrencyTracker) enter() {
	n := c.active.Add(1)
	c.samples.Add(1)
	c.sum.Add(n)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (c *concurrencyTracker) leave() {
	c.active.Add(-1)
}

func (c *concurrencyTracker) peakValue() int {
	return int(c.peak.Load())
}

func (c *concurrencyTracker) average() float64 {
	n := c.samples.Load()
	if n == 0 {
		return 0
	}
	return float64(c.sum.Load()) / float64(n)
}
