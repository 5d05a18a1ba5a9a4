package monitor

import (
	"sort"
	"time"
)

// trendThreshold 相对变化超过该比例才视为改善或退化
const trendThreshold = 0.10

// GetPerformanceAnalytics 返回时间窗口内的汇总、趋势、告警与建议
// timeRange 为 0 表示全部保留数据。建议每次重新计算。
func (m *Monitor) GetPerformanceAnalytics(timeRange time.Duration) Analytics {
	m.mu.RLock()
	snaps := append([]PerformanceMetric(nil), m.snapshots...)
	alerts := append([]PerformanceAlert(nil), m.alerts...)
	m.mu.RUnlock()

	if timeRange > 0 {
		cutoff := m.now().Add(-timeRange)
		snaps = filterSnapshots(snaps, cutoff)
		alerts = filterAlerts(alerts, cutoff)
	}

	return Analytics{
		Summary:         summarize(snaps, alerts),
		Trends:          computeTrends(tail(snaps, m.config.TrendWindow)),
		Alerts:          alerts,
		Recommendations: Recommend(tail(snaps, m.config.RecommendationWindow), m.config.Thresholds),
	}
}

func filterSnapshots(snaps []PerformanceMetric, cutoff time.Time) []PerformanceMetric {
	out := snaps[:0]
	for _, s := range snaps {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func filterAlerts(alerts []PerformanceAlert, cutoff time.Time) []PerformanceAlert {
	out := alerts[:0]
	for _, a := range alerts {
		if !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func tail(snaps []PerformanceMetric, n int) []PerformanceMetric {
	if len(snaps) <= n {
		return snaps
	}
	return snaps[len(snaps)-n:]
}

func summarize(snaps []PerformanceMetric, alerts []PerformanceAlert) Summary {
	s := Summary{
		TotalBatches: len(snaps),
		AlertCounts:  make(map[Severity]int),
	}
	for _, a := range alerts {
		s.AlertCounts[a.Severity]++
	}
	if len(snaps) == 0 {
		return s
	}

	var latency time.Duration
	cacheBatches := 0
	for _, snap := range snaps {
		s.TotalItems += snap.BatchSize
		s.AverageThroughput += snap.Throughput
		s.AverageMemoryMB += snap.MemoryUsageMB
		s.AverageErrorRate += snap.ErrorRate
		latency += snap.ProcessingTime
		if snap.MemoryUsageMB > s.PeakMemoryMB {
			s.PeakMemoryMB = snap.MemoryUsageMB
		}
		if snap.Cache.Enabled {
			s.AverageCacheHitRate += snap.Cache.HitRate
			cacheBatches++
		}
	}

	n := float64(len(snaps))
	s.AverageThroughput /= n
	s.AverageMemoryMB /= n
	s.AverageErrorRate /= n
	s.AverageLatency = latency / time.Duration(len(snaps))
	if cacheBatches > 0 {
		s.AverageCacheHitRate /= float64(cacheBatches)
	}
	return s
}

// computeTrends 前后两半均值比较；少于 2 条快照视为稳定
func computeTrends(snaps []PerformanceMetric) Trends {
	trends := Trends{Throughput: TrendStable, Memory: TrendStable, ErrorRate: TrendStable}
	if len(snaps) < 2 {
		return trends
	}

	mid := len(snaps) / 2
	older, recent := snaps[:mid], snaps[mid:]

	trends.Throughput = classify(
		mean(older, func(s PerformanceMetric) float64 { return s.Throughput }),
		mean(recent, func(s PerformanceMetric) float64 { return s.Throughput }),
		true)
	trends.Memory = classify(
		mean(older, func(s PerformanceMetric) float64 { return s.MemoryUsageMB }),
		mean(recent, func(s PerformanceMetric) float64 { return s.MemoryUsageMB }),
		false)
	trends.ErrorRate = classify(
		mean(older, func(s PerformanceMetric) float64 { return s.ErrorRate }),
		mean(recent, func(s PerformanceMetric) float64 { return s.ErrorRate }),
		false)
	return trends
}

// classify higherIsBetter 决定增长方向对应改善还是退化
func classify(before, after float64, higherIsBetter bool) Trend {
	var change float64
	switch {
	case before == 0 && after == 0:
		return TrendStable
	case before == 0:
		change = 1
	default:
		change = (after - before) / before
	}

	switch {
	case change > trendThreshold:
		if higherIsBetter {
			return TrendImproving
		}
		return TrendDeclining
	case change < -trendThreshold:
		if higherIsBetter {
			return TrendDeclining
		}
		return TrendImproving
	default:
		return TrendStable
	}
}

func mean(snaps []PerformanceMetric, f func(PerformanceMetric) float64) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += f(s)
	}
	return sum / float64(len(snaps))
}

// Recommend 由最近快照推导优化建议，按 critical→low 排序
func Recommend(snaps []PerformanceMetric, t Thresholds) []OptimizationRecommendation {
	if len(snaps) == 0 {
		return nil
	}

	avgMemory := mean(snaps, func(s PerformanceMetric) float64 { return s.MemoryUsageMB })
	avgThroughput := mean(snaps, func(s PerformanceMetric) float64 { return s.Throughput })
	avgErrors := mean(snaps, func(s PerformanceMetric) float64 { return s.ErrorRate })

	var recs []OptimizationRecommendation

	if t.MaxMemoryUsageMB > 0 && avgMemory > t.MaxMemoryUsageMB*0.8 {
		prio := SeverityHigh
		if avgMemory > t.MaxMemoryUsageMB {
			prio = SeverityCritical
		}
		recs = append(recs, OptimizationRecommendation{
			Type:                "memory",
			Priority:            prio,
			Description:         "average heap usage is close to the configured limit",
			ExpectedImprovement: "20-40% lower peak memory",
			Implementation:      "reduce chunk size or max concurrency; lower cache max entries",
			EstimatedEffort:     "low",
		})
	}

	if t.MinThroughputPerSecond > 0 && avgThroughput < t.MinThroughputPerSecond*1.5 {
		recs = append(recs, OptimizationRecommendation{
			Type:                "concurrency",
			Priority:            SeverityMedium,
			Description:         "average throughput is near the minimum",
			ExpectedImprovement: "30-50% higher throughput",
			Implementation:      "raise max concurrency and chunk size if the converter is I/O bound",
			EstimatedEffort:     "low",
		})
	}

	cached := make([]PerformanceMetric, 0, len(snaps))
	for _, s := range snaps {
		if s.Cache.Enabled {
			cached = append(cached, s)
		}
	}
	if t.MinCacheHitRatePercent > 0 && len(cached) > 0 {
		avgHit := mean(cached, func(s PerformanceMetric) float64 { return s.Cache.HitRate * 100 })
		if avgHit < t.MinCacheHitRatePercent {
			recs = append(recs, OptimizationRecommendation{
				Type:                "caching",
				Priority:            SeverityMedium,
				Description:         "cache hit rate is below target",
				ExpectedImprovement: "fewer converter calls for repeated inputs",
				Implementation:      "increase cache TTL or share a Redis cache across processes",
				EstimatedEffort:     "medium",
			})
		}
	}

	if t.MaxErrorRatePercent > 0 && avgErrors > t.MaxErrorRatePercent/2 {
		prio := SeverityHigh
		if avgErrors > t.MaxErrorRatePercent {
			prio = SeverityCritical
		}
		recs = append(recs, OptimizationRecommendation{
			Type:                "algorithm",
			Priority:            prio,
			Description:         "error rate is elevated",
			ExpectedImprovement: "lower retry volume and failure count",
			Implementation:      "validate payloads before submission and review converter errors",
			EstimatedEffort:     "medium",
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() > recs[j].Priority.Rank()
	})
	return recs
}
