package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BaSui01/chronoflow/balancer"
	"github.com/BaSui01/chronoflow/batch"
)

// 工作项 Metadata 中参与节点选择的键
const (
	MetaCapabilities = "capabilities"
	MetaRegion       = "region"
	MetaComplexity   = "complexity"
	MetaDeadline     = "deadline"
)

// nodeSelector 把 Balancer 适配为 batch.NodeSelector
type nodeSelector struct {
	lb *balancer.Balancer
}

func (s *nodeSelector) Select(ctx context.Context, item batch.WorkItem) (string, error) {
	sel, err := s.lb.SelectNode(ctx, workloadFor(item))
	if err != nil {
		return "", err
	}
	return sel.SelectedNode.ID, nil
}

func (s *nodeSelector) Report(nodeID string, responseTime time.Duration, success bool, size int) {
	// 节点在批次执行中被移除时忽略
	_ = s.lb.RecordRequest(nodeID, responseTime, success, size)
}

// workloadFor 从工作项推导负载描述，无法识别的元数据值被忽略
func workloadFor(item batch.WorkItem) balancer.Workload {
	w := balancer.Workload{
		Priority: item.Priority.Normalize(),
		Size:     1,
	}
	if item.Metadata == nil {
		return w
	}

	w.RequiredCapabilities = stringSlice(item.Metadata[MetaCapabilities])
	if region, ok := item.Metadata[MetaRegion].(string); ok {
		w.Region = region
	}
	if c, ok := toFloat(item.Metadata[MetaComplexity]); ok {
		w.Complexity = c
	}
	if d, ok := toDeadline(item.Metadata[MetaDeadline]); ok {
		w.Deadline = d
	}
	return w
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	default:
		return nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toDeadline 支持 time.Time 与 RFC3339 字符串
func toDeadline(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, !d.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339, d)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
