package types

import (
	"fmt"
	"strings"
)

// Priority 工作项 / 工作负载优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank 返回优先级排序值，critical 最高；大小写不敏感，空值与未知值按 normal 处理
func (p Priority) Rank() int {
	switch p.Normalize() {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Normalize 去除空白并转为小写，空值归一为 normal
func (p Priority) Normalize() Priority {
	n := Priority(strings.ToLower(strings.TrimSpace(string(p))))
	if n == "" {
		return PriorityNormal
	}
	return n
}

// ParsePriority 解析优先级字符串（大小写不敏感）
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s).Normalize(); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}
