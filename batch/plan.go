package batch

import (
	"sort"

	"github.com/BaSui01/chronoflow/cache"
)

// task 一次需要实际执行的工作
type task struct {
	index     int
	item      *WorkItem
	signature string
	invalid   bool
}

// plan 预处理结果
type plan struct {
	tasks      []task
	chunks     [][]task
	duplicates map[int][]int // 主项下标 -> 重复项下标
	dupCount   int
}

// buildPlan 校验、去重、按优先级稳定排序并分块
func buildPlan(items []WorkItem, opts Options) *plan {
	p := &plan{duplicates: make(map[int][]int)}
	firstBySig := make(map[string]int)

	for i := range items {
		item := &items[i]
		t := task{index: i, item: item}

		if !validPayload(item.Payload) {
			t.invalid = true
			p.tasks = append(p.tasks, t)
			continue
		}

		if opts.EnableCaching || opts.EnableDeduplication {
			t.signature = cache.Signature(item.Payload, item.OutputSpec, opts.Params)
		}

		if opts.EnableDeduplication {
			if primary, ok := firstBySig[t.signature]; ok {
				p.duplicates[primary] = append(p.duplicates[primary], i)
				p.dupCount++
				continue
			}
			firstBySig[t.signature] = i
		}

		p.tasks = append(p.tasks, t)
	}

	if opts.EnablePrioritization {
		sort.SliceStable(p.tasks, func(a, b int) bool {
			return p.tasks[a].item.Priority.Rank() > p.tasks[b].item.Priority.Rank()
		})
	}

	p.chunks = chunkTasks(p.tasks, opts.ChunkSize, opts.EnablePrioritization)
	return p
}

// chunkTasks 按 size 分块；byPriority 时块不跨越优先级分组
func chunkTasks(tasks []task, size int, byPriority bool) [][]task {
	var chunks [][]task
	start := 0
	for i := range tasks {
		boundary := i-start >= size
		if byPriority && i > start && tasks[i].item.Priority.Rank() != tasks[start].item.Priority.Rank() {
			boundary = true
		}
		if boundary {
			chunks = append(chunks, tasks[start:i])
			start = i
		}
	}
	if start < len(tasks) {
		chunks = append(chunks, tasks[start:])
	}
	return chunks
}

func validPayload(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}
