package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Inflight 合并同一签名的并发计算：首个请求者执行，其余等待同一结果。
// 计算结束（成功或失败）后占位立即移除，失败不会被缓存。
type Inflight struct {
	group  singleflight.Group
	shared atomic.Int64
}

// NewInflight 创建去重表
func NewInflight() *Inflight {
	return &Inflight{}
}

// Do 执行或加入 key 对应的计算；shared 为 true 表示结果被多个请求者共享。
// fn 内的 panic 不会被捕获，调用方需自行 recover。
func (f *Inflight) Do(ctx context.Context, key string, fn func() (any, error)) (value any, err error, shared bool) {
	ch := f.group.DoChan(key, fn)
	select {
	case res := <-ch:
		if res.Shared {
			f.shared.Add(1)
		}
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

// SharedCount 返回结果被共享的调用次数
func (f *Inflight) SharedCount() int64 {
	return f.shared.Load()
}
