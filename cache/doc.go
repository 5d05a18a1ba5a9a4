// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供批处理引擎的内容寻址缓存与并发去重能力。

# 概述

同一输入（payload + 输出格式 + 上下文参数）经 Signature 归一化后得到
确定性签名，作为缓存键。缓存条目严格按 TTL 过期，频繁命中也不会延长
寿命，以保证依赖外部时钟的转换结果新鲜。

# 核心类型

  - Store：缓存存储接口（Get/Set/Delete/Expire/Stats）。
  - MemoryStore：进程内 LRU + TTL 缓存，支持后台定期清理。
  - RedisStore：基于 go-redis 的共享缓存，TTL 交由 Redis 管理。
  - TieredStore：本地在前、Redis 在后的多级缓存，读回填、写穿透。
  - Inflight：基于 singleflight 的在途去重表，首个请求者执行，
    其余请求者等待同一结果，失败不会被缓存。

# 使用方式

	local := cache.NewMemoryStore(cache.DefaultMemoryConfig(), logger)
	local.StartSweeper(ctx)
	defer local.Close()

	key := cache.Signature(payload, []string{"iso", "unix"}, nil)
	_ = local.Set(ctx, key, value, 5*time.Minute)
*/
package cache
