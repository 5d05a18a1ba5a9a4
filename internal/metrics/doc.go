// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的引擎指标采集能力，覆盖
批处理、缓存、节点路由与性能告警四大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个 Collector
持有独立的 Registry（promauto.With），多个实例之间互不冲突，
便于测试隔离；Handler 返回可直接挂载的 /metrics 处理器。

# 主要能力

  - 批处理指标：批次总数、批次耗时、吞吐、单项耗时、重试次数、
    去重数量、在途工作项与背压暂停次数。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 节点指标：选择次数（按 strategy/node）、请求结果、响应时间、
    自适应权重与健康状态。
  - 监控指标：告警计数（按 type/severity）与堆内存占用。
*/
package metrics
