// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 engine 把批处理器、性能监控与负载均衡串联为一次完整的批处理流程。

# 流程

ProcessBatch 依次完成：批处理器执行（缓存、去重、分块并发、重试），
每个工作项执行前经 Balancer 选择节点并在结束后回报耗时，批次结束后
把统计写入 Monitor 并返回触发的告警，按需附带优化建议。

# 组装

New 按 config.Config 创建各组件：cache.backend 决定缓存存储
（memory / redis / tiered / none），balancer.enabled 决定是否为工作项
选择节点，monitor.enabled 决定是否启动后台内存采样。Close 停止所有
后台任务并释放 Redis 连接。

工作项 Metadata 中的 capabilities、region、complexity、deadline
会被转换为负载描述参与节点选择。
*/
package engine
