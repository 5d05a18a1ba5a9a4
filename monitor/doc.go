// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 monitor 记录批次性能快照，按阈值告警并给出趋势与优化建议。

每次 RecordBatchMetrics 写入一条快照并独立执行内存、吞吐量、错误率、
延迟、缓存命中率五项检查。告警通过 OnAlert 同步分发，回调 panic
会被捕获。快照与告警按年龄和数量上限保留，只在写入时清理。

StartMonitoring 在批次之间定期采样堆内存，越过阈值时产生
batchId 为 system 的内存告警。
*/
package monitor
