// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 balancer 维护工作节点注册表，并按可插拔策略为工作负载选择节点。

# 选择流程

 1. 过滤：排除 unhealthy / offline 节点、已满载节点、缺少所需能力的节点。
 2. 打分：round_robin、least_connections、weighted_round_robin、
    least_response_time、geographic、adaptive（默认）。
 3. 选择：得分最高者胜出，同分按注册顺序；被选节点 CurrentLoad 加一。

# 自适应权重

adaptive 策略将基础得分乘以节点的自适应权重。权重是节点最近请求表现
（成功率与响应时间）的指数滑动平均，限制在 [0.1, 2.0]。RecordRequest
每次更新权重、平均响应时间与错误率。

# 健康检查

StartHealthChecks 周期性调用 Prober（默认 HTTPProber，GET /health）。
状态变化立即影响后续 SelectNode。
*/
package balancer
