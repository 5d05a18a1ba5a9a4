// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ChronoFlow 命令行入口。

# 概述

cmd/chronoflow 从 YAML / JSON 文件读取工作项，使用内置的时间戳转换器
执行一次批处理，并以 JSON 输出结果、统计、告警与可选的优化建议。
程序支持 YAML 配置文件与 CHRONOFLOW_ 前缀的环境变量、结构化日志（zap）、
OpenTelemetry 导出与 Prometheus 指标端点。

# 主要能力

  - 子命令：run（执行批处理）、version、help
  - 指标端点：--metrics-addr 在独立端口暴露 /metrics，直到收到中断信号
  - 优雅退出：SIGINT/SIGTERM 取消正在执行的批次
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
