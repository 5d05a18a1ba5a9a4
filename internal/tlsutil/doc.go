// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 集中提供 ChronoFlow 出站连接的 TLS 配置，
// 供节点健康探测的 HTTP 客户端与 Redis 缓存连接使用。
// 安全加固：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
