// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 Prometheus 指标端点的 HTTP 服务器生命周期管理。

# 核心类型

  - Manager：封装 net/http.Server，在独立端口上暴露 /metrics 与
    /healthz，提供 Start/Shutdown/Addr/Errors 生命周期方法。
  - Config：监听地址、请求头读取超时与优雅关闭超时。

Start 非阻塞，服务异常通过 Errors() 通道传播；Shutdown 在
ShutdownTimeout 内排空连接，重复调用安全。
*/
package server
