// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 chronoflow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 batch、monitor、balancer、
engine 等上层模块提供统一的错误码与优先级契约，避免循环依赖。

# 核心类型

  - ErrorCode / Error：统一错误码（INVALID_INPUT、CONVERSION_ERROR、
    TIMEOUT_ERROR、NO_AVAILABLE_NODES）与结构化错误
  - Priority：工作项优先级（low / normal / high / critical）

# 错误处理

通过 NewError 构造错误，支持 WithCause、WithRetryable、WithDetail 链式调用；
GetErrorCode 与 IsRetryable 可穿透 fmt.Errorf 包装读取错误码。
*/
package types
