// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 ChronoFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertResultsOrdered
  - 异步等待: AssertEventuallyTrue / WaitFor / WaitForChannel，
    支持超时轮询等待条件满足
  - 数据工具: TimestampItems

# 子包

  - testutil/mocks: MockConverter（批处理转换器，支持延迟、错误注入与
    并发观测）、MockProber（节点健康探测）

# 使用示例

	ctx := testutil.TestContext(t)
	conv := mocks.NewMockConverter().WithDelay(10 * time.Millisecond)
	outcome, err := processor.ProcessBatch(ctx, testutil.TimestampItems(5, 1700000000), opts)
*/
package testutil
