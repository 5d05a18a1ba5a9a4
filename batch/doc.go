// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 提供自适应批处理器，将一批工作项交给外部转换器执行。

# 概述

Processor 对每个批次依次完成：校验、签名计算、批内去重、按优先级
稳定排序、分块。块按顺序执行，块内并发度不超过 MaxConcurrency；
块之间检查堆内存，超过高水位时暂停并触发 GC。

每个工作项依次经过缓存查找、在途去重（跨批次共享）、转换器调用与
重试。转换器 panic 被转为 CONVERSION_ERROR。结果按原始提交下标返回，
重复项复制主项结果并保留自身 ID 与下标。

# 核心类型

  - WorkItem / WorkResult：工作项与结果。
  - Options：单批次选项（并发、分块、超时、缓存、去重、重试、限速）。
  - Converter：外部转换协作者。
  - NodeSelector：可选的节点选择器，由负载均衡器实现。
  - ProgressSink：可选的进度回调，调用被串行化。

# 使用方式

	p := batch.NewProcessor(conv,
		batch.WithCache(store),
		batch.WithLogger(logger),
	)
	out, err := p.ProcessBatch(ctx, items, batch.DefaultOptions())
*/
package batch
