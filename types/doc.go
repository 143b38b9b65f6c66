// Copyright (c) Team CRM Authors.
// Licensed under the MIT License.

// Package types 定义记忆与升级引擎的共享领域类型。
//
// 包含的核心类型:
//   - MemoryRecord: 记忆记录,引擎持久化的最小单元
//   - RecordContent: 按记录类型区分的内容载荷(tagged union)
//   - StructuredUpdate: 解析后的团队成员更新
//   - ExecutiveSummary: 汇总生成的高管摘要
//   - PatternSummary: 模式分析结果(频率、情绪、主题、升级置信度)
//   - Error: 带错误码的结构化错误
//
// 设计原则:
//   - 所有跨包契约集中在此,避免循环依赖
//   - 内容载荷按 MemoryType 封装,序列化由存储层负责
//   - 错误码面向调用方分类,支撑重试与降级决策
package types
