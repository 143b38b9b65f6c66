// Copyright (c) Team CRM Authors.
// Licensed under the MIT License.

// Package memory 实现记忆存储层。
//
// 核心能力:
//   - RecordStore: 记录存取接口,Redis 为主后端,MongoDB 为备选后端
//   - 按重要性缩放的 TTL 保留策略(high/urgent ×3, low ×0.5)
//   - 超过阈值的内容自动 gzip+base64 压缩
//   - 类型/标签/重要性三类时间戳评分索引,支持区间扫描
//   - 禁用与降级模式:存储不可用时整条链路静默跳过,不影响对话
//   - Sweeper: 清理记录过期后遗留的索引成员
//
// 写入是尽力而为的:后端故障只记日志并返回未存储标记,
// 绝不向调用方抛出存储错误。
package memory
