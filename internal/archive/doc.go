// Package archive 提供高管摘要的关系型归档。
// 滚动内存历史是引擎的契约,归档是补充的持久层:
// 归档失败只记日志,绝不阻断摘要流程。
// 默认使用纯 Go 的 sqlite 驱动,postgres/mysql 由配置选择。
package archive
