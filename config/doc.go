// Package config 提供记忆引擎的配置管理功能。
//
// 顶层 Config 聚合各组件配置（存储/检索/模型/摘要/归档）与
// 服务器、日志、鉴权、遥测等横切配置。
// 加载优先级: 默认值 → YAML 文件 → 环境变量。
package config
