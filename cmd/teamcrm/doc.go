// teamcrm 是记忆与升级引擎的服务入口。
//
// serve 启动运维 HTTP 面(健康检查、指标、更新投递、强制摘要),
// migrate 管理归档数据库的 schema,sweep 做一次性留存清扫,
// health 探测运行中的实例。
package main
