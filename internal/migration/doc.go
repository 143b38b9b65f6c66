/*
包 migration 管理摘要归档库的 Schema 迁移，基于 golang-migrate，
通过 embed.FS 内嵌 PostgreSQL 与 MySQL 两种方言的 SQL 迁移文件。

sqlite 归档走 GORM 自动建表，不经过本包：golang-migrate 的纯 Go
sqlite 驱动与归档使用的 sqlite 驱动注册同名 database/sql 驱动,
二者无法共存于同一二进制。

  - Migrator：迁移器接口（Up/Down/DownAll/Steps/Version/Status/Info/Close）。
  - DefaultMigrator：默认实现，封装 golang-migrate 实例与连接管理。
  - CLI：命令行交互层，供 teamcrm migrate 子命令使用。
*/
package migration
