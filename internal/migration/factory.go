package migration

import (
	"fmt"

	"github.com/copp1723/team-crm-sub000/internal/archive"
)

// NewMigratorFromArchiveConfig 从归档配置创建迁移器。
// sqlite 归档自动建表,调用方应在 sqlite 下跳过迁移。
func NewMigratorFromArchiveConfig(cfg archive.Config) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid archive driver: %w", err)
	}

	var sslMode string
	if dbType == DatabaseTypePostgres {
		sslMode = cfg.SSLMode
	}
	dbURL := BuildDatabaseURL(dbType, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, sslMode)

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL 从连接串直接创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
