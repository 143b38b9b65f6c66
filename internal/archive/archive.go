package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/copp1723/team-crm-sub000/types"
)

// =============================================================================
// ⚙️ 配置
// =============================================================================

// Config 归档库配置。默认走纯 Go 的 sqlite,部署时可切换 postgres/mysql。
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Driver  string `yaml:"driver" json:"driver"` // sqlite | postgres | mysql

	// sqlite 数据文件路径
	Path string `yaml:"path" json:"path"`

	// postgres / mysql 连接参数
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Name     string `yaml:"name" json:"name"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`

	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Driver:  "sqlite",
		Path:    "teamcrm.db",
		SSLMode: "disable",
		Pool:    DefaultPoolConfig(),
	}
}

// DSN 按驱动拼接连接串
func (c Config) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	default: // sqlite
		return c.Path
	}
}

func (c Config) dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case "sqlite", "":
		return sqlite.Open(c.DSN()), nil
	case "postgres":
		return postgres.Open(c.DSN()), nil
	case "mysql":
		return mysql.Open(c.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s", c.Driver)
	}
}

// =============================================================================
// 🗃️ 归档
// =============================================================================

const saveRetries = 3

// Archive 把每条高管摘要落入关系库。实现 summarizer.SummarySink,
// 由批处理器以 best-effort 方式调用。
type Archive struct {
	pool   *pool
	logger *zap.Logger
}

// Open 打开归档库并初始化连接池
func Open(config Config, logger *zap.Logger) (*Archive, error) {
	dialector, err := config.dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// sqlite 没有独立的迁移链路,建表交给 AutoMigrate;
	// postgres/mysql 由 migrate 子命令管理 schema
	if config.Driver == "" || config.Driver == "sqlite" {
		if err := db.AutoMigrate(&SummaryRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
		}
	}

	p, err := newPool(db, config.Pool, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("summary archive opened",
		zap.String("driver", config.Driver),
	)
	return &Archive{
		pool:   p,
		logger: logger.With(zap.String("component", "summary-archive")),
	}, nil
}

// New 基于已有 GORM 连接构建归档,测试用
func New(db *gorm.DB, poolConfig PoolConfig, logger *zap.Logger) (*Archive, error) {
	p, err := newPool(db, poolConfig, logger)
	if err != nil {
		return nil, err
	}
	return &Archive{
		pool:   p,
		logger: logger.With(zap.String("component", "summary-archive")),
	}, nil
}

// SaveSummary 归档一条摘要。空的"无更新"占位结果不落库。
func (a *Archive) SaveSummary(ctx context.Context, sum *types.ExecutiveSummary) error {
	if sum == nil || sum.Empty() {
		return nil
	}

	row := rowFromSummary(sum)
	err := a.pool.withTransactionRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to archive summary %s: %w", sum.ID, err)
	}

	a.logger.Debug("summary archived",
		zap.String("id", sum.ID),
		zap.Int("updates", sum.UpdateCount),
	)
	return nil
}

// Recent 按生成时间倒序返回最近 limit 条归档摘要
func (a *Archive) Recent(ctx context.Context, limit int) ([]*types.ExecutiveSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []SummaryRow
	err := a.pool.DB().WithContext(ctx).
		Order("generated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load archived summaries: %w", err)
	}

	sums := make([]*types.ExecutiveSummary, 0, len(rows))
	for i := range rows {
		sums = append(sums, rows[i].toSummary())
	}
	return sums, nil
}

// CountSince 统计某时间点之后归档的摘要数量
func (a *Archive) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := a.pool.DB().WithContext(ctx).
		Model(&SummaryRow{}).
		Where("generated_at > ?", since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count archived summaries: %w", err)
	}
	return n, nil
}

// Ping 检查归档库连接
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close 关闭归档库
func (a *Archive) Close() error {
	return a.pool.Close()
}
