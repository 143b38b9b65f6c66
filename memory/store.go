package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

// =============================================================================
// 💾 记录存储接口
// =============================================================================

// StoreResult 写入结果。存储禁用或后端故障时 Stored 为 false,
// 调用方据此判断是否真正落盘,但不会收到错误。
type StoreResult struct {
	Stored bool   `json:"stored"`
	ID     string `json:"id,omitempty"`
}

// IndexQuery 索引区间扫描查询
type IndexQuery struct {
	Kind  IndexKind // 索引类别: type|tag|imp
	Value string    // 索引值
	Since time.Time // 起始时间(含),零值表示不限
	Until time.Time // 结束时间(含),零值表示不限
	Limit int       // 返回上限,0 表示不限
	Desc  bool      // 按时间倒序返回
}

// RecordStore 记忆记录存储。
// 实现必须容忍后端故障:写入静默降级,读取返回明确的错误码。
type RecordStore interface {
	// Store 持久化记录并维护索引。记录无 ID 时自动生成。
	// 后端故障不返回错误,只返回 Stored=false。
	Store(ctx context.Context, rec *types.MemoryRecord) (StoreResult, error)

	// Get 按 ID 读取记录,同时递增访问计数并续期 TTL。
	// 不存在时返回 RECORD_NOT_FOUND 错误码。
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// IndexScan 按索引扫描记录 ID,ZSET 评分为记录创建时间毫秒值
	IndexScan(ctx context.Context, q IndexQuery) ([]string, error)

	// AllRecordIDs 返回当前存活的全部记录 ID
	AllRecordIDs(ctx context.Context) ([]string, error)

	// SaveStats 持久化引擎统计快照
	SaveStats(ctx context.Context, stats *types.EngineStats) error

	// LoadStats 读取引擎统计快照,不存在时返回零值快照
	LoadStats(ctx context.Context) (*types.EngineStats, error)

	// PushSummary 追加摘要到历史,超出上限时裁剪到保留数
	PushSummary(ctx context.Context, sum *types.ExecutiveSummary) error

	// RecentSummaries 返回最近 n 条摘要,最新在前
	RecentSummaries(ctx context.Context, n int) ([]*types.ExecutiveSummary, error)

	// Enabled 报告存储是否可用,禁用与降级模式下为 false
	Enabled() bool

	// Ping 检查后端连通性
	Ping(ctx context.Context) error

	// Close 释放后端连接
	Close() error
}

// Config 存储配置
type Config struct {
	// 是否启用持久化,false 时整个存储为空操作
	Enabled bool `yaml:"enabled" json:"enabled"`

	// 后端类型: redis|mongo
	Backend string `yaml:"backend" json:"backend"`

	// 基础保留时长,按重要性缩放
	BaseTTL time.Duration `yaml:"base_ttl" json:"base_ttl"`

	// 内容压缩阈值(字节),<=0 禁用压缩
	CompressThreshold int `yaml:"compress_threshold" json:"compress_threshold"`

	// 初始化连接失败时降级为空操作而不是报错
	DegradeOnError bool `yaml:"degrade_on_error" json:"degrade_on_error"`

	// 单次后端操作超时
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`

	// Redis 后端配置
	Redis RedisConfig `yaml:"redis" json:"redis"`

	// MongoDB 后端配置
	Mongo MongoConfig `yaml:"mongo" json:"mongo"`
}

// DefaultConfig 返回默认存储配置
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Backend:           "redis",
		BaseTTL:           7 * 24 * time.Hour,
		CompressThreshold: DefaultCompressThreshold,
		DegradeOnError:    true,
		OpTimeout:         3 * time.Second,
		Redis:             DefaultRedisConfig(),
		Mongo:             DefaultMongoConfig(),
	}
}

// Open 按配置创建存储。Enabled=false 返回空操作存储;
// 连接失败且 DegradeOnError=true 时同样降级为空操作。
func Open(config Config, logger *zap.Logger) (RecordStore, error) {
	if !config.Enabled {
		logger.Info("memory store disabled by config")
		return NewNoopStore(logger), nil
	}

	var (
		store RecordStore
		err   error
	)
	switch config.Backend {
	case "", "redis":
		store, err = NewRedisStore(config, logger)
	case "mongo":
		store, err = NewMongoStore(config, logger)
	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown memory backend: %q", config.Backend))
	}

	if err != nil {
		if config.DegradeOnError {
			logger.Warn("memory store unavailable, running degraded",
				zap.String("backend", config.Backend),
				zap.Error(err),
			)
			return NewNoopStore(logger), nil
		}
		return nil, err
	}
	return store, nil
}

// retentionFor 计算记录的保留时长
func retentionFor(imp types.Importance, baseTTL time.Duration) time.Duration {
	return time.Duration(float64(baseTTL) * imp.RetentionFactor())
}

// =============================================================================
// 🔇 空操作存储
// =============================================================================

// NoopStore 禁用或降级模式下的空操作存储。
// 所有写入静默丢弃,所有读取返回空结果。
type NoopStore struct {
	logger *zap.Logger
}

// NewNoopStore 创建空操作存储
func NewNoopStore(logger *zap.Logger) *NoopStore {
	return &NoopStore{logger: logger.With(zap.String("component", "memory-noop"))}
}

func (s *NoopStore) Store(ctx context.Context, rec *types.MemoryRecord) (StoreResult, error) {
	if rec != nil && rec.Content != nil {
		s.logger.Debug("store skipped, memory disabled", zap.String("type", string(rec.Type)))
	}
	return StoreResult{Stored: false}, nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	return nil, types.NewError(types.ErrRecordNotFound, fmt.Sprintf("record %s not found", id))
}

func (s *NoopStore) IndexScan(ctx context.Context, q IndexQuery) ([]string, error) {
	return nil, nil
}

func (s *NoopStore) AllRecordIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *NoopStore) SaveStats(ctx context.Context, stats *types.EngineStats) error {
	return nil
}

func (s *NoopStore) LoadStats(ctx context.Context) (*types.EngineStats, error) {
	return &types.EngineStats{RecordsByType: map[types.MemoryType]int{}}, nil
}

func (s *NoopStore) PushSummary(ctx context.Context, sum *types.ExecutiveSummary) error {
	return nil
}

func (s *NoopStore) RecentSummaries(ctx context.Context, n int) ([]*types.ExecutiveSummary, error) {
	return nil, nil
}

func (s *NoopStore) Enabled() bool { return false }

func (s *NoopStore) Ping(ctx context.Context) error {
	return types.NewError(types.ErrStoreDisabled, "memory store disabled")
}

func (s *NoopStore) Close() error { return nil }
