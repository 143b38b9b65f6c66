package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

// =============================================================================
// 💾 Redis 存储后端
// =============================================================================

// 摘要历史上限与裁剪保留数
const (
	summaryHistoryMax  = 20
	summaryHistoryTrim = 10
)

// RedisConfig Redis 后端配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 重试退避下限
	MinRetryBackoff time.Duration `yaml:"min_retry_backoff" json:"min_retry_backoff"`

	// 重试退避上限
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff" json:"max_retry_backoff"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔,<=0 关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		MaxRetries:          3,
		MinRetryBackoff:     50 * time.Millisecond,
		MaxRetryBackoff:     2 * time.Second,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RedisStore 基于 Redis 的记录存储。
// 记录本体为带 TTL 的字符串键,索引为以创建时间毫秒值评分的 ZSET。
type RedisStore struct {
	client *redis.Client
	config Config
	logger *zap.Logger
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore 创建 Redis 存储并验证连通性
func NewRedisStore(config Config, logger *zap.Logger) (*RedisStore, error) {
	rc := config.Redis
	client := redis.NewClient(&redis.Options{
		Addr:            rc.Addr,
		Password:        rc.Password,
		DB:              rc.DB,
		MaxRetries:      rc.MaxRetries,
		MinRetryBackoff: rc.MinRetryBackoff,
		MaxRetryBackoff: rc.MaxRetryBackoff,
		PoolSize:        rc.PoolSize,
		MinIdleConns:    rc.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "connect to redis").
			WithCause(err).WithRetryable(true)
	}

	s := &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "memory-redis")),
		now:    time.Now,
	}

	// 启动健康检查
	if rc.HealthCheckInterval > 0 {
		go s.healthCheckLoop(rc.HealthCheckInterval)
	}

	s.logger.Info("redis memory store initialized",
		zap.String("addr", rc.Addr),
		zap.Duration("base_ttl", config.BaseTTL),
		zap.Int("compress_threshold", config.CompressThreshold),
	)

	return s, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Store 持久化记录并维护索引。后端故障时只记日志,返回 Stored=false。
func (s *RedisStore) Store(ctx context.Context, rec *types.MemoryRecord) (StoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return StoreResult{}, types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}
	if rec == nil {
		return StoreResult{}, types.NewValidationError("record is nil")
	}

	now := s.now()
	if rec.Metadata.Timestamp.IsZero() {
		rec.Metadata.Timestamp = now
	}
	if rec.Metadata.Importance == "" {
		rec.Metadata.Importance = types.ImportanceNormal
	}
	if rec.ID == "" {
		rec.ID = NewRecordID(rec.Type, rec.Metadata.Timestamp)
	}
	if err := rec.Validate(); err != nil {
		return StoreResult{}, err
	}

	data, compressed, err := encodeRecord(rec, s.config.CompressThreshold)
	if err != nil {
		return StoreResult{}, err
	}
	rec.Compressed = compressed

	ttl := retentionFor(rec.Metadata.Importance, s.config.BaseTTL)
	score := float64(rec.Metadata.Timestamp.UnixMilli())

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = s.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, RecordKey(rec.ID), data, ttl)
		for _, idx := range indexKeysFor(rec) {
			pipe.ZAdd(opCtx, idx, redis.Z{Score: score, Member: rec.ID})
		}
		return nil
	})
	if err != nil {
		// 写入尽力而为,故障不上抛
		s.logger.Warn("record store failed",
			zap.String("id", rec.ID),
			zap.String("type", string(rec.Type)),
			zap.Error(err),
		)
		return StoreResult{Stored: false, ID: rec.ID}, nil
	}

	s.logger.Debug("record stored",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("importance", string(rec.Metadata.Importance)),
		zap.Bool("compressed", rec.Compressed),
		zap.Duration("ttl", ttl),
	)
	return StoreResult{Stored: true, ID: rec.ID}, nil
}

// Get 读取记录,递增访问计数并按重要性续期 TTL
func (s *RedisStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(opCtx, RecordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, types.NewError(types.ErrRecordNotFound, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "redis get").
			WithCause(err).WithRetryable(true)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		s.logger.Error("record decode failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	// 访问续期:失败不影响读取结果
	rec.Touch(s.now())
	if renewed, _, err := encodeRecord(rec, s.config.CompressThreshold); err == nil {
		ttl := retentionFor(rec.Metadata.Importance, s.config.BaseTTL)
		if err := s.client.Set(opCtx, RecordKey(id), renewed, ttl).Err(); err != nil {
			s.logger.Debug("access renewal failed", zap.String("id", id), zap.Error(err))
		}
	}

	return rec, nil
}

// IndexScan 按索引区间扫描记录 ID
func (s *RedisStore) IndexScan(ctx context.Context, q IndexQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}

	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !q.Since.IsZero() {
		rangeBy.Min = fmt.Sprintf("%d", q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		rangeBy.Max = fmt.Sprintf("%d", q.Until.UnixMilli())
	}
	if q.Limit > 0 {
		rangeBy.Count = int64(q.Limit)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	key := IndexKey(q.Kind, q.Value)
	var cmd *redis.StringSliceCmd
	if q.Desc {
		cmd = s.client.ZRevRangeByScore(opCtx, key, rangeBy)
	} else {
		cmd = s.client.ZRangeByScore(opCtx, key, rangeBy)
	}

	ids, err := cmd.Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "redis index scan").
			WithCause(err).WithRetryable(true)
	}
	return ids, nil
}

// AllRecordIDs 扫描全部存活记录 ID
func (s *RedisStore) AllRecordIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(opCtx, cursor, recKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "redis scan").
				WithCause(err).WithRetryable(true)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, recKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// =============================================================================
// 📊 统计与摘要历史
// =============================================================================

// SaveStats 持久化引擎统计快照
func (s *RedisStore) SaveStats(ctx context.Context, stats *types.EngineStats) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal engine stats: %w", err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(opCtx, StatsKey(), data, 0).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "save engine stats").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// LoadStats 读取引擎统计快照,不存在时返回零值
func (s *RedisStore) LoadStats(ctx context.Context) (*types.EngineStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(opCtx, StatsKey()).Bytes()
	if err == redis.Nil {
		return &types.EngineStats{RecordsByType: map[types.MemoryType]int{}}, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load engine stats").
			WithCause(err).WithRetryable(true)
	}

	stats := &types.EngineStats{}
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, fmt.Errorf("unmarshal engine stats: %w", err)
	}
	if stats.RecordsByType == nil {
		stats.RecordsByType = map[types.MemoryType]int{}
	}
	return stats, nil
}

// PushSummary 追加摘要到历史,超出上限时裁剪到保留数
func (s *RedisStore) PushSummary(ctx context.Context, sum *types.ExecutiveSummary) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}

	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.LPush(opCtx, SummaryHistoryKey(), data).Err(); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "push summary").
			WithCause(err).WithRetryable(true)
	}

	length, err := s.client.LLen(opCtx, SummaryHistoryKey()).Result()
	if err == nil && length > summaryHistoryMax {
		if err := s.client.LTrim(opCtx, SummaryHistoryKey(), 0, summaryHistoryTrim-1).Err(); err != nil {
			s.logger.Warn("summary history trim failed", zap.Error(err))
		} else {
			s.logger.Debug("summary history trimmed",
				zap.Int64("was", length),
				zap.Int("kept", summaryHistoryTrim),
			)
		}
	}
	return nil
}

// RecentSummaries 返回最近 n 条摘要,最新在前
func (s *RedisStore) RecentSummaries(ctx context.Context, n int) ([]*types.ExecutiveSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}
	if n <= 0 {
		n = summaryHistoryTrim
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.client.LRange(opCtx, SummaryHistoryKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "read summary history").
			WithCause(err).WithRetryable(true)
	}

	out := make([]*types.ExecutiveSummary, 0, len(rows))
	for _, row := range rows {
		sum := &types.ExecutiveSummary{}
		if err := json.Unmarshal([]byte(row), sum); err != nil {
			s.logger.Warn("corrupt summary history entry skipped", zap.Error(err))
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

// =============================================================================
// 🏥 运维
// =============================================================================

// Enabled 报告存储可用
func (s *RedisStore) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreDisabled, "redis store is closed")
	}
	return s.client.Ping(ctx).Err()
}

// Close 关闭存储
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing redis memory store")
	return s.client.Close()
}

// healthCheckLoop 健康检查循环
func (s *RedisStore) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("memory store health check failed", zap.Error(err))
		} else {
			s.logger.Debug("memory store health check passed")
		}
		cancel()
	}
}

// opContext 套用单次操作超时
func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}
