package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

// =============================================================================
// 💾 MongoDB 存储后端
// =============================================================================

// MongoConfig MongoDB 后端配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" json:"uri"`

	// 数据库名
	Database string `yaml:"database" json:"database"`

	// 记录集合名
	Collection string `yaml:"collection" json:"collection"`

	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "teamcrm",
		Collection:     "memory_records",
		ConnectTimeout: 5 * time.Second,
	}
}

// mongoRecord 记录文档。Data 为与 Redis 后端一致的序列化字节,
// 过期由 expire_at 上的 TTL 索引负责(Mongo 的清理粒度约一分钟)。
type mongoRecord struct {
	ID         string    `bson:"_id"`
	Type       string    `bson:"type"`
	Data       []byte    `bson:"data"`
	TS         int64     `bson:"ts"`
	Importance string    `bson:"importance"`
	Tags       []string  `bson:"tags,omitempty"`
	ExpireAt   time.Time `bson:"expire_at"`
}

type mongoStateDoc struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

type mongoSummaryDoc struct {
	ID          string    `bson:"_id"`
	Data        []byte    `bson:"data"`
	GeneratedAt time.Time `bson:"generated_at"`
}

// MongoStore 基于 MongoDB 的记录存储,行为与 Redis 后端对齐
type MongoStore struct {
	client    *mongo.Client
	records   *mongo.Collection
	state     *mongo.Collection
	summaries *mongo.Collection
	config    Config
	logger    *zap.Logger
	now       func() time.Time
	mu        sync.RWMutex
	closed    bool
}

// NewMongoStore 创建 MongoDB 存储并建立索引
func NewMongoStore(config Config, logger *zap.Logger) (*MongoStore, error) {
	mc := config.Mongo
	client, err := mongo.Connect(options.Client().
		ApplyURI(mc.URI).
		SetConnectTimeout(mc.ConnectTimeout))
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "connect to mongodb").
			WithCause(err).WithRetryable(true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, types.NewError(types.ErrStoreUnavailable, "ping mongodb").
			WithCause(err).WithRetryable(true)
	}

	db := client.Database(mc.Database)
	s := &MongoStore{
		client:    client,
		records:   db.Collection(mc.Collection),
		state:     db.Collection("engine_state"),
		summaries: db.Collection("summary_history"),
		config:    config,
		logger:    logger.With(zap.String("component", "memory-mongo")),
		now:       time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("mongo memory store initialized",
		zap.String("database", mc.Database),
		zap.String("collection", mc.Collection),
	)
	return s, nil
}

// ensureIndexes 建立 TTL 索引与查询索引
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expire_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "ts", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}, {Key: "ts", Value: 1}}},
		{Keys: bson.D{{Key: "importance", Value: 1}, {Key: "ts", Value: 1}}},
	}
	if _, err := s.records.Indexes().CreateMany(ctx, models); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "create mongodb indexes").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// Store 持久化记录。后端故障时只记日志,返回 Stored=false。
func (s *MongoStore) Store(ctx context.Context, rec *types.MemoryRecord) (StoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return StoreResult{}, types.NewError(types.ErrStoreDisabled, "mongo store is closed")
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

	tags := make([]string, 0, len(rec.Metadata.Tags))
	for _, t := range rec.Metadata.Tags {
		if t == "" {
			continue
		}
		tags = append(tags, normalizeIndexValue(t))
	}

	doc := mongoRecord{
		ID:         rec.ID,
		Type:       string(rec.Type),
		Data:       data,
		TS:         rec.Metadata.Timestamp.UnixMilli(),
		Importance: string(rec.Metadata.Importance),
		Tags:       tags,
		ExpireAt:   now.Add(retentionFor(rec.Metadata.Importance, s.config.BaseTTL)),
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = s.records.ReplaceOne(opCtx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		s.logger.Warn("record store failed",
			zap.String("id", rec.ID),
			zap.String("type", string(rec.Type)),
			zap.Error(err),
		)
		return StoreResult{Stored: false, ID: rec.ID}, nil
	}
	return StoreResult{Stored: true, ID: rec.ID}, nil
}

// Get 读取记录,递增访问计数并续期
func (s *MongoStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var doc mongoRecord
	err := s.records.FindOne(opCtx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, types.NewError(types.ErrRecordNotFound, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "mongodb find").
			WithCause(err).WithRetryable(true)
	}

	rec, err := decodeRecord(doc.Data)
	if err != nil {
		s.logger.Error("record decode failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	// 访问续期:失败不影响读取结果
	rec.Touch(s.now())
	if renewed, _, err := encodeRecord(rec, s.config.CompressThreshold); err == nil {
		expireAt := s.now().Add(retentionFor(rec.Metadata.Importance, s.config.BaseTTL))
		_, err := s.records.UpdateOne(opCtx, bson.M{"_id": id},
			bson.M{"$set": bson.M{"data": renewed, "expire_at": expireAt}})
		if err != nil {
			s.logger.Debug("access renewal failed", zap.String("id", id), zap.Error(err))
		}
	}

	return rec, nil
}

// IndexScan 按索引区间扫描记录 ID
func (s *MongoStore) IndexScan(ctx context.Context, q IndexQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}

	filter := bson.M{}
	switch q.Kind {
	case IndexByType:
		filter["type"] = q.Value
	case IndexByTag:
		filter["tags"] = normalizeIndexValue(q.Value)
	case IndexByImportance:
		filter["importance"] = q.Value
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown index kind: %q", q.Kind))
	}

	tsRange := bson.M{}
	if !q.Since.IsZero() {
		tsRange["$gte"] = q.Since.UnixMilli()
	}
	if !q.Until.IsZero() {
		tsRange["$lte"] = q.Until.UnixMilli()
	}
	if len(tsRange) > 0 {
		filter["ts"] = tsRange
	}

	sortDir := 1
	if q.Desc {
		sortDir = -1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "ts", Value: sortDir}}).
		SetProjection(bson.M{"_id": 1})
	if q.Limit > 0 {
		opts = opts.SetLimit(int64(q.Limit))
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	cur, err := s.records.Find(opCtx, filter, opts)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "mongodb index scan").
			WithCause(err).WithRetryable(true)
	}
	defer cur.Close(opCtx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(opCtx, &rows); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "mongodb cursor").
			WithCause(err).WithRetryable(true)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// AllRecordIDs 返回全部存活记录 ID
func (s *MongoStore) AllRecordIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	cur, err := s.records.Find(opCtx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "mongodb scan").
			WithCause(err).WithRetryable(true)
	}
	defer cur.Close(opCtx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(opCtx, &rows); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "mongodb cursor").
			WithCause(err).WithRetryable(true)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// SaveStats 持久化引擎统计快照
func (s *MongoStore) SaveStats(ctx context.Context, stats *types.EngineStats) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal engine stats: %w", err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	doc := mongoStateDoc{ID: "stats", Data: data}
	_, err = s.state.ReplaceOne(opCtx, bson.M{"_id": "stats"}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "save engine stats").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// LoadStats 读取引擎统计快照
func (s *MongoStore) LoadStats(ctx context.Context) (*types.EngineStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var doc mongoStateDoc
	err := s.state.FindOne(opCtx, bson.M{"_id": "stats"}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return &types.EngineStats{RecordsByType: map[types.MemoryType]int{}}, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load engine stats").
			WithCause(err).WithRetryable(true)
	}

	stats := &types.EngineStats{}
	if err := json.Unmarshal(doc.Data, stats); err != nil {
		return nil, fmt.Errorf("unmarshal engine stats: %w", err)
	}
	if stats.RecordsByType == nil {
		stats.RecordsByType = map[types.MemoryType]int{}
	}
	return stats, nil
}

// PushSummary 追加摘要,超出上限时裁剪到保留数
func (s *MongoStore) PushSummary(ctx context.Context, sum *types.ExecutiveSummary) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}

	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	doc := mongoSummaryDoc{
		ID:          fmt.Sprintf("sum:%d:%s", sum.GeneratedAt.UnixMilli(), sum.ID),
		Data:        data,
		GeneratedAt: sum.GeneratedAt,
	}
	if _, err := s.summaries.InsertOne(opCtx, doc); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "push summary").
			WithCause(err).WithRetryable(true)
	}

	count, err := s.summaries.CountDocuments(opCtx, bson.M{})
	if err != nil || count <= summaryHistoryMax {
		return nil
	}

	// 只保留最新 summaryHistoryTrim 条
	cur, err := s.summaries.Find(opCtx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "generated_at", Value: -1}}).
		SetSkip(summaryHistoryTrim).
		SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil
	}
	defer cur.Close(opCtx)

	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(opCtx, &stale); err != nil || len(stale) == 0 {
		return nil
	}
	staleIDs := make([]string, 0, len(stale))
	for _, d := range stale {
		staleIDs = append(staleIDs, d.ID)
	}
	if _, err := s.summaries.DeleteMany(opCtx, bson.M{"_id": bson.M{"$in": staleIDs}}); err != nil {
		s.logger.Warn("summary history trim failed", zap.Error(err))
	}
	return nil
}

// RecentSummaries 返回最近 n 条摘要,最新在前
func (s *MongoStore) RecentSummaries(ctx context.Context, n int) ([]*types.ExecutiveSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}
	if n <= 0 {
		n = summaryHistoryTrim
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	cur, err := s.summaries.Find(opCtx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "generated_at", Value: -1}}).
		SetLimit(int64(n)))
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "read summary history").
			WithCause(err).WithRetryable(true)
	}
	defer cur.Close(opCtx)

	var docs []mongoSummaryDoc
	if err := cur.All(opCtx, &docs); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "mongodb cursor").
			WithCause(err).WithRetryable(true)
	}

	out := make([]*types.ExecutiveSummary, 0, len(docs))
	for _, d := range docs {
		sum := &types.ExecutiveSummary{}
		if err := json.Unmarshal(d.Data, sum); err != nil {
			s.logger.Warn("corrupt summary history entry skipped", zap.Error(err))
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

// Enabled 报告存储可用
func (s *MongoStore) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Ping 检查 MongoDB 连接
func (s *MongoStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrStoreDisabled, "mongo store is closed")
	}
	return s.client.Ping(ctx, nil)
}

// Close 关闭存储
func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing mongo memory store")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// opContext 套用单次操作超时
func (s *MongoStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}
