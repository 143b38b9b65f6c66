package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/analysis"
	"github.com/copp1723/team-crm-sub000/internal/metrics"
	"github.com/copp1723/team-crm-sub000/llm"
	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/retrieval"
	"github.com/copp1723/team-crm-sub000/summarizer"
	"github.com/copp1723/team-crm-sub000/types"
)

// tracer 与全局 TracerProvider 晚绑定,遥测未启用时全部为 noop
var tracer = otel.Tracer("teamcrm/engine")

// Config 引擎自身的配置,各组件的配置归各组件
type Config struct {
	// 统计快照落盘间隔
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`

	// 上下文缓存条目存活时长,按 (成员, 会话) 维度缓存
	ContextCacheTTL time.Duration `yaml:"context_cache_ttl" json:"context_cache_ttl"`

	// 单次消息处理取用的上下文记录上限
	ContextLimit int `yaml:"context_limit" json:"context_limit"`

	// 留存清扫配置,仅 Redis 后端生效
	Sweep memory.SweepConfig `yaml:"sweep" json:"sweep"`
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{
		StatsInterval:   5 * time.Minute,
		ContextCacheTTL: 2 * time.Minute,
		ContextLimit:    10,
		Sweep:           memory.DefaultSweepConfig(),
	}
}

// Options 引擎的装配件。Completer、Sweeper 与 Metrics 可为 nil:
// 无补全器时走启发式降级,无清扫器时不做索引清扫,无采集器时不打点。
type Options struct {
	Store     memory.RecordStore
	Retriever *retrieval.Retriever
	Analyzer  *analysis.Analyzer
	Batcher   *summarizer.Batcher
	Completer llm.Completer
	Sweeper   *memory.Sweeper
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Engine 进程级外观,生命周期为 New → Initialize → ... → Shutdown
type Engine struct {
	config    Config
	store     memory.RecordStore
	retriever *retrieval.Retriever
	analyzer  *analysis.Analyzer
	batcher   *summarizer.Batcher
	completer llm.Completer
	sweeper   *memory.Sweeper
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	cache       map[string]*cachedContext
	stats       types.EngineStats
	initialized bool
	closed      bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New 装配引擎,不启动任何后台协程
func New(config Config, opts Options) *Engine {
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultConfig().StatsInterval
	}
	if config.ContextCacheTTL <= 0 {
		config.ContextCacheTTL = DefaultConfig().ContextCacheTTL
	}
	if config.ContextLimit <= 0 {
		config.ContextLimit = DefaultConfig().ContextLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:    config,
		store:     opts.Store,
		retriever: opts.Retriever,
		analyzer:  opts.Analyzer,
		batcher:   opts.Batcher,
		completer: opts.Completer,
		sweeper:   opts.Sweeper,
		metrics:   opts.Metrics,
		logger:    logger.With(zap.String("component", "engine")),
		now:       time.Now,
		cache:     make(map[string]*cachedContext),
		stats:     types.EngineStats{RecordsByType: map[types.MemoryType]int{}},
		stopCh:    make(chan struct{}),
	}
}

// Initialize 恢复统计快照并启动后台协程。重复调用是空操作。
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.NewError(types.ErrEngineClosed, "engine already shut down")
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	if stats, err := e.store.LoadStats(ctx); err != nil {
		e.logger.Warn("stats snapshot restore failed", zap.Error(err))
	} else {
		e.mu.Lock()
		e.stats = *stats
		if e.stats.RecordsByType == nil {
			e.stats.RecordsByType = map[types.MemoryType]int{}
		}
		e.mu.Unlock()
	}

	if e.sweeper != nil {
		if err := e.sweeper.Start(ctx); err != nil {
			return err
		}
	}
	if e.batcher != nil {
		if err := e.batcher.Start(ctx); err != nil {
			return err
		}
	}

	e.wg.Add(1)
	go e.statsLoop(ctx)

	e.logger.Info("engine initialized",
		zap.Bool("memory_enabled", e.store.Enabled()),
		zap.Bool("provider_configured", e.completer != nil),
	)
	return nil
}

// Shutdown 停止后台协程并落盘最终统计快照。幂等。
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.initialized
	e.mu.Unlock()

	if started {
		close(e.stopCh)
		if e.batcher != nil {
			e.batcher.Stop()
		}
		if e.sweeper != nil {
			e.sweeper.Stop()
		}
		e.wg.Wait()
	}

	e.saveStats(ctx)
	e.logger.Info("engine shut down")
	return nil
}

// Stats 返回当前统计快照的副本
func (e *Engine) Stats() types.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.stats
	out.RecordsByType = make(map[types.MemoryType]int, len(e.stats.RecordsByType))
	for k, v := range e.stats.RecordsByType {
		out.RecordsByType[k] = v
	}
	return out
}

// Batcher 暴露汇总批处理器,供运维面强制汇总
func (e *Engine) Batcher() *summarizer.Batcher { return e.batcher }

// Store 暴露记录存储,供运维面读取摘要历史与健康状态
func (e *Engine) Store() memory.RecordStore { return e.store }

// statsLoop 周期性落盘统计快照
func (e *Engine) statsLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.saveStats(ctx)
		}
	}
}

// saveStats 尽力而为地持久化统计,失败只记日志
func (e *Engine) saveStats(ctx context.Context) {
	e.mu.Lock()
	e.stats.UpdatedAt = e.now()
	snapshot := e.stats
	e.mu.Unlock()

	if err := e.store.SaveStats(ctx, &snapshot); err != nil {
		e.logger.Warn("stats snapshot persist failed", zap.Error(err))
	}
}

// storeRecord 所有记录写入的统一出口,顺带埋 span 与存储打点
func (e *Engine) storeRecord(ctx context.Context, rec *types.MemoryRecord) (memory.StoreResult, error) {
	ctx, span := tracer.Start(ctx, "memory.store")
	defer span.End()

	start := e.now()
	result, err := e.store.Store(ctx, rec)
	if e.metrics != nil {
		e.metrics.RecordStoreOp("store", err, e.now().Sub(start))
	}
	span.SetAttributes(
		attribute.String("record.type", string(rec.Type)),
		attribute.Bool("stored", result.Stored),
	)
	return result, err
}

// checkOpen 返回引擎是否可以接收请求
func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return types.NewError(types.ErrEngineClosed, "engine already shut down")
	}
	return nil
}
