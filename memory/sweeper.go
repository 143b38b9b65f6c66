package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepConfig configures the index sweeper.
type SweepConfig struct {
	Interval  time.Duration `yaml:"interval" json:"interval"`     // How often to sweep
	BatchSize int           `yaml:"batch_size" json:"batch_size"` // Existence checks per pipeline round
}

// DefaultSweepConfig returns sensible defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  time.Hour,
		BatchSize: 100,
	}
}

// SweepResult contains the results of one sweep pass.
type SweepResult struct {
	Timestamp    time.Time `json:"timestamp"`
	IndexesSwept int       `json:"indexes_swept"`
	Checked      int       `json:"checked"`
	Removed      int       `json:"removed"`
}

// Sweeper removes index members whose record key already expired.
// Records carry a TTL while index ZSET members do not, so each
// expired record leaves one orphan member per index it was in.
type Sweeper struct {
	store  *RedisStore
	config SweepConfig
	logger *zap.Logger

	// OnResult receives the result of every successful sweep pass.
	// Set before Start; the loop reads it without a lock.
	OnResult func(SweepResult)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSweeper creates an index sweeper over a Redis-backed store.
func NewSweeper(store *RedisStore, config SweepConfig, logger *zap.Logger) *Sweeper {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweepConfig().BatchSize
	}
	return &Sweeper{
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "memory-sweeper")),
		stopCh: make(chan struct{}),
	}
}

// Start starts the periodic sweep loop.
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)
	w.logger.Info("index sweeper started", zap.Duration("interval", w.config.Interval))
	return nil
}

// Stop stops the periodic sweep loop.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	w.logger.Info("index sweeper stopped")
}

func (w *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs a single sweep pass over all index ZSETs.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Timestamp: w.store.now()}

	indexKeys, err := w.indexKeys(ctx)
	if err != nil {
		return result, err
	}

	for _, idx := range indexKeys {
		members, err := w.store.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return result, fmt.Errorf("read index %s: %w", idx, err)
		}
		result.IndexesSwept++

		for start := 0; start < len(members); start += w.config.BatchSize {
			end := start + w.config.BatchSize
			if end > len(members) {
				end = len(members)
			}
			batch := members[start:end]

			cmds := make([]*redis.IntCmd, len(batch))
			_, err := w.store.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, id := range batch {
					cmds[i] = pipe.Exists(ctx, RecordKey(id))
				}
				return nil
			})
			if err != nil {
				return result, fmt.Errorf("check records in %s: %w", idx, err)
			}

			var orphans []interface{}
			for i, cmd := range cmds {
				result.Checked++
				if cmd.Val() == 0 {
					orphans = append(orphans, batch[i])
				}
			}
			if len(orphans) > 0 {
				if err := w.store.client.ZRem(ctx, idx, orphans...).Err(); err != nil {
					return result, fmt.Errorf("remove orphans from %s: %w", idx, err)
				}
				result.Removed += len(orphans)
			}
		}
	}

	if err := w.store.client.Set(ctx, lastSweepKey, result.Timestamp.UnixMilli(), 0).Err(); err != nil {
		w.logger.Debug("record sweep timestamp failed", zap.Error(err))
	}

	w.logger.Info("sweep completed",
		zap.Int("indexes", result.IndexesSwept),
		zap.Int("checked", result.Checked),
		zap.Int("removed", result.Removed),
	)
	if w.OnResult != nil {
		w.OnResult(result)
	}
	return result, nil
}

// indexKeys scans all index ZSET keys.
func (w *Sweeper) indexKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := w.store.client.Scan(ctx, cursor, idxKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan index keys: %w", err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
