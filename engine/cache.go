package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/retrieval"
)

// cachedContext 一份已装配的对话上下文
type cachedContext struct {
	results   []retrieval.ScoredRecord
	expiresAt time.Time
}

// contextCacheKey 上下文缓存按 (成员, 会话) 维度命中,
// 同一会话内的连续消息复用同一份上下文直到过期。
func contextCacheKey(member, conversationID string) string {
	return member + "|" + conversationID
}

// loadContext 返回对话上下文,命中缓存时跳过检索
func (e *Engine) loadContext(ctx context.Context, member, conversationID, text string) ([]retrieval.ScoredRecord, bool) {
	key := contextCacheKey(member, conversationID)

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && e.now().Before(entry.expiresAt) {
		e.stats.CacheHits++
		// 调用方各拿一份切片头,缓存持有的那份不外漏
		results := make([]retrieval.ScoredRecord, len(entry.results))
		copy(results, entry.results)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.RecordCacheHit("context")
		}
		return results, true
	}
	e.stats.CacheMisses++
	e.stats.Queries++
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordCacheMiss("context")
	}

	queryCtx, span := tracer.Start(ctx, "retrieval.query")
	start := e.now()
	results := e.retriever.Retrieve(queryCtx, retrieval.Query{
		Text:  text,
		Tags:  []string{memberTag(member)},
		Limit: e.config.ContextLimit,
	})
	span.SetAttributes(
		attribute.String("member", member),
		attribute.Int("results", len(results)),
	)
	span.End()
	if e.metrics != nil {
		e.metrics.RecordQuery(len(results), nil, e.now().Sub(start))
	}

	e.mu.Lock()
	e.cache[key] = &cachedContext{
		results:   results,
		expiresAt: e.now().Add(e.config.ContextCacheTTL),
	}
	e.pruneCacheLocked()
	e.mu.Unlock()

	e.logger.Debug("context assembled",
		zap.String("member", member),
		zap.Int("records", len(results)),
	)
	return results, false
}

// pruneCacheLocked 剔除过期条目,调用方持有 e.mu
func (e *Engine) pruneCacheLocked() {
	now := e.now()
	for key, entry := range e.cache {
		if !now.Before(entry.expiresAt) {
			delete(e.cache, key)
		}
	}
}

// memberTag 成员维度的记录标签
func memberTag(member string) string {
	return "member:" + member
}
