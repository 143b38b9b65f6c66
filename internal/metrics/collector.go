package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 记忆存储指标
	storeOpsTotal     *prometheus.CounterVec
	storeOpDuration   *prometheus.HistogramVec
	sweepOrphansTotal prometheus.Counter

	// 检索指标
	queryDuration *prometheus.HistogramVec
	queryResults  *prometheus.HistogramVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec

	// 分析指标
	escalationsTotal *prometheus.CounterVec

	// 摘要指标
	summariesTotal *prometheus.CounterVec
	degradedTotal  prometheus.Counter

	// 模型指标
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerPromptTokens    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 记忆存储指标
	c.storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_store_ops_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"op", "status"},
	)

	c.storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_store_op_duration_seconds",
			Help:      "Memory store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"op"},
	)

	c.sweepOrphansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_sweep_orphans_total",
			Help:      "Total number of orphaned index members removed by the sweeper",
		},
	)

	// 检索指标
	c.queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_query_duration_seconds",
			Help:      "Relevance query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)

	c.queryResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_query_results",
			Help:      "Number of records returned per relevance query",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"status"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 分析指标
	c.escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_escalations_total",
			Help:      "Total number of pattern analyses grouped by attention outcome",
		},
		[]string{"requires_attention"},
	)

	// 摘要指标
	c.summariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of summarization runs grouped by outcome",
		},
		[]string{"outcome"},
	)

	c.degradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_degraded_total",
			Help:      "Total number of summaries produced without a language model",
		},
	)

	// 模型指标
	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of language model requests",
		},
		[]string{"model", "status"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Language model request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.providerPromptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_prompt_tokens_total",
			Help:      "Total number of prompt tokens sent to the language model",
		},
		[]string{"model"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🧠 存储指标记录
// =============================================================================

// RecordStoreOp 记录一次存储操作
func (c *Collector) RecordStoreOp(op string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.storeOpsTotal.WithLabelValues(op, status).Inc()
	c.storeOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSweepOrphans 记录清扫掉的孤儿索引成员数量
func (c *Collector) RecordSweepOrphans(n int) {
	c.sweepOrphansTotal.Add(float64(n))
}

// =============================================================================
// 🔍 检索指标记录
// =============================================================================

// RecordQuery 记录一次相关性查询
func (c *Collector) RecordQuery(results int, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.queryDuration.WithLabelValues(status).Observe(duration.Seconds())
	c.queryResults.WithLabelValues(status).Observe(float64(results))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 📈 分析与摘要指标记录
// =============================================================================

// RecordEscalation 记录一次模式分析的关注判定
func (c *Collector) RecordEscalation(requiresAttention bool) {
	label := "false"
	if requiresAttention {
		label = "true"
	}
	c.escalationsTotal.WithLabelValues(label).Inc()
}

// RecordSummary 记录一次摘要产出
func (c *Collector) RecordSummary(outcome string, degraded bool) {
	c.summariesTotal.WithLabelValues(outcome).Inc()
	if degraded {
		c.degradedTotal.Inc()
	}
}

// =============================================================================
// 🤖 模型指标记录
// =============================================================================

// RecordProviderRequest 记录一次模型调用
func (c *Collector) RecordProviderRequest(model string, err error, duration time.Duration, promptTokens int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.providerRequestsTotal.WithLabelValues(model, status).Inc()
	c.providerRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.providerPromptTokens.WithLabelValues(model).Add(float64(promptTokens))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
