package metrics

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.storeOpsTotal)
	assert.NotNil(t, collector.queryDuration)
	assert.NotNil(t, collector.summariesTotal)
	assert.NotNil(t, collector.providerRequestsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/stats", 200, 100*time.Millisecond)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/api/v1/stats", 200, 50*time.Millisecond)
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordStoreOp(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStoreOp("store", nil, 5*time.Millisecond)
	collector.RecordStoreOp("get", errors.New("boom"), 2*time.Millisecond)

	// success 与 error 两条序列
	count := testutil.CollectAndCount(collector.storeOpsTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordQueryAndCache(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordQuery(5, nil, 20*time.Millisecond)
	collector.RecordCacheHit("retrieval")
	collector.RecordCacheMiss("retrieval")

	assert.Greater(t, testutil.CollectAndCount(collector.queryDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollector_RecordEscalationAndSummary(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordEscalation(true)
	collector.RecordEscalation(false)
	collector.RecordSummary("summarized", true)
	collector.RecordSummary("failed", false)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.escalationsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.summariesTotal))
	assert.InDelta(t, 1.0, testutil.ToFloat64(collector.degradedTotal), 0.001)
}

func TestCollector_RecordProviderRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordProviderRequest("gpt-4o-mini", nil, 500*time.Millisecond, 120)

	assert.Greater(t, testutil.CollectAndCount(collector.providerRequestsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.providerPromptTokens), 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("POST", "/api/v1/updates", 202, 10*time.Millisecond)
			collector.RecordStoreOp("store", nil, time.Millisecond)
			collector.RecordCacheHit("retrieval")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.httpRequestsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.storeOpsTotal), 0)
	assert.InDelta(t, 10.0, testutil.ToFloat64(collector.cacheHits.WithLabelValues("retrieval")), 0.001)
}

func TestStatusCode(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		42:  "unknown",
	}
	for code, want := range cases {
		assert.Equal(t, want, statusCode(code))
	}
}
