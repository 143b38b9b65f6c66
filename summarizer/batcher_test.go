package summarizer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/types"
)

// fakeClock 可手动推进的测试时钟
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBatcher(t *testing.T, sinks ...SummarySink) (*Batcher, *fakeClock, memory.RecordStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := memory.DefaultConfig()
	config.Redis.Addr = mr.Addr()
	config.Redis.HealthCheckInterval = 0
	store, err := memory.NewRedisStore(config, zap.NewNop())
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)}
	gen := NewGenerator(nil, 0, zap.NewNop())
	gen.now = clock.Now

	b := NewBatcher(DefaultConfig(), gen, store, zap.NewNop(), sinks...)
	b.now = clock.Now
	b.startedAt = clock.Now()
	return b, clock, store, mr
}

func update(member, text string) types.StructuredUpdate {
	return types.StructuredUpdate{MemberName: member, RawText: text}
}

func TestBatcher_CountTrigger(t *testing.T) {
	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	// threshold-1 条更新不触发
	for i := 0; i < b.config.Threshold-1; i++ {
		out, err := b.ReceiveUpdate(ctx, update("joe", "working on the pipeline"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAccumulating, out.Status)
		assert.Equal(t, i+1, out.Pending)
	}

	// 第 threshold 条触发恰好一次,批次清空
	out, err := b.ReceiveUpdate(ctx, update("amy", "closed the quarter"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSummarized, out.Status)
	require.NotNil(t, out.Summary)
	assert.Equal(t, b.config.Threshold, out.Summary.UpdateCount)
	assert.Equal(t, 0, b.PendingCount())
	assert.Equal(t, StateAccumulating, b.State())
}

func TestBatcher_LoneUpdateDoesNotTriggerAtStartup(t *testing.T) {
	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()

	out, err := b.ReceiveUpdate(context.Background(), update("joe", "quiet day"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccumulating, out.Status)
	assert.Equal(t, 1, b.PendingCount())
}

func TestBatcher_TimeTrigger(t *testing.T) {
	b, clock, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	_, err := b.ReceiveUpdate(ctx, update("joe", "one lonely update"))
	require.NoError(t, err)

	// 未到 30 分钟不触发
	clock.Advance(29 * time.Minute)
	_, fired := b.EvaluateTick(ctx)
	assert.False(t, fired)

	// 跨过 30 分钟后时间触发器生效
	clock.Advance(2 * time.Minute)
	out, fired := b.EvaluateTick(ctx)
	require.True(t, fired)
	assert.Equal(t, OutcomeSummarized, out.Status)
	assert.Equal(t, 1, out.Summary.UpdateCount)
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_TimeTriggerMeasuresFromLastSummary(t *testing.T) {
	b, clock, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	// 先凑满一次计数触发,确立 lastSummary
	for i := 0; i < b.config.Threshold; i++ {
		_, err := b.ReceiveUpdate(ctx, update("joe", "item"))
		require.NoError(t, err)
	}

	// 新的单条更新从上次摘要时间重新计时
	clock.Advance(10 * time.Minute)
	_, err := b.ReceiveUpdate(ctx, update("amy", "late addition"))
	require.NoError(t, err)

	clock.Advance(15 * time.Minute) // 距上次摘要 25 分钟
	_, fired := b.EvaluateTick(ctx)
	assert.False(t, fired)

	clock.Advance(10 * time.Minute) // 距上次摘要 35 分钟
	_, fired = b.EvaluateTick(ctx)
	assert.True(t, fired)
}

func TestBatcher_EmptyTickNeverFires(t *testing.T) {
	b, clock, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()

	clock.Advance(5 * time.Hour)
	_, fired := b.EvaluateTick(context.Background())
	assert.False(t, fired, "empty batch must not summarize on the time trigger")
}

func TestBatcher_ForceWithEmptyBatch(t *testing.T) {
	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()

	out := b.ForceSummarize(context.Background())
	assert.Equal(t, OutcomeNoUpdates, out.Status)
	require.NotNil(t, out.Summary)
	assert.True(t, out.Summary.NoUpdates)
	assert.True(t, out.Summary.Empty())
}

func TestBatcher_ForceWithPending(t *testing.T) {
	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	_, err := b.ReceiveUpdate(ctx, update("joe", "only one"))
	require.NoError(t, err)

	out := b.ForceSummarize(ctx)
	assert.Equal(t, OutcomeSummarized, out.Status)
	assert.Equal(t, 1, out.Summary.UpdateCount)
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_ValidationRejected(t *testing.T) {
	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()

	_, err := b.ReceiveUpdate(context.Background(), types.StructuredUpdate{MemberName: "joe"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 0, b.PendingCount(), "invalid update must not enter the batch")
}

func TestBatcher_FailurePreservesPending(t *testing.T) {
	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < b.config.Threshold-1; i++ {
		_, err := b.ReceiveUpdate(ctx, update("joe", "item"))
		require.NoError(t, err)
	}

	// 取消上下文让生成失败:批次必须完整保留
	cancel()
	out, err := b.ReceiveUpdate(ctx, update("amy", "the last straw"))
	require.NoError(t, err, "ingestion itself never fails")
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.NotEmpty(t, out.Reason)
	assert.Equal(t, b.config.Threshold, b.PendingCount())

	// 恢复后下一次触发把保留的批次全部带上
	out, err = b.ReceiveUpdate(context.Background(), update("bob", "recovery"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSummarized, out.Status)
	assert.Equal(t, b.config.Threshold+1, out.Summary.UpdateCount)
}

type captureSink struct {
	saved []*types.ExecutiveSummary
}

func (s *captureSink) SaveSummary(ctx context.Context, sum *types.ExecutiveSummary) error {
	s.saved = append(s.saved, sum)
	return nil
}

func TestBatcher_PersistsHistoryRecordAndSinks(t *testing.T) {
	sink := &captureSink{}
	b, _, store, mr := newTestBatcher(t, sink)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < b.config.Threshold; i++ {
		_, err := b.ReceiveUpdate(ctx, update("joe", "shipping the connector"))
		require.NoError(t, err)
	}

	// 滚动历史
	sums, err := store.RecentSummaries(ctx, 5)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, b.config.Threshold, sums[0].UpdateCount)

	// 摘要同时落为一条 insight 记忆记录
	ids, err := store.IndexScan(ctx, memory.IndexQuery{
		Kind: memory.IndexByTag, Value: "executive-summary",
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	rec, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.MemoryInsight, rec.Type)

	// 归档 sink 收到同一条摘要
	require.Len(t, sink.saved, 1)
	assert.Equal(t, sums[0].ID, sink.saved[0].ID)
}

func TestBatcher_FlushEmitsSpan(t *testing.T) {
	// 全局 TracerProvider 的委托只绑定一次,录制型 provider
	// 的安装集中在这一个用例里
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	b, _, store, mr := newTestBatcher(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < b.config.Threshold; i++ {
		_, err := b.ReceiveUpdate(ctx, update("joe", "working the backlog"))
		require.NoError(t, err)
	}

	var flush sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "summarizer.flush" {
			flush = span
		}
	}
	require.NotNil(t, flush, "a triggered summarization must be traced")

	attrs := make(map[string]string)
	for _, kv := range flush.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, string(OutcomeSummarized), attrs["outcome"])
}

func TestBatcher_NoopStoreStillSummarizes(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	gen := NewGenerator(nil, 0, zap.NewNop())
	b := NewBatcher(DefaultConfig(), gen, memory.NewNoopStore(zap.NewNop()), zap.NewNop())
	b.now = clock.Now

	ctx := context.Background()
	for i := 0; i < b.config.Threshold; i++ {
		out, err := b.ReceiveUpdate(ctx, update("joe", "item"))
		require.NoError(t, err)
		if i == b.config.Threshold-1 {
			assert.Equal(t, OutcomeSummarized, out.Status)
		}
	}
}
