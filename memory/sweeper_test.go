package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

func TestSweeper_RemovesOrphanIndexMembers(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// low importance = 30min TTL (基础 1h)
	shortLived, err := store.Store(ctx, testRecord(types.MemoryConversation,
		types.ConversationContent{MemberName: "joe", Message: "fleeting"},
		types.ImportanceLow, now))
	require.NoError(t, err)

	durable, err := store.Store(ctx, testRecord(types.MemoryEscalation,
		types.EscalationContent{Reason: "churn risk"},
		types.ImportanceUrgent, now))
	require.NoError(t, err)

	// 记录过期后索引成员成为孤儿
	mr.FastForward(31 * time.Minute)

	ids, err := store.IndexScan(ctx, IndexQuery{Kind: IndexByType, Value: string(types.MemoryConversation)})
	require.NoError(t, err)
	assert.Contains(t, ids, shortLived.ID, "orphan member still in index before sweep")

	sweeper := NewSweeper(store, DefaultSweepConfig(), zap.NewNop())
	result, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Greater(t, result.Removed, 0)

	ids, err = store.IndexScan(ctx, IndexQuery{Kind: IndexByType, Value: string(types.MemoryConversation)})
	require.NoError(t, err)
	assert.NotContains(t, ids, shortLived.ID)

	// 存活记录的索引成员不受影响
	ids, err = store.IndexScan(ctx, IndexQuery{Kind: IndexByType, Value: string(types.MemoryEscalation)})
	require.NoError(t, err)
	assert.Contains(t, ids, durable.ID)
}

func TestSweeper_ReportsResultToHook(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	_, err := store.Store(ctx, testRecord(types.MemoryConversation,
		types.ConversationContent{MemberName: "joe", Message: "fleeting"},
		types.ImportanceLow, time.Now()))
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)

	var reported []SweepResult
	sweeper := NewSweeper(store, DefaultSweepConfig(), zap.NewNop())
	sweeper.OnResult = func(res SweepResult) {
		reported = append(reported, res)
	}

	result, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Greater(t, result.Removed, 0)

	// 每次成功的清扫都要通知挂载的回调,内容与返回值一致
	require.Len(t, reported, 1)
	assert.Equal(t, result, reported[0])
}

func TestSweeper_StartStop(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	config := SweepConfig{Interval: 10 * time.Millisecond, BatchSize: 10}
	sweeper := NewSweeper(store, config, zap.NewNop())

	require.NoError(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Start(context.Background()), "second start is a no-op")

	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop() // 重复 Stop 安全
}
