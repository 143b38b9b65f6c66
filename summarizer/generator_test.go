package summarizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

type scriptedCompleter struct {
	reply string
	err   error
	calls int
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *scriptedCompleter) Model() string { return "gpt-4o-mini" }

func richUpdate(member string) types.StructuredUpdate {
	return types.StructuredUpdate{
		MemberName: member,
		RawText:    "Client Acme renewal is at risk, need legal review",
		Timestamp:  time.Now(),
		Priorities: []types.Priority{
			{Description: "Unblock Acme renewal", Urgency: "urgent"},
			{Description: "Prep QBR deck", Urgency: "normal"},
		},
		ActionItems:   []string{"Schedule legal review"},
		ClientRisk:    "Acme may churn at renewal",
		RevenueSignal: "Acme renewal worth $120k",
	}
}

func TestGenerate_EmptyBatchRejected(t *testing.T) {
	gen := NewGenerator(nil, 0, zap.NewNop())
	_, err := gen.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestGenerate_AggregationBuckets(t *testing.T) {
	gen := NewGenerator(nil, 0, zap.NewNop())

	sum, err := gen.Generate(context.Background(), []types.StructuredUpdate{
		richUpdate("joe"),
		{MemberName: "amy", RawText: "all quiet", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.UpdateCount)
	// 仅 urgent/high 优先事项进入关注桶
	require.Len(t, sum.CriticalAttention, 1)
	assert.Contains(t, sum.CriticalAttention[0], "Unblock Acme renewal")
	assert.Contains(t, sum.ResourceAllocation[0], "Schedule legal review")
	assert.Contains(t, sum.RevenueOpportunities[0], "$120k")
	assert.Contains(t, sum.RiskFactors[0], "churn")

	// 成员小节保持到达顺序
	require.Len(t, sum.Sections, 2)
	assert.Equal(t, "joe", sum.Sections[0].MemberName)
	assert.Equal(t, "amy", sum.Sections[1].MemberName)
}

func TestGenerate_FallbackWithoutProvider(t *testing.T) {
	gen := NewGenerator(nil, 0, zap.NewNop())

	sum, err := gen.Generate(context.Background(), []types.StructuredUpdate{richUpdate("joe")})
	require.NoError(t, err)
	assert.True(t, sum.Degraded)
	assert.NotEmpty(t, sum.RenderedText)
	assert.NotEmpty(t, sum.Headlines)
	assert.InDelta(t, 0.5, sum.Confidence, 0.01)
}

func TestGenerate_ProviderPath(t *testing.T) {
	completer := &scriptedCompleter{
		reply: `{"headlines":["Acme renewal at risk"],"recommendations":["Loop in legal"],"summary":"One urgent renewal needs attention."}`,
	}
	gen := NewGenerator(completer, 0, zap.NewNop())

	sum, err := gen.Generate(context.Background(), []types.StructuredUpdate{richUpdate("joe")})
	require.NoError(t, err)
	assert.False(t, sum.Degraded)
	assert.Equal(t, []string{"Acme renewal at risk"}, sum.Headlines)
	assert.Equal(t, []string{"Loop in legal"}, sum.Recommended)
	assert.Equal(t, "One urgent renewal needs attention.", sum.RenderedText)
	assert.Equal(t, "gpt-4o-mini", sum.ProviderModel)
	assert.Greater(t, sum.PromptTokens, 0)
	assert.Greater(t, sum.Confidence, 0.8)
	// 聚合桶与模型输出并存
	assert.NotEmpty(t, sum.CriticalAttention)
}

func TestGenerate_ProviderFailureFallsBack(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("upstream down")}
	gen := NewGenerator(completer, 0, zap.NewNop())

	sum, err := gen.Generate(context.Background(), []types.StructuredUpdate{richUpdate("joe")})
	require.NoError(t, err, "provider failure degrades, never errors")
	assert.True(t, sum.Degraded)
	assert.NotEmpty(t, sum.RenderedText)
}

func TestGenerate_ProviderProseFallsBack(t *testing.T) {
	completer := &scriptedCompleter{reply: "Sure! Here is your summary: things are fine."}
	gen := NewGenerator(completer, 0, zap.NewNop())

	sum, err := gen.Generate(context.Background(), []types.StructuredUpdate{richUpdate("joe")})
	require.NoError(t, err)
	assert.True(t, sum.Degraded, "non-JSON provider output must not be trusted")
}

func TestGenerate_TokenBudgetDropsOldest(t *testing.T) {
	completer := &scriptedCompleter{
		reply: `{"headlines":[],"recommendations":[],"summary":"ok"}`,
	}
	// 预算很小,指令开销之外塞不下几条更新
	gen := NewGenerator(completer, 120, zap.NewNop())

	updates := make([]types.StructuredUpdate, 10)
	for i := range updates {
		updates[i] = types.StructuredUpdate{
			MemberName: "joe",
			RawText:    "a reasonably long update line about ongoing project work and meetings",
			Timestamp:  time.Now(),
		}
	}
	sum, err := gen.Generate(context.Background(), updates)
	require.NoError(t, err)
	assert.LessOrEqual(t, sum.PromptTokens, 120)
	assert.Equal(t, 10, sum.UpdateCount, "buckets still aggregate every update")
}

func TestGenerate_CancelledContext(t *testing.T) {
	gen := NewGenerator(nil, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, []types.StructuredUpdate{richUpdate("joe")})
	require.Error(t, err)
	assert.Equal(t, types.ErrSummaryFailed, types.GetErrorCode(err))
}
