package summarizer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/types"
)

// 不变式:时钟静止时,连续送入 n 条更新产生 floor(n/threshold) 次摘要,
// 每次摘要恰好消费 threshold 条,剩余 n mod threshold 条留在批次里。
func TestProperty_Batcher_CountTriggerExact(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 6).Draw(rt, "threshold")
		n := rapid.IntRange(0, 30).Draw(rt, "n")

		clock := &fakeClock{t: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)}
		gen := NewGenerator(nil, 0, zap.NewNop())
		gen.now = clock.Now

		config := DefaultConfig()
		config.Threshold = threshold
		b := NewBatcher(config, gen, memory.NewNoopStore(zap.NewNop()), zap.NewNop())
		b.now = clock.Now
		b.startedAt = clock.Now()

		ctx := context.Background()
		summaries := 0
		for i := 0; i < n; i++ {
			out, err := b.ReceiveUpdate(ctx, types.StructuredUpdate{
				MemberName: "m", RawText: "update",
			})
			if err != nil {
				rt.Fatalf("unexpected error: %v", err)
			}
			if out.Status == OutcomeSummarized {
				summaries++
				if out.Summary.UpdateCount != threshold {
					rt.Fatalf("summary consumed %d updates, want %d",
						out.Summary.UpdateCount, threshold)
				}
			}
		}

		if want := n / threshold; summaries != want {
			rt.Fatalf("produced %d summaries for n=%d threshold=%d, want %d",
				summaries, n, threshold, want)
		}
		if want := n % threshold; b.PendingCount() != want {
			rt.Fatalf("pending=%d, want %d", b.PendingCount(), want)
		}
	})
}
