package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/types"
)

// Raising the result limit must never drop a record that a smaller
// limit returned: rankings are stable prefixes of each other.
func TestProperty_LimitMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60

	properties := gopter.NewProperties(parameters)

	properties.Property("raising limit never removes a result", prop.ForAll(
		func(recordCount, smallLimit, extraLimit, seed int) bool {
			mr, err := miniredis.Run()
			if err != nil {
				t.Logf("miniredis: %v", err)
				return false
			}
			defer mr.Close()

			config := memory.DefaultConfig()
			config.BaseTTL = 30 * 24 * time.Hour
			config.Redis.Addr = mr.Addr()
			config.Redis.HealthCheckInterval = 0

			store, err := memory.NewRedisStore(config, zap.NewNop())
			if err != nil {
				t.Logf("store: %v", err)
				return false
			}
			defer store.Close()

			importances := []types.Importance{
				types.ImportanceLow, types.ImportanceNormal,
				types.ImportanceHigh, types.ImportanceUrgent,
			}
			words := []string{"deal", "contract", "blocked", "review", "launch"}

			now := time.Now()
			for i := 0; i < recordCount; i++ {
				msg := fmt.Sprintf("%s update %d", words[(i+seed)%len(words)], i)
				rec := &types.MemoryRecord{
					Type:    types.MemoryConversation,
					Content: types.ConversationContent{MemberName: "m", Message: msg},
					Metadata: types.RecordMetadata{
						Timestamp:  now.Add(-time.Duration((i*7+seed)%96) * time.Hour),
						Importance: importances[(i*3+seed)%len(importances)],
					},
				}
				if _, err := store.Store(context.Background(), rec); err != nil {
					t.Logf("store record: %v", err)
					return false
				}
			}

			r := NewRetriever(store, DefaultConfig(), zap.NewNop())

			small := r.Retrieve(context.Background(), Query{Text: "deal", Limit: smallLimit})
			large := r.Retrieve(context.Background(), Query{Text: "deal", Limit: smallLimit + extraLimit})

			largeIDs := make(map[string]bool, len(large))
			for _, s := range large {
				largeIDs[s.Record.ID] = true
			}
			for _, s := range small {
				if !largeIDs[s.Record.ID] {
					t.Logf("record %s present at limit %d but missing at limit %d",
						s.Record.ID, smallLimit, smallLimit+extraLimit)
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 25), // recordCount
		gen.IntRange(1, 10), // smallLimit
		gen.IntRange(1, 10), // extraLimit
		gen.IntRange(0, 50), // seed
	))

	properties.TestingRun(t)
}
