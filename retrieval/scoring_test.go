package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/copp1723/team-crm-sub000/types"
)

func scoringRecord(msg string, imp types.Importance, ts time.Time) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:      "conv:1:abcd1234",
		Type:    types.MemoryConversation,
		Content: types.ConversationContent{MemberName: "m", Message: msg},
		Metadata: types.RecordMetadata{
			Timestamp:  ts,
			Importance: imp,
		},
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "drops short tokens",
			input:    "is it an acme deal",
			expected: []string{"acme", "deal"},
		},
		{
			name:     "lowercases",
			input:    "ACME Deal",
			expected: []string{"acme", "deal"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: []string{},
		},
		{
			name:     "whitespace only",
			input:    "   \t  ",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestScore_Components(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("lexical occurrences", func(t *testing.T) {
		// 7 天前:recency 为 0,占比只剩词频 + normal 加成 0.1
		old := now.Add(-RecencyWindow)
		rec := scoringRecord("deal deal deal", types.ImportanceNormal, old)
		got := Score(rec, []string{"deal"}, now)
		assert.InDelta(t, 0.1*3+0.1, got, 1e-9)
	})

	t.Run("recency fresh", func(t *testing.T) {
		rec := scoringRecord("nothing relevant", types.ImportanceNormal, now)
		got := Score(rec, []string{"zzz"}, now)
		assert.InDelta(t, 0.3+0.1, got, 1e-9)
	})

	t.Run("recency halfway", func(t *testing.T) {
		rec := scoringRecord("nothing relevant", types.ImportanceLow, now.Add(-RecencyWindow/2))
		got := Score(rec, []string{"zzz"}, now)
		assert.InDelta(t, 0.15+0.05, got, 1e-9)
	})

	t.Run("importance boosts", func(t *testing.T) {
		old := now.Add(-2 * RecencyWindow)
		for imp, want := range map[types.Importance]float64{
			types.ImportanceUrgent: 0.4,
			types.ImportanceHigh:   0.3,
			types.ImportanceNormal: 0.1,
			types.ImportanceLow:    0.05,
		} {
			rec := scoringRecord("x", imp, old)
			assert.InDelta(t, want, Score(rec, nil, now), 1e-9, "importance %s", imp)
		}
	})

	t.Run("clamped to one", func(t *testing.T) {
		rec := scoringRecord("deal deal deal deal deal deal deal deal deal deal", types.ImportanceUrgent, now)
		assert.Equal(t, 1.0, Score(rec, []string{"deal"}, now))
	})

	t.Run("future timestamp counts as fresh", func(t *testing.T) {
		rec := scoringRecord("x", types.ImportanceNormal, now.Add(time.Hour))
		assert.InDelta(t, 0.3+0.1, Score(rec, []string{"zzz"}, now), 1e-9)
	})
}

func TestProperty_ScoreAlwaysInUnitRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		msg := rapid.StringMatching(`[a-z ]{0,200}`).Draw(rt, "msg")
		query := rapid.StringMatching(`[a-z ]{0,50}`).Draw(rt, "query")
		ageHours := rapid.IntRange(-24, 24*30).Draw(rt, "ageHours")
		imp := rapid.SampledFrom([]types.Importance{
			types.ImportanceLow, types.ImportanceNormal,
			types.ImportanceHigh, types.ImportanceUrgent,
		}).Draw(rt, "importance")

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		rec := scoringRecord(msg, imp, now.Add(-time.Duration(ageHours)*time.Hour))

		got := Score(rec, Tokenize(query), now)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	})
}

func TestSortScored_TieBreak(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := ScoredRecord{Record: scoringRecord("a", types.ImportanceNormal, now.Add(-time.Hour)), Score: 0.80}
	newer := ScoredRecord{Record: scoringRecord("b", types.ImportanceNormal, now), Score: 0.75}
	high := ScoredRecord{Record: scoringRecord("c", types.ImportanceNormal, now.Add(-48*time.Hour)), Score: 0.95}

	scored := []ScoredRecord{older, newer, high}
	sortScored(scored)

	// 0.95 在平局窗口外排第一;0.80 与 0.75 是近平局,新的在前
	assert.Equal(t, "c", scored[0].Record.Content.(types.ConversationContent).Message)
	assert.Equal(t, "b", scored[1].Record.Content.(types.ConversationContent).Message)
	assert.Equal(t, "a", scored[2].Record.Content.(types.ConversationContent).Message)
}
