package analysis

import (
	"fmt"
	"sort"

	"github.com/copp1723/team-crm-sub000/types"
)

// Suggestions 由模式分析结果生成跟进建议。
// 结果按优先级 high > medium > low 排序,同级保持生成顺序。
func (a *Analyzer) Suggestions(summary types.PatternSummary) []types.FollowUpSuggestion {
	var out []types.FollowUpSuggestion

	if summary.Confidence > attentionThreshold {
		out = append(out, types.FollowUpSuggestion{
			Kind:            types.SuggestEscalate,
			Priority:        types.PriorityHigh,
			Title:           "Escalation signals detected",
			Description:     fmt.Sprintf("escalation confidence %.2f across %d records", summary.Confidence, summary.RecordCount),
			SuggestedAction: "Review the situation and loop in an executive if the blocker persists.",
			Confidence:      summary.Confidence,
		})
	}

	if summary.HasRecentUrgent {
		out = append(out, types.FollowUpSuggestion{
			Kind:            types.SuggestFollowUp,
			Priority:        types.PriorityHigh,
			Title:           "Urgent item in the last 24 hours",
			Description:     "At least one urgent record was created within the last day.",
			SuggestedAction: "Confirm the urgent item has an owner and a next step.",
			Confidence:      0.9,
		})
	}

	if summary.Frequency.Trend == types.FreqDecreasing {
		out = append(out, types.FollowUpSuggestion{
			Kind:     types.SuggestReconnect,
			Priority: types.PriorityMedium,
			Title:    "Communication frequency dropping",
			Description: fmt.Sprintf("last contact %.1fh ago vs %.1fh average interval",
				summary.Frequency.HoursSinceLast, summary.Frequency.AvgIntervalHours),
			SuggestedAction: "Reach out with a check-in message.",
			Confidence:      0.7,
		})
	}

	if summary.Sentiment.Overall == "negative" {
		out = append(out, types.FollowUpSuggestion{
			Kind:            types.SuggestCheckIn,
			Priority:        types.PriorityMedium,
			Title:           "Negative sentiment trend",
			Description:     fmt.Sprintf("%.0f%% of labeled records are negative", summary.Sentiment.NegativeRatio*100),
			SuggestedAction: "Ask what is blocking progress and whether help is needed.",
			Confidence:      0.6,
		})
	}

	if len(summary.Topics) > 0 && summary.Topics[0].Count >= 3 {
		top := summary.Topics[0]
		out = append(out, types.FollowUpSuggestion{
			Kind:            types.SuggestFollowUp,
			Priority:        types.PriorityLow,
			Title:           fmt.Sprintf("Recurring topic: %s", top.Topic),
			Description:     fmt.Sprintf("%q appeared %d times in recent history", top.Topic, top.Count),
			SuggestedAction: fmt.Sprintf("Consider a dedicated thread or meeting about %q.", top.Topic),
			Confidence:      0.5,
		})
	}

	// 稳定排序保证同级建议保持生成顺序
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}
