package types

import "time"

// FrequencyTrend 沟通频率走向
type FrequencyTrend string

const (
	FreqDecreasing   FrequencyTrend = "decreasing"
	FreqNormal       FrequencyTrend = "normal"
	FreqInsufficient FrequencyTrend = "insufficient_data"
)

// FrequencyStats 沟通频率统计
type FrequencyStats struct {
	Trend            FrequencyTrend `json:"trend"`
	AvgIntervalHours float64        `json:"avg_interval_hours,omitempty"`
	HoursSinceLast   float64        `json:"hours_since_last,omitempty"`
	SampleCount      int            `json:"sample_count"`
}

// SentimentStats 情绪统计,标签取自记录内容自带的情绪字段
type SentimentStats struct {
	Overall       string  `json:"overall"` // positive|negative|neutral
	PositiveRatio float64 `json:"positive_ratio"`
	NegativeRatio float64 `json:"negative_ratio"`
}

// TopicCount 主题词及出现次数
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// PatternSummary 模式分析结果
type PatternSummary struct {
	RecordCount       int            `json:"record_count"`
	Frequency         FrequencyStats `json:"frequency"`
	Sentiment         SentimentStats `json:"sentiment"`
	Topics            []TopicCount   `json:"topics,omitempty"`
	UrgencyRatio      float64        `json:"urgency_ratio"`
	HasRecentUrgent   bool           `json:"has_recent_urgent"`
	Confidence        float64        `json:"confidence"` // 升级置信度 [0,1]
	RequiresAttention bool           `json:"requires_attention"`
	AnalyzedAt        time.Time      `json:"analyzed_at"`
}

// SuggestionKind 跟进建议类别
type SuggestionKind string

const (
	SuggestFollowUp  SuggestionKind = "follow_up"
	SuggestEscalate  SuggestionKind = "escalate"
	SuggestCheckIn   SuggestionKind = "check_in"
	SuggestReconnect SuggestionKind = "reconnect"
)

// SuggestionPriority 建议优先级,排序时 high > medium > low
type SuggestionPriority string

const (
	PriorityHigh   SuggestionPriority = "high"
	PriorityMedium SuggestionPriority = "medium"
	PriorityLow    SuggestionPriority = "low"
)

// Rank 返回优先级排序权重,越小越靠前
func (p SuggestionPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// FollowUpSuggestion 分析器给出的跟进建议
type FollowUpSuggestion struct {
	Kind            SuggestionKind     `json:"kind"`
	Priority        SuggestionPriority `json:"priority"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	SuggestedAction string             `json:"suggested_action,omitempty"`
	Confidence      float64            `json:"confidence"`
}
