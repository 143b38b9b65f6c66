// Package analysis 从检索到的记忆集合中提炼沟通模式:
// 频率走向、情绪分布、主题词频、紧急占比,并给出升级置信度。
// 所有子分析相互独立,容忍空输入与短输入。
package analysis

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/types"
)

// 升级置信度的加分项与判定阈值。
// 三个触发条件是严格析取关系:任一条件单独成立即要求关注。
const (
	escalationTagBoost   = 0.3 // 记录带 escalation 标签
	dealMentionBoost     = 0.2 // 内容提及 deal/contract
	blockedMentionBoost  = 0.4 // 内容提及 blocked/stuck/issue
	attentionThreshold   = 0.6
	recentUrgentWindow   = 24 * time.Hour
	topTopicCount        = 5
	minTopicWordLen      = 4
	decreasingMultiplier = 2.0 // 距上次间隔超过平均间隔的倍数即视为频率下降
)

// 内容关键词,命中即加分。小写匹配。
var (
	dealWords    = []string{"deal", "contract"}
	blockedWords = []string{"blocked", "stuck", "issue"}
)

// Analyzer 模式分析器。纯计算,无 I/O,可安全并发调用。
type Analyzer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAnalyzer 创建模式分析器
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		logger: logger.With(zap.String("component", "analyzer")),
		now:    time.Now,
	}
}

// Analyze 对一组记忆记录执行全部子分析并汇总
func (a *Analyzer) Analyze(records []*types.MemoryRecord) types.PatternSummary {
	now := a.now()

	summary := types.PatternSummary{
		RecordCount: len(records),
		Frequency:   a.frequency(records, now),
		Sentiment:   a.sentiment(records),
		Topics:      a.topics(records),
		AnalyzedAt:  now,
	}
	summary.UrgencyRatio, summary.HasRecentUrgent = a.urgency(records, now)
	summary.Confidence = a.escalationConfidence(records)

	// 严格析取:任一条件成立即需要关注
	summary.RequiresAttention = summary.Confidence > attentionThreshold ||
		summary.HasRecentUrgent ||
		summary.Frequency.Trend == types.FreqDecreasing

	if summary.RequiresAttention {
		a.logger.Debug("attention required",
			zap.Float64("confidence", summary.Confidence),
			zap.Bool("recent_urgent", summary.HasRecentUrgent),
			zap.String("trend", string(summary.Frequency.Trend)),
		)
	}
	return summary
}

// frequency 计算沟通频率统计。样本不足两条时走向为 insufficient_data。
func (a *Analyzer) frequency(records []*types.MemoryRecord, now time.Time) types.FrequencyStats {
	stats := types.FrequencyStats{
		Trend:       types.FreqInsufficient,
		SampleCount: len(records),
	}
	if len(records) < 2 {
		return stats
	}

	stamps := make([]time.Time, 0, len(records))
	for _, rec := range records {
		stamps = append(stamps, rec.Metadata.Timestamp)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	var total time.Duration
	for i := 1; i < len(stamps); i++ {
		total += stamps[i].Sub(stamps[i-1])
	}
	avg := total / time.Duration(len(stamps)-1)

	stats.AvgIntervalHours = avg.Hours()
	stats.HoursSinceLast = now.Sub(stamps[len(stamps)-1]).Hours()

	if stats.AvgIntervalHours > 0 && stats.HoursSinceLast > decreasingMultiplier*stats.AvgIntervalHours {
		stats.Trend = types.FreqDecreasing
	} else {
		stats.Trend = types.FreqNormal
	}
	return stats
}

// sentiment 统计记录内容自带的情绪标签,多数者为整体情绪
func (a *Analyzer) sentiment(records []*types.MemoryRecord) types.SentimentStats {
	stats := types.SentimentStats{Overall: "neutral"}

	var positive, negative, labeled int
	for _, rec := range records {
		switch types.SentimentOf(rec) {
		case "positive":
			positive++
			labeled++
		case "negative":
			negative++
			labeled++
		case "neutral":
			labeled++
		}
	}
	if labeled == 0 {
		return stats
	}

	stats.PositiveRatio = float64(positive) / float64(labeled)
	stats.NegativeRatio = float64(negative) / float64(labeled)
	neutral := labeled - positive - negative

	switch {
	case positive > negative && positive > neutral:
		stats.Overall = "positive"
	case negative > positive && negative > neutral:
		stats.Overall = "negative"
	}
	return stats
}

// topics 对全部内容做词频统计,返回前 topTopicCount 个主题词。
// 并列词按字典序保证结果稳定。
func (a *Analyzer) topics(records []*types.MemoryRecord) []types.TopicCount {
	counts := make(map[string]int)
	for _, rec := range records {
		for _, w := range strings.Fields(strings.ToLower(FlattenContent(rec))) {
			w = strings.Trim(w, `.,;:!?"'()[]{}`)
			if len(w) < minTopicWordLen {
				continue
			}
			counts[w]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	out := make([]types.TopicCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, types.TopicCount{Topic: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > topTopicCount {
		out = out[:topTopicCount]
	}
	return out
}

// urgency 计算紧急记录占比,以及 24 小时内是否存在 urgent 记录
func (a *Analyzer) urgency(records []*types.MemoryRecord, now time.Time) (ratio float64, hasRecentUrgent bool) {
	if len(records) == 0 {
		return 0, false
	}

	var urgent int
	for _, rec := range records {
		switch rec.Metadata.Importance {
		case types.ImportanceUrgent:
			urgent++
			if now.Sub(rec.Metadata.Timestamp) < recentUrgentWindow {
				hasRecentUrgent = true
			}
		case types.ImportanceHigh:
			urgent++
		}
	}
	return float64(urgent) / float64(len(records)), hasRecentUrgent
}

// escalationConfidence 计算升级置信度,各加分项只计一次,结果截断到 [0,1]
func (a *Analyzer) escalationConfidence(records []*types.MemoryRecord) float64 {
	var tagged, deal, blocked bool
	for _, rec := range records {
		if !tagged && rec.HasTag("escalation") {
			tagged = true
		}
		if deal && blocked {
			break
		}
		flat := strings.ToLower(FlattenContent(rec))
		if !deal && containsAny(flat, dealWords) {
			deal = true
		}
		if !blocked && containsAny(flat, blockedWords) {
			blocked = true
		}
	}

	confidence := 0.0
	if tagged {
		confidence += escalationTagBoost
	}
	if deal {
		confidence += dealMentionBoost
	}
	if blocked {
		confidence += blockedMentionBoost
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// containsAny 判断文本是否包含任一关键词
func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
