package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/analysis"
	"github.com/copp1723/team-crm-sub000/retrieval"
	"github.com/copp1723/team-crm-sub000/summarizer"
	"github.com/copp1723/team-crm-sub000/types"
)

const (
	// 单条对话记录回链的上下文记录上限
	maxRelatedLinks = 5

	// 模型回复与启发式降级回复的基准置信度
	providerConfidence  = 0.9
	heuristicConfidence = 0.5
)

// ProcessMessage 处理一条对话消息:装配上下文 → 模式分析 → 生成回复 →
// 写回记忆并与上下文记录建立双向关联。记忆层故障不会让本方法报错。
func (e *Engine) ProcessMessage(ctx context.Context, in types.ConversationInput) (*types.ConversationResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now()
	}

	scored, cacheHit := e.loadContext(ctx, in.MemberName, in.ConversationID, in.Message)
	records := make([]*types.MemoryRecord, 0, len(scored))
	for _, s := range scored {
		records = append(records, s.Record)
	}

	_, analyzeSpan := tracer.Start(ctx, "analysis.analyze")
	pattern := e.analyzer.Analyze(records)
	analyzeSpan.SetAttributes(
		attribute.Float64("confidence", pattern.Confidence),
		attribute.Bool("requires_attention", pattern.RequiresAttention),
	)
	analyzeSpan.End()

	suggestions := e.analyzer.Suggestions(pattern)
	if e.metrics != nil {
		e.metrics.RecordEscalation(pattern.RequiresAttention)
	}

	response, degraded := e.respond(ctx, in, records, pattern)
	confidence := providerConfidence
	if degraded {
		confidence = heuristicConfidence
		e.mu.Lock()
		e.stats.ProviderFallbacks++
		e.mu.Unlock()
	}

	var escalations []string
	for _, s := range suggestions {
		if s.Kind == types.SuggestEscalate {
			escalations = append(escalations, s.SuggestedAction)
		}
	}
	if pattern.RequiresAttention {
		e.mu.Lock()
		e.stats.Escalations++
		e.mu.Unlock()
		e.storeEscalationRecord(ctx, in, pattern)
	}

	e.storeConversation(ctx, in, response, scored)

	e.logger.Debug("message processed",
		zap.String("member", in.MemberName),
		zap.Int("memory_used", len(records)),
		zap.Bool("cache_hit", cacheHit),
		zap.Bool("degraded", degraded),
		zap.Bool("requires_attention", pattern.RequiresAttention),
	)

	return &types.ConversationResult{
		Response:                  response,
		FollowUpSuggestions:       suggestions,
		EscalationRecommendations: escalations,
		Insights:                  buildInsights(pattern),
		Confidence:                confidence,
		MemoryUsed:                len(records),
		Pattern:                   &pattern,
	}, nil
}

// HandleUpdate 接收一条团队成员更新:先落记忆记录,再交给汇总批处理器
func (e *Engine) HandleUpdate(ctx context.Context, u types.StructuredUpdate) (summarizer.Outcome, error) {
	if err := e.checkOpen(); err != nil {
		return summarizer.Outcome{}, err
	}
	if err := u.Validate(); err != nil {
		return summarizer.Outcome{}, err
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = e.now()
	}

	priorities := make([]string, 0, len(u.Priorities))
	for _, p := range u.Priorities {
		priorities = append(priorities, p.Description)
	}
	imp := types.ImportanceNormal
	if u.HasRisk() || len(u.UrgentPriorities()) > 0 {
		imp = types.ImportanceHigh
	}

	rec := &types.MemoryRecord{
		Type: types.MemoryTeamUpdate,
		Content: types.TeamUpdateContent{
			MemberName:    u.MemberName,
			RawText:       u.RawText,
			Priorities:    priorities,
			ActionItems:   u.ActionItems,
			ClientRisk:    u.ClientRisk,
			RevenueSignal: u.RevenueSignal,
			Sentiment:     u.Sentiment,
		},
		Metadata: types.RecordMetadata{
			Timestamp:  u.Timestamp,
			Source:     u.MemberName,
			Importance: imp,
			Tags:       []string{memberTag(u.MemberName), "team-update"},
		},
	}
	if result, _ := e.storeRecord(ctx, rec); result.Stored {
		e.noteStored(rec.Type)
	}

	outcome, err := e.batcher.ReceiveUpdate(ctx, u)
	if err != nil {
		return outcome, err
	}

	if outcome.Status == summarizer.OutcomeSummarized && outcome.Summary != nil {
		e.mu.Lock()
		e.stats.SummariesBuilt++
		e.stats.LastSummaryAt = outcome.Summary.GeneratedAt
		e.mu.Unlock()
	}
	if e.metrics != nil && outcome.Status != summarizer.OutcomeAccumulating {
		degraded := outcome.Summary != nil && outcome.Summary.Degraded
		e.metrics.RecordSummary(string(outcome.Status), degraded)
	}
	return outcome, nil
}

// RecordExecutiveDecision 高管决策生产者路径
func (e *Engine) RecordExecutiveDecision(ctx context.Context, c types.ExecutiveContent) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if c.Decision == "" {
		return types.NewValidationError("decision is empty")
	}

	rec := &types.MemoryRecord{
		Type:    types.MemoryExecutive,
		Content: c,
		Metadata: types.RecordMetadata{
			Timestamp:  e.now(),
			Source:     c.DecidedBy,
			Importance: types.ImportanceHigh,
			Tags:       []string{"executive", "decision"},
		},
	}
	if result, _ := e.storeRecord(ctx, rec); result.Stored {
		e.noteStored(rec.Type)
	}
	return nil
}

// RecordEscalation 升级事件生产者路径
func (e *Engine) RecordEscalation(ctx context.Context, c types.EscalationContent) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if c.Reason == "" {
		return types.NewValidationError("escalation reason is empty")
	}

	rec := &types.MemoryRecord{
		Type:    types.MemoryEscalation,
		Content: c,
		Metadata: types.RecordMetadata{
			Timestamp:  e.now(),
			Source:     c.TriggeredBy,
			Importance: types.ImportanceUrgent,
			Tags:       []string{"escalation"},
		},
	}
	if result, _ := e.storeRecord(ctx, rec); result.Stored {
		e.noteStored(rec.Type)
	}

	e.mu.Lock()
	e.stats.Escalations++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordEscalation(true)
	}
	return nil
}

// respond 生成回复。补全器缺失或调用失败时退化为启发式拼接。
func (e *Engine) respond(ctx context.Context, in types.ConversationInput, records []*types.MemoryRecord, pattern types.PatternSummary) (string, bool) {
	if e.completer == nil {
		return heuristicResponse(in, pattern), true
	}

	start := e.now()
	out, err := e.completer.Complete(ctx, buildPrompt(in, records, pattern))
	if e.metrics != nil {
		e.metrics.RecordProviderRequest(e.completer.Model(), err, e.now().Sub(start), 0)
	}
	if err != nil {
		e.logger.Warn("provider completion failed, heuristic fallback",
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err),
		)
		return heuristicResponse(in, pattern), true
	}
	return strings.TrimSpace(out), false
}

// storeConversation 落一条对话记录并回链上下文记录。
// 回链通过带原 ID 重新 Store 完成,Store 对已有 ID 即为更新。
func (e *Engine) storeConversation(ctx context.Context, in types.ConversationInput, response string, scored []retrieval.ScoredRecord) {
	related := make([]string, 0, maxRelatedLinks)
	for _, s := range scored {
		if len(related) == maxRelatedLinks {
			break
		}
		related = append(related, s.Record.ID)
	}

	rec := &types.MemoryRecord{
		Type: types.MemoryConversation,
		Content: types.ConversationContent{
			MemberName: in.MemberName,
			Message:    in.Message,
			Response:   response,
			Intent:     detectIntent(in.Message),
		},
		Metadata: types.RecordMetadata{
			Timestamp:  in.Timestamp,
			Source:     in.MemberName,
			Importance: importanceForUrgency(in.Urgency),
			Tags:       conversationTags(in),
			RelatedIDs: related,
		},
	}
	result, _ := e.storeRecord(ctx, rec)
	if !result.Stored {
		return
	}
	e.noteStored(rec.Type)

	// 双向关联:把新记录的 ID 追加进每条被回链的上下文记录。
	// 上下文记录被缓存共享,同一会话的并发请求会拿到同一个指针,
	// 所以先整体拷贝再改,绝不原地追加 RelatedIDs。
	for _, s := range scored {
		if !containsString(related, s.Record.ID) {
			continue
		}
		if containsString(s.Record.Metadata.RelatedIDs, result.ID) {
			continue
		}
		linked := *s.Record
		linked.Metadata.RelatedIDs = append(
			append([]string(nil), s.Record.Metadata.RelatedIDs...), result.ID)
		if _, err := e.storeRecord(ctx, &linked); err != nil {
			e.logger.Debug("relationship write-back failed",
				zap.String("id", linked.ID), zap.Error(err))
		}
	}
}

// storeEscalationRecord 把分析器判定的关注事件落为升级记录
func (e *Engine) storeEscalationRecord(ctx context.Context, in types.ConversationInput, pattern types.PatternSummary) {
	rec := &types.MemoryRecord{
		Type: types.MemoryEscalation,
		Content: types.EscalationContent{
			Reason:      escalationReason(pattern),
			Severity:    "high",
			TriggeredBy: in.MemberName,
			Confidence:  pattern.Confidence,
		},
		Metadata: types.RecordMetadata{
			Timestamp:  in.Timestamp,
			Source:     in.MemberName,
			Importance: types.ImportanceUrgent,
			Tags:       []string{memberTag(in.MemberName), "escalation"},
		},
	}
	if result, _ := e.storeRecord(ctx, rec); result.Stored {
		e.noteStored(rec.Type)
	}
}

// noteStored 计入一次成功写入
func (e *Engine) noteStored(t types.MemoryType) {
	e.mu.Lock()
	e.stats.TotalRecords++
	e.stats.RecordsByType[t]++
	e.mu.Unlock()
}

// buildPrompt 把上下文、模式提示与当前消息拼成补全提示
func buildPrompt(in types.ConversationInput, records []*types.MemoryRecord, pattern types.PatternSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Team member %s says: %s\n\n", in.MemberName, in.Message)

	if len(records) > 0 {
		b.WriteString("Relevant history:\n")
		for _, rec := range records {
			text := analysis.FlattenContent(rec)
			if text == "" {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s\n", rec.Type, text)
		}
		b.WriteString("\n")
	}

	if pattern.RequiresAttention {
		fmt.Fprintf(&b, "Pattern analysis flags this thread for attention (confidence %.2f).\n", pattern.Confidence)
	}
	if pattern.Frequency.Trend == types.FreqDecreasing {
		b.WriteString("Communication frequency from this member is decreasing.\n")
	}

	b.WriteString("\nReply as a pragmatic team assistant: acknowledge, surface risks, propose the next concrete step.")
	return b.String()
}

// heuristicResponse 无模型时的确定性降级回复
func heuristicResponse(in types.ConversationInput, pattern types.PatternSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Noted, %s.", in.MemberName)

	if pattern.RequiresAttention {
		b.WriteString(" This thread shows signals that need attention; flagging it for escalation review.")
	} else if pattern.RecordCount > 0 {
		fmt.Fprintf(&b, " I have %d related memory entries on this topic.", pattern.RecordCount)
	}
	if in.Urgency == string(types.ImportanceUrgent) || in.Urgency == string(types.ImportanceHigh) {
		b.WriteString(" Marked as high urgency.")
	}
	return b.String()
}

// buildInsights 把模式摘要转成可读的洞察要点
func buildInsights(pattern types.PatternSummary) []string {
	var out []string
	if pattern.Frequency.Trend == types.FreqDecreasing {
		out = append(out, fmt.Sprintf(
			"communication frequency decreasing: %.1fh since last contact vs %.1fh average",
			pattern.Frequency.HoursSinceLast, pattern.Frequency.AvgIntervalHours))
	}
	if pattern.Sentiment.Overall == "negative" {
		out = append(out, fmt.Sprintf("sentiment trending negative (%.0f%% of recent records)",
			pattern.Sentiment.NegativeRatio*100))
	}
	if pattern.HasRecentUrgent {
		out = append(out, "urgent activity within the last 24 hours")
	}
	for i, topic := range pattern.Topics {
		if i == 3 {
			break
		}
		out = append(out, fmt.Sprintf("recurring topic %q (%d mentions)", topic.Topic, topic.Count))
	}
	return out
}

// escalationReason 为升级记录挑一条主导原因
func escalationReason(pattern types.PatternSummary) string {
	switch {
	case pattern.HasRecentUrgent:
		return "recent urgent activity"
	case pattern.Confidence >= 0.7:
		return fmt.Sprintf("escalation confidence %.2f", pattern.Confidence)
	case pattern.Sentiment.Overall == "negative" && pattern.Frequency.Trend == types.FreqDecreasing:
		return "negative sentiment with decreasing communication"
	default:
		return "pattern analysis flagged attention"
	}
}

// conversationTags 从意图与紧急度推导记录标签
func conversationTags(in types.ConversationInput) []string {
	tags := []string{memberTag(in.MemberName), "intent:" + detectIntent(in.Message)}
	if in.Urgency != "" {
		tags = append(tags, "urgency:"+in.Urgency)
	}
	if in.IsExecutive {
		tags = append(tags, "executive")
	}
	return tags
}

// detectIntent 轻量意图判别,够打标签用
func detectIntent(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "blocked") || strings.Contains(lower, "help") || strings.Contains(lower, "urgent"):
		return "assistance"
	case strings.Contains(message, "?"):
		return "question"
	default:
		return "status"
	}
}

func importanceForUrgency(urgency string) types.Importance {
	imp, err := types.ParseImportance(urgency)
	if err != nil {
		return types.ImportanceNormal
	}
	return imp
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
