package types

import "time"

// MemberSection 摘要中单个成员的小节
type MemberSection struct {
	MemberName  string   `json:"member_name"`
	Highlights  []string `json:"highlights,omitempty"`
	ActionItems []string `json:"action_items,omitempty"`
	Risks       []string `json:"risks,omitempty"`
}

// ExecutiveSummary 由汇总器生成的高管摘要。
// 四个聚合桶(关注项/资源/营收/风险)由待汇总更新直接聚合而来,
// RenderedText 是面向高管的可读版本。生成后不可变。
type ExecutiveSummary struct {
	ID                   string          `json:"id,omitempty"`
	Headlines            []string        `json:"headlines,omitempty"`
	CriticalAttention    []string        `json:"critical_attention,omitempty"`
	ResourceAllocation   []string        `json:"resource_allocation,omitempty"`
	RevenueOpportunities []string        `json:"revenue_opportunities,omitempty"`
	RiskFactors          []string        `json:"risk_factors,omitempty"`
	Recommended          []string        `json:"recommended,omitempty"`
	Sections             []MemberSection `json:"sections,omitempty"`
	RenderedText         string          `json:"rendered_text,omitempty"`
	UpdateCount          int             `json:"update_count"`
	Confidence           float64         `json:"confidence,omitempty"`
	NoUpdates            bool            `json:"no_updates,omitempty"` // 强制生成且无待汇总更新
	Degraded             bool            `json:"degraded,omitempty"`   // 模型不可用时的降级拼接
	GeneratedAt          time.Time       `json:"generated_at"`
	GenerationMS         int64           `json:"generation_ms,omitempty"`
	PromptTokens         int             `json:"prompt_tokens,omitempty"`
	ProviderModel        string          `json:"provider_model,omitempty"`
}

// Empty 判断摘要是否为"无更新"占位结果
func (s *ExecutiveSummary) Empty() bool {
	return s.NoUpdates || s.UpdateCount == 0
}

// EngineStats 引擎运行统计快照,由存储层持久化
type EngineStats struct {
	TotalRecords      int64              `json:"total_records"`
	RecordsByType     map[MemoryType]int `json:"records_by_type,omitempty"`
	Queries           int64              `json:"queries"`
	CacheHits         int64              `json:"cache_hits"`
	CacheMisses       int64              `json:"cache_misses"`
	Escalations       int64              `json:"escalations"`
	SummariesBuilt    int64              `json:"summaries_built"`
	ProviderFallbacks int64              `json:"provider_fallbacks"`
	LastSummaryAt     time.Time          `json:"last_summary_at,omitempty"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
