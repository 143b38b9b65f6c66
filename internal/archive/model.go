package archive

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/copp1723/team-crm-sub000/types"
)

// StringList 以 JSON 文本落库的字符串切片列
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported column type %T for StringList", src)
	}
}

// SectionList 以 JSON 文本落库的成员小节列
type SectionList []types.MemberSection

func (l SectionList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *SectionList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported column type %T for SectionList", src)
	}
}

// SummaryRow 高管摘要的归档行。滚动内存历史只保留最近若干条,
// 这张表保留全量,供回溯查询。
type SummaryRow struct {
	ID                   string      `gorm:"column:id;primaryKey;size:64"`
	Headlines            StringList  `gorm:"column:headlines;type:text"`
	CriticalAttention    StringList  `gorm:"column:critical_attention;type:text"`
	ResourceAllocation   StringList  `gorm:"column:resource_allocation;type:text"`
	RevenueOpportunities StringList  `gorm:"column:revenue_opportunities;type:text"`
	RiskFactors          StringList  `gorm:"column:risk_factors;type:text"`
	Recommended          StringList  `gorm:"column:recommended;type:text"`
	Sections             SectionList `gorm:"column:sections;type:text"`
	RenderedText         string      `gorm:"column:rendered_text;type:text"`
	UpdateCount          int         `gorm:"column:update_count"`
	Confidence           float64     `gorm:"column:confidence"`
	Degraded             bool        `gorm:"column:degraded"`
	ProviderModel        string      `gorm:"column:provider_model;size:128"`
	PromptTokens         int         `gorm:"column:prompt_tokens"`
	GenerationMS         int64       `gorm:"column:generation_ms"`
	GeneratedAt          time.Time   `gorm:"column:generated_at;index"`
	CreatedAt            time.Time   `gorm:"column:created_at;autoCreateTime"`
}

// TableName 固定表名,避免 GORM 复数推断
func (SummaryRow) TableName() string { return "executive_summaries" }

func rowFromSummary(sum *types.ExecutiveSummary) *SummaryRow {
	return &SummaryRow{
		ID:                   sum.ID,
		Headlines:            StringList(sum.Headlines),
		CriticalAttention:    StringList(sum.CriticalAttention),
		ResourceAllocation:   StringList(sum.ResourceAllocation),
		RevenueOpportunities: StringList(sum.RevenueOpportunities),
		RiskFactors:          StringList(sum.RiskFactors),
		Recommended:          StringList(sum.Recommended),
		Sections:             SectionList(sum.Sections),
		RenderedText:         sum.RenderedText,
		UpdateCount:          sum.UpdateCount,
		Confidence:           sum.Confidence,
		Degraded:             sum.Degraded,
		ProviderModel:        sum.ProviderModel,
		PromptTokens:         sum.PromptTokens,
		GenerationMS:         sum.GenerationMS,
		GeneratedAt:          sum.GeneratedAt,
	}
}

func (r *SummaryRow) toSummary() *types.ExecutiveSummary {
	return &types.ExecutiveSummary{
		ID:                   r.ID,
		Headlines:            []string(r.Headlines),
		CriticalAttention:    []string(r.CriticalAttention),
		ResourceAllocation:   []string(r.ResourceAllocation),
		RevenueOpportunities: []string(r.RevenueOpportunities),
		RiskFactors:          []string(r.RiskFactors),
		Recommended:          []string(r.Recommended),
		Sections:             []types.MemberSection(r.Sections),
		RenderedText:         r.RenderedText,
		UpdateCount:          r.UpdateCount,
		Confidence:           r.Confidence,
		Degraded:             r.Degraded,
		ProviderModel:        r.ProviderModel,
		PromptTokens:         r.PromptTokens,
		GenerationMS:         r.GenerationMS,
		GeneratedAt:          r.GeneratedAt,
	}
}
