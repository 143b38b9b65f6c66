package types

import (
	"encoding/json"
	"fmt"
)

// RecordContent 按记录类型区分的内容载荷。
// 每个 MemoryType 对应一个具体结构,由 DecodeContent 按类型还原。
type RecordContent interface {
	// MemoryType 返回该载荷所属的记录类型
	MemoryType() MemoryType
}

// ConversationContent 对话轮次
type ConversationContent struct {
	MemberName string   `json:"member_name"`
	Message    string   `json:"message"`
	Response   string   `json:"response,omitempty"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Intent     string   `json:"intent,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

func (ConversationContent) MemoryType() MemoryType { return MemoryConversation }

// TeamUpdateContent 团队成员更新,保留原文与解析结果
type TeamUpdateContent struct {
	MemberName    string   `json:"member_name"`
	RawText       string   `json:"raw_text"`
	Priorities    []string `json:"priorities,omitempty"`
	ActionItems   []string `json:"action_items,omitempty"`
	ClientRisk    string   `json:"client_risk,omitempty"`
	RevenueSignal string   `json:"revenue_signal,omitempty"`
	Sentiment     string   `json:"sentiment,omitempty"`
}

func (TeamUpdateContent) MemoryType() MemoryType { return MemoryTeamUpdate }

// ExecutiveContent 高管决策
type ExecutiveContent struct {
	Decision  string `json:"decision"`
	DecidedBy string `json:"decided_by,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Impact    string `json:"impact,omitempty"`
}

func (ExecutiveContent) MemoryType() MemoryType { return MemoryExecutive }

// EscalationContent 升级事件
type EscalationContent struct {
	Reason      string  `json:"reason"`
	Severity    string  `json:"severity,omitempty"`
	TriggeredBy string  `json:"triggered_by,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

func (EscalationContent) MemoryType() MemoryType { return MemoryEscalation }

// InsightContent 提炼的洞察
type InsightContent struct {
	Insight    string   `json:"insight"`
	Evidence   []string `json:"evidence,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

func (InsightContent) MemoryType() MemoryType { return MemoryInsight }

// PatternContent 检测到的模式
type PatternContent struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Stats       map[string]float64 `json:"stats,omitempty"`
}

func (PatternContent) MemoryType() MemoryType { return MemoryPattern }

// RelationshipContent 实体间关系
type RelationshipContent struct {
	Subject  string `json:"subject"`
	Object   string `json:"object"`
	Relation string `json:"relation"`
	Note     string `json:"note,omitempty"`
}

func (RelationshipContent) MemoryType() MemoryType { return MemoryRelationship }

// PreferenceContent 成员偏好
type PreferenceContent struct {
	MemberName string `json:"member_name"`
	Preference string `json:"preference"`
	Value      string `json:"value,omitempty"`
}

func (PreferenceContent) MemoryType() MemoryType { return MemoryPreference }

// EncodeContent 将载荷序列化为 JSON
func EncodeContent(c RecordContent) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("content is nil")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", c.MemoryType(), err)
	}
	return data, nil
}

// DecodeContent 按记录类型还原载荷
func DecodeContent(t MemoryType, data []byte) (RecordContent, error) {
	var (
		c   RecordContent
		err error
	)
	switch t {
	case MemoryConversation:
		v := &ConversationContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryTeamUpdate:
		v := &TeamUpdateContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryExecutive:
		v := &ExecutiveContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryEscalation:
		v := &EscalationContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryInsight:
		v := &InsightContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryPattern:
		v := &PatternContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryRelationship:
		v := &RelationshipContent{}
		err = json.Unmarshal(data, v)
		c = *v
	case MemoryPreference:
		v := &PreferenceContent{}
		err = json.Unmarshal(data, v)
		c = *v
	default:
		return nil, fmt.Errorf("unknown memory type: %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", t, err)
	}
	return c, nil
}

// SentimentOf 返回记录内容携带的情绪标签,无标签返回空串
func SentimentOf(r *MemoryRecord) string {
	switch c := r.Content.(type) {
	case ConversationContent:
		return c.Sentiment
	case TeamUpdateContent:
		return c.Sentiment
	default:
		return ""
	}
}
