package types

import "time"

// ConversationInput 对话层送入引擎的一条消息
type ConversationInput struct {
	Message        string    `json:"message"`
	MemberName     string    `json:"member_name"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Urgency        string    `json:"urgency,omitempty"`
	IsExecutive    bool      `json:"is_executive,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// Validate 校验输入的必填字段
func (in *ConversationInput) Validate() error {
	if in.Message == "" {
		return NewValidationError("message is empty")
	}
	if in.MemberName == "" {
		return NewValidationError("member_name is empty")
	}
	return nil
}

// ConversationResult 引擎返回给对话层的处理结果
type ConversationResult struct {
	Response                  string               `json:"response,omitempty"`
	FollowUpSuggestions       []FollowUpSuggestion `json:"follow_up_suggestions,omitempty"`
	EscalationRecommendations []string             `json:"escalation_recommendations,omitempty"`
	Insights                  []string             `json:"insights,omitempty"`
	Confidence                float64              `json:"confidence"`
	MemoryUsed                int                  `json:"memory_used"`
	Pattern                   *PatternSummary      `json:"pattern,omitempty"`
}
