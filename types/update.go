package types

import "time"

// Priority 更新中提取的优先事项
type Priority struct {
	Description string `json:"description"`
	Urgency     string `json:"urgency,omitempty"` // low|normal|high|urgent
}

// StructuredUpdate 解析后的团队成员更新,
// 是汇总器累积与摘要生成的输入单元。
type StructuredUpdate struct {
	ID            string     `json:"id,omitempty"`
	MemberName    string     `json:"member_name"`
	RawText       string     `json:"raw_text"`
	Priorities    []Priority `json:"priorities,omitempty"`
	ActionItems   []string   `json:"action_items,omitempty"`
	ClientRisk    string     `json:"client_risk,omitempty"`
	RevenueSignal string     `json:"revenue_signal,omitempty"`
	Sentiment     string     `json:"sentiment,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Validate 校验更新的必填字段
func (u *StructuredUpdate) Validate() error {
	if u.MemberName == "" {
		return NewValidationError("update member_name is empty")
	}
	if u.RawText == "" {
		return NewValidationError("update raw_text is empty")
	}
	return nil
}

// HasRisk 判断更新是否携带客户风险信号
func (u *StructuredUpdate) HasRisk() bool {
	return u.ClientRisk != ""
}

// UrgentPriorities 返回紧急优先事项
func (u *StructuredUpdate) UrgentPriorities() []Priority {
	var out []Priority
	for _, p := range u.Priorities {
		if p.Urgency == string(ImportanceUrgent) || p.Urgency == string(ImportanceHigh) {
			out = append(out, p)
		}
	}
	return out
}
