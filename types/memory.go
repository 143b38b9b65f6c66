package types

import (
	"fmt"
	"time"
)

// MemoryType 记忆记录类型
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"       // 对话轮次
	MemoryTeamUpdate   MemoryType = "team_update"        // 团队成员更新
	MemoryExecutive    MemoryType = "executive_decision" // 高管决策
	MemoryEscalation   MemoryType = "escalation"         // 升级事件
	MemoryInsight      MemoryType = "insight"            // 提炼的洞察
	MemoryPattern      MemoryType = "pattern"            // 检测到的模式
	MemoryRelationship MemoryType = "relationship"       // 实体关系
	MemoryPreference   MemoryType = "preference"         // 成员偏好
)

// AllMemoryTypes 返回全部记录类型,顺序稳定
func AllMemoryTypes() []MemoryType {
	return []MemoryType{
		MemoryConversation,
		MemoryTeamUpdate,
		MemoryExecutive,
		MemoryEscalation,
		MemoryInsight,
		MemoryPattern,
		MemoryRelationship,
		MemoryPreference,
	}
}

// IsValid 校验记录类型
func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryConversation, MemoryTeamUpdate, MemoryExecutive, MemoryEscalation,
		MemoryInsight, MemoryPattern, MemoryRelationship, MemoryPreference:
		return true
	}
	return false
}

// Prefix 返回记录 ID 的类型前缀
func (t MemoryType) Prefix() string {
	switch t {
	case MemoryConversation:
		return "conv"
	case MemoryTeamUpdate:
		return "update"
	case MemoryExecutive:
		return "exec"
	case MemoryEscalation:
		return "esc"
	case MemoryInsight:
		return "insight"
	case MemoryPattern:
		return "pattern"
	case MemoryRelationship:
		return "rel"
	case MemoryPreference:
		return "pref"
	default:
		return "mem"
	}
}

// ParseMemoryType 从字符串解析记录类型
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown memory type: %q", s)
	}
	return t, nil
}

// Importance 重要性级别,决定保留时长
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// IsValid 校验重要性级别
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return true
	}
	return false
}

// RetentionFactor 返回基础 TTL 的缩放系数。
// 重要性是唯一允许影响过期时间的字段。
func (i Importance) RetentionFactor() float64 {
	switch i {
	case ImportanceHigh, ImportanceUrgent:
		return 3.0
	case ImportanceLow:
		return 0.5
	default:
		return 1.0
	}
}

// ParseImportance 从字符串解析重要性,空串按 normal 处理
func ParseImportance(s string) (Importance, error) {
	if s == "" {
		return ImportanceNormal, nil
	}
	i := Importance(s)
	if !i.IsValid() {
		return "", fmt.Errorf("unknown importance: %q", s)
	}
	return i, nil
}

// RecordMetadata 记录元数据
type RecordMetadata struct {
	Timestamp  time.Time         `json:"timestamp"`             // 创建时间
	Source     string            `json:"source,omitempty"`      // 来源成员或上下文名称
	Importance Importance        `json:"importance"`            // 重要性级别
	Tags       []string          `json:"tags,omitempty"`        // 分类标签
	RelatedIDs []string          `json:"related_ids,omitempty"` // 关联记录 ID
	Extra      map[string]string `json:"extra,omitempty"`       // 任意注记
}

// MemoryRecord 引擎持久化的最小记忆单元。
// Content 在内存中始终为解码后的载荷;压缩是存储层的编码细节,
// Compressed 仅表示最近一次持久化时内容被压缩过。
type MemoryRecord struct {
	ID           string         `json:"id"`
	Type         MemoryType     `json:"type"`
	Content      RecordContent  `json:"-"`
	Metadata     RecordMetadata `json:"metadata"`
	Compressed   bool           `json:"compressed,omitempty"`
	AccessCount  int            `json:"access_count,omitempty"`
	LastAccessed time.Time      `json:"last_accessed,omitempty"`
}

// Touch 记录一次访问
func (r *MemoryRecord) Touch(now time.Time) {
	r.AccessCount++
	r.LastAccessed = now
}

// HasTag 判断记录是否带指定标签
func (r *MemoryRecord) HasTag(tag string) bool {
	for _, t := range r.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate 校验记录的完整性
func (r *MemoryRecord) Validate() error {
	if r.ID == "" {
		return NewValidationError("record id is empty")
	}
	if !r.Type.IsValid() {
		return NewValidationError(fmt.Sprintf("invalid memory type: %q", r.Type))
	}
	if r.Content == nil {
		return NewValidationError("record content is nil")
	}
	if r.Content.MemoryType() != r.Type {
		return NewValidationError(fmt.Sprintf("content kind %q does not match record type %q",
			r.Content.MemoryType(), r.Type))
	}
	if !r.Metadata.Importance.IsValid() {
		return NewValidationError(fmt.Sprintf("invalid importance: %q", r.Metadata.Importance))
	}
	if r.Metadata.Timestamp.IsZero() {
		return NewValidationError("metadata timestamp is zero")
	}
	return nil
}
