package analysis

import (
	"encoding/json"
	"strings"

	"github.com/copp1723/team-crm-sub000/types"
)

// FlattenContent 将记录内容与标签拍平成一段文本,供词频与关键词匹配使用。
// 对常见类型直接拼接文本字段,其余类型回退到 JSON 序列化。
func FlattenContent(rec *types.MemoryRecord) string {
	var b strings.Builder

	switch c := rec.Content.(type) {
	case types.ConversationContent:
		b.WriteString(c.Message)
		b.WriteByte(' ')
		b.WriteString(c.Response)
		for _, e := range c.Entities {
			b.WriteByte(' ')
			b.WriteString(e)
		}
	case types.TeamUpdateContent:
		b.WriteString(c.RawText)
		for _, p := range c.Priorities {
			b.WriteByte(' ')
			b.WriteString(p)
		}
		for _, item := range c.ActionItems {
			b.WriteByte(' ')
			b.WriteString(item)
		}
		b.WriteByte(' ')
		b.WriteString(c.ClientRisk)
		b.WriteByte(' ')
		b.WriteString(c.RevenueSignal)
	case types.ExecutiveContent:
		b.WriteString(c.Decision)
		b.WriteByte(' ')
		b.WriteString(c.Rationale)
		b.WriteByte(' ')
		b.WriteString(c.Impact)
	case types.EscalationContent:
		b.WriteString(c.Reason)
	case types.InsightContent:
		b.WriteString(c.Insight)
		for _, e := range c.Evidence {
			b.WriteByte(' ')
			b.WriteString(e)
		}
	default:
		if data, err := json.Marshal(rec.Content); err == nil {
			b.Write(data)
		}
	}

	for _, tag := range rec.Metadata.Tags {
		b.WriteByte(' ')
		b.WriteString(tag)
	}
	return b.String()
}
