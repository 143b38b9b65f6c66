package types

import (
	"testing"
	"time"
)

func TestDecodeContent_Dispatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ     MemoryType
		content RecordContent
	}{
		{MemoryConversation, ConversationContent{MemberName: "joe", Message: "ping", Sentiment: "positive"}},
		{MemoryTeamUpdate, TeamUpdateContent{MemberName: "ann", RawText: "shipped the migration", Sentiment: "neutral"}},
		{MemoryExecutive, ExecutiveContent{Decision: "pause rollout", DecidedBy: "cfo"}},
		{MemoryEscalation, EscalationContent{Reason: "client churn risk", Confidence: 0.8}},
		{MemoryInsight, InsightContent{Insight: "deploys cluster on fridays", Confidence: 0.6}},
		{MemoryPattern, PatternContent{Name: "friday-rush", Stats: map[string]float64{"count": 4}}},
		{MemoryRelationship, RelationshipContent{Subject: "joe", Object: "acme", Relation: "account-owner"}},
		{MemoryPreference, PreferenceContent{MemberName: "ann", Preference: "summary-cadence", Value: "daily"}},
	}

	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			t.Parallel()

			data, err := EncodeContent(tc.content)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeContent(tc.typ, data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.MemoryType() != tc.typ {
				t.Fatalf("expected kind %s, got %s", tc.typ, got.MemoryType())
			}
		})
	}
}

func TestDecodeContent_UnknownType(t *testing.T) {
	t.Parallel()

	if _, err := DecodeContent(MemoryType("bogus"), []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestRecordValidate_ContentKindMismatch(t *testing.T) {
	t.Parallel()

	rec := &MemoryRecord{
		ID:      "conv:1:ab",
		Type:    MemoryConversation,
		Content: ExecutiveContent{Decision: "nope"},
		Metadata: RecordMetadata{
			Timestamp:  time.Now(),
			Importance: ImportanceNormal,
		},
	}
	err := rec.Validate()
	if err == nil {
		t.Fatalf("expected kind mismatch error")
	}
	if GetErrorCode(err) != ErrValidation {
		t.Fatalf("expected %s, got %s", ErrValidation, GetErrorCode(err))
	}
}

func TestSentimentOf(t *testing.T) {
	t.Parallel()

	conv := &MemoryRecord{Content: ConversationContent{Sentiment: "negative"}}
	if got := SentimentOf(conv); got != "negative" {
		t.Fatalf("expected negative, got %q", got)
	}
	exec := &MemoryRecord{Content: ExecutiveContent{Decision: "x"}}
	if got := SentimentOf(exec); got != "" {
		t.Fatalf("expected empty sentiment for executive content, got %q", got)
	}
}
