// Package retrieval implements relevance-ranked memory retrieval.
// Scoring combines lexical overlap, recency decay, and importance boost;
// the similarity threshold deliberately biases results toward recent and
// important records over textually similar ones.
package retrieval

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/copp1723/team-crm-sub000/types"
)

// Scoring weights. The lexical term contributes 0.1 per token occurrence,
// recency contributes up to 0.3 over a 7-day window, and importance adds
// a fixed boost per level. The total is clamped to [0, 1].
const (
	lexicalWeight = 0.1
	recencyWeight = 0.3

	// RecencyWindow is the age at which the recency term reaches zero.
	RecencyWindow = 7 * 24 * time.Hour
)

// importanceBoost returns the fixed score boost for an importance level.
func importanceBoost(imp types.Importance) float64 {
	switch imp {
	case types.ImportanceUrgent:
		return 0.4
	case types.ImportanceHigh:
		return 0.3
	case types.ImportanceLow:
		return 0.05
	default:
		return 0.1
	}
}

// Tokenize splits query text on whitespace, lowercases, and drops
// tokens of length <= 2.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// flatten renders a record's content and metadata as one lowercase
// string for occurrence counting.
func flatten(rec *types.MemoryRecord) string {
	var b strings.Builder
	if data, err := json.Marshal(rec.Content); err == nil {
		b.Write(data)
	}
	if data, err := json.Marshal(rec.Metadata); err == nil {
		b.Write(data)
	}
	return strings.ToLower(b.String())
}

// Score computes the relevance of a record against pre-tokenized query
// text at the given instant.
func Score(rec *types.MemoryRecord, tokens []string, now time.Time) float64 {
	flat := flatten(rec)

	score := 0.0
	for _, tok := range tokens {
		score += lexicalWeight * float64(strings.Count(flat, tok))
	}

	age := now.Sub(rec.Metadata.Timestamp)
	if age < 0 {
		age = 0
	}
	recency := 1 - float64(age)/float64(RecencyWindow)
	if recency > 0 {
		score += recency * recencyWeight
	}

	score += importanceBoost(rec.Metadata.Importance)

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
