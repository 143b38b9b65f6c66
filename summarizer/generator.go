// Package summarizer turns accumulated team updates into executive
// summaries. The Batcher decides *when* to summarize (count-or-time
// threshold state machine) and the Generator decides *what* the summary
// says, preferring the completion provider and falling back to a
// deterministic digest when the provider is unavailable.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/llm"
	"github.com/copp1723/team-crm-sub000/types"
)

const (
	// Updates newer than this lead the digest; raw text per update is
	// clamped so one verbose member cannot crowd out the rest.
	maxRawTextChars = 400

	fallbackEncoding = "cl100k_base"
)

// Generator builds one ExecutiveSummary from a batch of updates.
type Generator struct {
	completer   llm.Completer // nil means heuristic-only
	tokenBudget int
	logger      *zap.Logger
	now         func() time.Time
}

// NewGenerator creates a summary generator. completer may be nil, in
// which case every summary takes the deterministic fallback path.
func NewGenerator(completer llm.Completer, tokenBudget int, logger *zap.Logger) *Generator {
	if tokenBudget <= 0 {
		tokenBudget = 3000
	}
	return &Generator{
		completer:   completer,
		tokenBudget: tokenBudget,
		logger:      logger.With(zap.String("component", "summary-generator")),
		now:         time.Now,
	}
}

// buckets is the aggregate of extracted signals across one batch.
type buckets struct {
	Critical  []string              `json:"critical_attention"`
	Resources []string              `json:"resource_allocation"`
	Revenue   []string              `json:"revenue_opportunities"`
	Risks     []string              `json:"risk_factors"`
	Sections  []types.MemberSection `json:"sections"`
}

// providerSummary is the JSON shape expected back from the provider.
// Output is validated before use; prose or truncated JSON falls back.
type providerSummary struct {
	Headlines    []string `json:"headlines"`
	Recommended  []string `json:"recommendations"`
	RenderedText string   `json:"summary"`
}

// Generate builds a summary for the batch. Provider failure degrades to
// the heuristic digest; only an empty batch or a dead context is an error.
func (g *Generator) Generate(ctx context.Context, updates []types.StructuredUpdate) (*types.ExecutiveSummary, error) {
	if len(updates) == 0 {
		return nil, types.NewValidationError("no updates to summarize")
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrSummaryFailed, "summary cancelled").WithCause(err)
	}

	start := g.now()
	agg := aggregate(updates)

	sum := &types.ExecutiveSummary{
		ID:                   "sum:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		CriticalAttention:    agg.Critical,
		ResourceAllocation:   agg.Resources,
		RevenueOpportunities: agg.Revenue,
		RiskFactors:          agg.Risks,
		Sections:             agg.Sections,
		UpdateCount:          len(updates),
		GeneratedAt:          start,
	}

	if g.completer != nil {
		if ok := g.tryProvider(ctx, updates, agg, sum); ok {
			sum.GenerationMS = g.now().Sub(start).Milliseconds()
			return sum, nil
		}
	}

	g.renderFallback(agg, sum)
	sum.GenerationMS = g.now().Sub(start).Milliseconds()
	return sum, nil
}

// tryProvider asks the completion provider for headlines, recommendations
// and a rendered digest. Returns false on any failure so the caller can
// fall back; the aggregation buckets are already filled either way.
func (g *Generator) tryProvider(ctx context.Context, updates []types.StructuredUpdate, agg buckets, sum *types.ExecutiveSummary) bool {
	prompt, tokens := g.buildPrompt(updates, agg)
	sum.PromptTokens = tokens
	sum.ProviderModel = g.completer.Model()

	out, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		g.logger.Warn("provider summary failed, using fallback", zap.Error(err))
		return false
	}

	var ps providerSummary
	if err := llm.DecodeJSONOutput(out, &ps); err != nil {
		g.logger.Warn("provider output rejected, using fallback", zap.Error(err))
		return false
	}
	if ps.RenderedText == "" {
		g.logger.Warn("provider returned empty summary, using fallback")
		return false
	}

	sum.Headlines = ps.Headlines
	sum.Recommended = ps.Recommended
	sum.RenderedText = ps.RenderedText
	sum.Confidence = confidenceFor(len(updates), false)
	return true
}

// buildPrompt renders the instruction plus per-update lines, newest
// first, stopping once the token budget is reached.
func (g *Generator) buildPrompt(updates []types.StructuredUpdate, agg buckets) (string, int) {
	var b strings.Builder
	b.WriteString("You are preparing a digest for an executive. Given the team updates below, ")
	b.WriteString("respond with a JSON object: {\"headlines\": [...], \"recommendations\": [...], \"summary\": \"...\"}. ")
	b.WriteString("Be concrete and brief.\n\n")

	b.WriteString("Known signals:\n")
	writeBullets(&b, "critical", agg.Critical)
	writeBullets(&b, "risks", agg.Risks)
	writeBullets(&b, "revenue", agg.Revenue)
	b.WriteString("\nUpdates:\n")

	enc := g.encoder()
	used := countTokens(enc, b.String())

	// Newest first so trimming under budget drops the oldest context.
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		line := fmt.Sprintf("- %s (%s): %s\n",
			u.MemberName, u.Timestamp.Format("Jan 2 15:04"), clamp(u.RawText, maxRawTextChars))

		cost := countTokens(enc, line)
		if used+cost > g.tokenBudget {
			g.logger.Debug("prompt token budget reached",
				zap.Int("included", len(updates)-1-i),
				zap.Int("total", len(updates)),
			)
			break
		}
		b.WriteString(line)
		used += cost
	}
	return b.String(), used
}

// renderFallback fills the summary from the aggregation buckets alone.
// Deterministic, no I/O.
func (g *Generator) renderFallback(agg buckets, sum *types.ExecutiveSummary) {
	sum.Degraded = true
	sum.Confidence = confidenceFor(sum.UpdateCount, true)

	for _, c := range agg.Critical {
		sum.Headlines = append(sum.Headlines, "Needs attention: "+c)
	}
	if len(sum.Headlines) == 0 && len(agg.Revenue) > 0 {
		sum.Headlines = append(sum.Headlines, "Revenue signal: "+agg.Revenue[0])
	}
	if len(agg.Risks) > 0 {
		sum.Recommended = append(sum.Recommended, "Review open client risks with owners.")
	}
	if len(agg.Critical) > 0 {
		sum.Recommended = append(sum.Recommended, "Unblock the urgent items before the next cycle.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Team digest (%d updates).\n", sum.UpdateCount)
	writeBullets(&b, "Critical attention", agg.Critical)
	writeBullets(&b, "Resource allocation", agg.Resources)
	writeBullets(&b, "Revenue opportunities", agg.Revenue)
	writeBullets(&b, "Risk factors", agg.Risks)
	for _, sec := range agg.Sections {
		fmt.Fprintf(&b, "%s: %s\n", sec.MemberName, strings.Join(sec.Highlights, "; "))
	}
	sum.RenderedText = strings.TrimSpace(b.String())
}

// aggregate folds the extracted fields of every update into the four
// summary buckets plus per-member sections, preserving arrival order.
func aggregate(updates []types.StructuredUpdate) buckets {
	var agg buckets
	sections := make(map[string]*types.MemberSection)
	var order []string

	for _, u := range updates {
		sec, ok := sections[u.MemberName]
		if !ok {
			sec = &types.MemberSection{MemberName: u.MemberName}
			sections[u.MemberName] = sec
			order = append(order, u.MemberName)
		}

		for _, p := range u.Priorities {
			item := p.Description
			if item == "" {
				continue
			}
			sec.Highlights = append(sec.Highlights, item)
			if p.Urgency == string(types.ImportanceUrgent) || p.Urgency == string(types.ImportanceHigh) {
				agg.Critical = append(agg.Critical, fmt.Sprintf("%s: %s", u.MemberName, item))
			}
		}
		for _, item := range u.ActionItems {
			sec.ActionItems = append(sec.ActionItems, item)
			agg.Resources = append(agg.Resources, fmt.Sprintf("%s: %s", u.MemberName, item))
		}
		if u.ClientRisk != "" {
			sec.Risks = append(sec.Risks, u.ClientRisk)
			agg.Risks = append(agg.Risks, fmt.Sprintf("%s: %s", u.MemberName, u.ClientRisk))
		}
		if u.RevenueSignal != "" {
			agg.Revenue = append(agg.Revenue, fmt.Sprintf("%s: %s", u.MemberName, u.RevenueSignal))
		}
	}

	for _, name := range order {
		agg.Sections = append(agg.Sections, *sections[name])
	}
	return agg
}

// confidenceFor grades the summary: provider-backed beats fallback, and
// a fuller batch beats a thin one.
func confidenceFor(updateCount int, degraded bool) float64 {
	c := 0.85
	if degraded {
		c = 0.5
	}
	if updateCount >= 5 {
		c += 0.05
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// encoder returns the tokenizer for the configured model, falling back
// to cl100k_base for unknown models.
func (g *Generator) encoder() *tiktoken.Tiktoken {
	if g.completer != nil {
		if enc, err := tiktoken.EncodingForModel(g.completer.Model()); err == nil {
			return enc
		}
	}
	enc, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil
	}
	return enc
}

// countTokens counts tokens, approximating by word count if the
// tokenizer could not be loaded.
func countTokens(enc *tiktoken.Tiktoken, text string) int {
	if enc == nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}

func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func writeBullets(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
