package summarizer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/types"
)

var tracer = otel.Tracer("teamcrm/summarizer")

// State is the batcher's explicit lifecycle state. Deriving behavior
// from counters alone invites off-by-one trigger bugs, so the two
// phases are named.
type State string

const (
	StateAccumulating State = "accumulating"
	StateSummarizing  State = "summarizing"
)

// OutcomeStatus classifies the result of one batcher interaction.
type OutcomeStatus string

const (
	// OutcomeAccumulating means the update was absorbed, no trigger fired.
	OutcomeAccumulating OutcomeStatus = "accumulating"
	// OutcomeSummarized means a summary was produced and the batch reset.
	OutcomeSummarized OutcomeStatus = "summarized"
	// OutcomeNoUpdates is the distinct result for a forced run with an
	// empty batch; no summary is fabricated.
	OutcomeNoUpdates OutcomeStatus = "no_updates"
	// OutcomeFailed means summarization failed; pending updates are kept.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome reports what the batcher did with a call.
type Outcome struct {
	Status  OutcomeStatus           `json:"status"`
	Summary *types.ExecutiveSummary `json:"summary,omitempty"`
	Pending int                     `json:"pending"`
	Reason  string                  `json:"reason,omitempty"`
}

// Config configures the batching trigger.
type Config struct {
	// Count trigger: summarize once this many updates are pending.
	Threshold int `yaml:"threshold" json:"threshold"`

	// Time trigger: summarize a non-empty batch once this much time has
	// passed since the last summary (or since startup, if none yet).
	MaxBatchAge time.Duration `yaml:"max_batch_age" json:"max_batch_age"`

	// How often the background loop re-evaluates the time trigger.
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// Prompt token budget handed to the generator.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:    3,
		MaxBatchAge:  30 * time.Minute,
		TickInterval: time.Minute,
		TokenBudget:  3000,
	}
}

// SummarySink receives every produced summary. Sinks are best-effort:
// a sink failure is logged, never propagated into the batching flow.
type SummarySink interface {
	SaveSummary(ctx context.Context, sum *types.ExecutiveSummary) error
}

// Batcher accumulates structured updates and hands a full batch to the
// generator when the count-or-time trigger fires. Ingestion never fails
// because of an earlier summarization failure.
type Batcher struct {
	config Config
	gen    *Generator
	store  memory.RecordStore
	sinks  []SummarySink
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	pending     []types.StructuredUpdate
	lastSummary time.Time // zero until the first summary
	startedAt   time.Time

	running bool
	stopCh  chan struct{}
}

// NewBatcher creates an update batcher. store may be a noop store;
// sinks are optional.
func NewBatcher(config Config, gen *Generator, store memory.RecordStore, logger *zap.Logger, sinks ...SummarySink) *Batcher {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.MaxBatchAge <= 0 {
		config.MaxBatchAge = DefaultConfig().MaxBatchAge
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	b := &Batcher{
		config: config,
		gen:    gen,
		store:  store,
		sinks:  sinks,
		logger: logger.With(zap.String("component", "update-batcher")),
		now:    time.Now,
		state:  StateAccumulating,
		stopCh: make(chan struct{}),
	}
	b.startedAt = b.now()
	return b
}

// State returns the current lifecycle state.
func (b *Batcher) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PendingCount returns the number of updates awaiting summarization.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// ReceiveUpdate validates and absorbs one update, then evaluates the
// trigger. The update is accepted even when a triggered summarization
// attempt fails.
func (b *Batcher) ReceiveUpdate(ctx context.Context, u types.StructuredUpdate) (Outcome, error) {
	if err := u.Validate(); err != nil {
		return Outcome{}, err
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = b.now()
	}

	b.mu.Lock()
	b.pending = append(b.pending, u)
	pending := len(b.pending)
	fire := b.shouldSummarizeLocked()
	b.mu.Unlock()

	b.logger.Debug("update received",
		zap.String("member", u.MemberName),
		zap.Int("pending", pending),
		zap.Bool("trigger", fire),
	)

	if !fire {
		return Outcome{Status: OutcomeAccumulating, Pending: pending}, nil
	}
	return b.summarize(ctx), nil
}

// ForceSummarize runs summarization regardless of the trigger. An empty
// batch yields the distinct no-updates outcome.
func (b *Batcher) ForceSummarize(ctx context.Context) Outcome {
	b.mu.Lock()
	empty := len(b.pending) == 0
	b.mu.Unlock()

	if empty {
		return Outcome{
			Status:  OutcomeNoUpdates,
			Summary: &types.ExecutiveSummary{NoUpdates: true, GeneratedAt: b.now()},
		}
	}
	return b.summarize(ctx)
}

// EvaluateTick checks the time trigger without a new update. Called by
// the background loop; exported so tests can drive a virtual clock.
func (b *Batcher) EvaluateTick(ctx context.Context) (Outcome, bool) {
	b.mu.Lock()
	fire := b.shouldSummarizeLocked()
	b.mu.Unlock()

	if !fire {
		return Outcome{}, false
	}
	return b.summarize(ctx), true
}

// shouldSummarizeLocked evaluates the trigger. Caller holds b.mu.
// The time trigger measures from the last summary, or from batcher
// start when no summary has ever been produced, so a lone update right
// after startup does not summarize immediately.
func (b *Batcher) shouldSummarizeLocked() bool {
	if b.state == StateSummarizing {
		return false
	}
	if len(b.pending) == 0 {
		return false
	}
	if len(b.pending) >= b.config.Threshold {
		return true
	}
	ref := b.lastSummary
	if ref.IsZero() {
		ref = b.startedAt
	}
	return b.now().Sub(ref) > b.config.MaxBatchAge
}

// summarize drains the batch, generates a summary, and persists it.
// On generation failure the drained updates are put back in front of
// anything that arrived meanwhile.
func (b *Batcher) summarize(ctx context.Context) Outcome {
	ctx, span := tracer.Start(ctx, "summarizer.flush")
	defer span.End()

	b.mu.Lock()
	if b.state == StateSummarizing {
		pending := len(b.pending)
		b.mu.Unlock()
		span.SetAttributes(attribute.String("outcome", string(OutcomeAccumulating)))
		return Outcome{Status: OutcomeAccumulating, Pending: pending}
	}
	b.state = StateSummarizing
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	span.SetAttributes(attribute.Int("updates", len(batch)))
	sum, err := b.gen.Generate(ctx, batch)

	b.mu.Lock()
	b.state = StateAccumulating
	if err != nil {
		// Preserve the drained updates ahead of any new arrivals.
		b.pending = append(batch, b.pending...)
		pending := len(b.pending)
		b.mu.Unlock()

		span.SetAttributes(attribute.String("outcome", string(OutcomeFailed)))
		b.logger.Error("summarization failed, batch preserved",
			zap.Int("pending", pending),
			zap.Error(err),
		)
		return Outcome{Status: OutcomeFailed, Pending: pending, Reason: err.Error()}
	}
	b.lastSummary = b.now()
	pending := len(b.pending)
	b.mu.Unlock()

	span.SetAttributes(attribute.String("outcome", string(OutcomeSummarized)))

	b.persist(ctx, sum)

	b.logger.Info("summary produced",
		zap.String("id", sum.ID),
		zap.Int("updates", sum.UpdateCount),
		zap.Bool("degraded", sum.Degraded),
		zap.Float64("confidence", sum.Confidence),
	)
	return Outcome{Status: OutcomeSummarized, Summary: sum, Pending: pending}
}

// persist pushes the summary to the rolling history, records it as a
// memory record, and fans out to sinks. Every path is best-effort.
func (b *Batcher) persist(ctx context.Context, sum *types.ExecutiveSummary) {
	if err := b.store.PushSummary(ctx, sum); err != nil {
		b.logger.Warn("summary history push failed", zap.Error(err))
	}

	rec := &types.MemoryRecord{
		Type: types.MemoryInsight,
		Content: types.InsightContent{
			Insight:    sum.RenderedText,
			Evidence:   sum.Headlines,
			Confidence: sum.Confidence,
		},
		Metadata: types.RecordMetadata{
			Timestamp:  sum.GeneratedAt,
			Source:     "summarizer",
			Importance: types.ImportanceHigh,
			Tags:       []string{"executive-summary"},
		},
	}
	if _, err := b.store.Store(ctx, rec); err != nil {
		b.logger.Warn("summary record store failed", zap.Error(err))
	}

	for _, sink := range b.sinks {
		if err := sink.SaveSummary(ctx, sum); err != nil {
			b.logger.Warn("summary sink failed", zap.Error(err))
		}
	}
}

// Start launches the background tick loop that fires the time trigger
// without requiring another update.
func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	go b.runLoop(ctx)
	b.logger.Info("update batcher started",
		zap.Int("threshold", b.config.Threshold),
		zap.Duration("max_batch_age", b.config.MaxBatchAge),
	)
	return nil
}

// Stop stops the background tick loop.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	b.logger.Info("update batcher stopped")
}

func (b *Batcher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(b.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if outcome, fired := b.EvaluateTick(ctx); fired {
				b.logger.Debug("time trigger fired",
					zap.String("status", string(outcome.Status)))
			}
		}
	}
}
