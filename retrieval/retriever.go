package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/types"
)

// Related-result expansion bounds: only the first relatedSeeds primary
// results are expanded, one hop, at most relatedMax extra records.
const (
	relatedSeeds = 5
	relatedMax   = 10

	// tieDelta is the score distance under which two results count as a
	// near-tie and are ordered by timestamp instead.
	tieDelta = 0.1
)

// Config configures the retriever.
type Config struct {
	// Similarity threshold. High relative to typical lexical scores, so
	// retrieval skews toward recent/important records; kept tunable.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Default result limit when a query does not set one.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// Result cache entry lifetime.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// Result cache capacity.
	CacheMaxEntries int `yaml:"cache_max_entries" json:"cache_max_entries"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.7,
		DefaultLimit:    20,
		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 256,
	}
}

// Query is one retrieval request. The zero value of SkipRelated means
// related-record expansion is on, matching the default contract.
type Query struct {
	Text        string           `json:"text"`
	Type        types.MemoryType `json:"type,omitempty"`
	Importance  types.Importance `json:"importance,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Window      time.Duration    `json:"window,omitempty"` // lookback from now, 0 = unbounded
	Limit       int              `json:"limit,omitempty"`
	SkipRelated bool             `json:"skip_related,omitempty"`
}

// cacheKey derives a stable cache key from the query.
func (q Query) cacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d|%t|", q.Text, q.Type, q.Importance, q.Window, q.Limit, q.SkipRelated)
	for _, t := range q.Tags {
		fmt.Fprintf(h, "%s,", strings.ToLower(t))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ScoredRecord is one ranked retrieval result.
type ScoredRecord struct {
	Record  *types.MemoryRecord `json:"record"`
	Score   float64             `json:"score"`
	Related bool                `json:"related,omitempty"` // reached via relationship expansion
}

// Retriever loads, scores, and ranks memory records for a query.
// It never returns an error to callers: storage failures degrade to
// an empty result with a logged diagnostic.
type Retriever struct {
	store  memory.RecordStore
	config Config
	logger *zap.Logger
	cache  *resultCache
	sf     singleflight.Group
	now    func() time.Time
}

// NewRetriever creates a retriever over the given store.
func NewRetriever(store memory.RecordStore, config Config, logger *zap.Logger) *Retriever {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Retriever{
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "retriever")),
		cache:  newResultCache(config.CacheTTL, config.CacheMaxEntries),
		now:    time.Now,
	}
}

// Retrieve runs one query. Concurrent identical queries are collapsed
// into a single store round-trip.
func (r *Retriever) Retrieve(ctx context.Context, q Query) []ScoredRecord {
	if q.Limit <= 0 {
		q.Limit = r.config.DefaultLimit
	}
	if !r.store.Enabled() {
		return nil
	}

	key := q.cacheKey()
	if hit, ok := r.cache.get(key); ok {
		r.logger.Debug("retrieval cache hit", zap.Int("results", len(hit)))
		return hit
	}

	v, _, _ := r.sf.Do(key, func() (interface{}, error) {
		results := r.load(ctx, q)
		r.cache.set(key, results)
		return results, nil
	})
	results, _ := v.([]ScoredRecord)
	return results
}

// FlushCache drops all cached results.
func (r *Retriever) FlushCache() {
	r.cache.purge()
}

// load gathers, filters, scores, ranks, and expands candidates.
func (r *Retriever) load(ctx context.Context, q Query) []ScoredRecord {
	start := r.now()
	ids, err := r.candidates(ctx, q)
	if err != nil {
		r.logger.Warn("candidate scan failed, returning empty result", zap.Error(err))
		return nil
	}

	tokens := Tokenize(q.Text)
	now := r.now()

	var scored []ScoredRecord
	for _, id := range ids {
		rec, err := r.store.Get(ctx, id)
		if err != nil {
			// 单条失败跳过,不中断整个查询
			r.logger.Debug("candidate load failed, skipped",
				zap.String("id", id), zap.Error(err))
			continue
		}
		if !r.matches(rec, q, now) {
			continue
		}
		if s := Score(rec, tokens, now); s > r.config.Threshold {
			scored = append(scored, ScoredRecord{Record: rec, Score: s})
		}
	}

	sortScored(scored)
	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	if !q.SkipRelated {
		scored = r.expandRelated(ctx, scored, tokens, now)
	}

	r.logger.Debug("retrieval completed",
		zap.Int("candidates", len(ids)),
		zap.Int("results", len(scored)),
		zap.Duration("took", r.now().Sub(start)),
	)
	return scored
}

// candidates selects the candidate id set: the type index when a type
// filter is present, otherwise every live record.
func (r *Retriever) candidates(ctx context.Context, q Query) ([]string, error) {
	if q.Type.IsValid() {
		scan := memory.IndexQuery{Kind: memory.IndexByType, Value: string(q.Type)}
		if q.Window > 0 {
			scan.Since = r.now().Add(-q.Window)
		}
		return r.store.IndexScan(ctx, scan)
	}
	return r.store.AllRecordIDs(ctx)
}

// matches applies the query's type/importance/window/tag filters.
func (r *Retriever) matches(rec *types.MemoryRecord, q Query, now time.Time) bool {
	if q.Type.IsValid() && rec.Type != q.Type {
		return false
	}
	if q.Importance.IsValid() && rec.Metadata.Importance != q.Importance {
		return false
	}
	if q.Window > 0 && rec.Metadata.Timestamp.Before(now.Add(-q.Window)) {
		return false
	}
	if len(q.Tags) > 0 {
		// match-any, case-insensitive
		found := false
		for _, want := range q.Tags {
			for _, have := range rec.Metadata.Tags {
				if strings.EqualFold(want, have) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortScored orders results by descending score, breaking near-ties
// (score delta < tieDelta) by descending timestamp.
func sortScored(scored []ScoredRecord) {
	sort.SliceStable(scored, func(i, j int) bool {
		d := scored[i].Score - scored[j].Score
		if math.Abs(d) < tieDelta {
			return scored[i].Record.Metadata.Timestamp.After(scored[j].Record.Metadata.Timestamp)
		}
		return d > 0
	})
}

// expandRelated follows relationship ids one hop out from the first
// relatedSeeds results, appending at most relatedMax extra records.
func (r *Retriever) expandRelated(ctx context.Context, primary []ScoredRecord, tokens []string, now time.Time) []ScoredRecord {
	seen := make(map[string]bool, len(primary))
	for _, s := range primary {
		seen[s.Record.ID] = true
	}

	out := primary
	extra := 0
	seeds := len(primary)
	if seeds > relatedSeeds {
		seeds = relatedSeeds
	}

	for i := 0; i < seeds && extra < relatedMax; i++ {
		for _, rid := range primary[i].Record.Metadata.RelatedIDs {
			if extra >= relatedMax {
				break
			}
			if rid == "" || seen[rid] {
				continue
			}
			seen[rid] = true

			rec, err := r.store.Get(ctx, rid)
			if err != nil {
				r.logger.Debug("related record load failed, skipped",
					zap.String("id", rid), zap.Error(err))
				continue
			}
			out = append(out, ScoredRecord{
				Record:  rec,
				Score:   Score(rec, tokens, now),
				Related: true,
			})
			extra++
		}
	}
	return out
}
