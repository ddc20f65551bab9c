package reasonbank

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Retriever ranks stored experience records against a query using composite
// scoring. It requests twice the asked-for count from the backend so that
// post-filtering still leaves enough candidates.
type Retriever struct {
	store        MemoryStore
	weights      ScoringWeights
	halfLifeDays float64
	minScore     float64
	logger       *zap.Logger

	// clock is swappable for tests.
	now func() time.Time

	mu               sync.Mutex
	queriesExecuted  int
	recordsRetrieved int
	recordsAfterRank int
}

// RetrieverStats is a snapshot of retrieval activity.
type RetrieverStats struct {
	QueriesExecuted  int     `json:"queries_executed"`
	RecordsRetrieved int     `json:"records_retrieved"`
	RecordsReturned  int     `json:"records_returned"`
	AvgPerQuery      float64 `json:"avg_per_query"`
}

// NewRetriever creates a retriever over the given store. Weights are
// normalized here, once; they are never re-normalized per query.
func NewRetriever(store MemoryStore, weights ScoringWeights, halfLifeDays, minScore float64, logger *zap.Logger) *Retriever {
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:        store,
		weights:      weights.Normalized(),
		halfLifeDays: halfLifeDays,
		minScore:     minScore,
		logger:       logger,
		now:          time.Now,
	}
}

// Retrieve returns at most n records ranked by composite score.
//
// Ties on composite score are resolved by ascending record ID, so identical
// inputs always produce identical rankings regardless of store return order.
// A backend failure surfaces as *RetrievalError; the ranking is never
// partially returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, n int, f Filters) ([]MemoryRecord, error) {
	if n <= 0 {
		n = 5
	}

	r.mu.Lock()
	r.queriesExecuted++
	r.mu.Unlock()

	// Over-fetch so tag and score filtering still fills the result.
	candidates, err := r.store.QuerySimilar(ctx, query, n*2, f)
	if err != nil {
		return nil, &RetrievalError{Query: query, Err: err}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	r.recordsRetrieved += len(candidates)
	r.mu.Unlock()

	now := r.now()
	scored := make([]MemoryRecord, 0, len(candidates))
	for _, c := range candidates {
		rec := c.Record

		sim := DefaultSimilarity
		if c.HasSimilarity {
			sim = clamp01(c.Similarity)
		}
		rec.SimilarityScore = sim
		rec.RecencyScore = RecencyScore(rec.CreatedAt, now, r.halfLifeDays)

		errBoost := 0.0
		if rec.ErrorContext != nil {
			errBoost = 1.0
		}
		rec.CompositeScore = CompositeScore(sim, rec.RecencyScore, errBoost, r.weights)
		scored = append(scored, rec)
	}

	if len(f.PatternTags) > 0 {
		scored = filterByTags(scored, f.PatternTags)
	}

	minScore := f.MinScore
	if minScore == 0 {
		minScore = r.minScore
	}
	if minScore > 0 {
		kept := scored[:0]
		for _, rec := range scored {
			if rec.CompositeScore >= minScore {
				kept = append(kept, rec)
			}
		}
		scored = kept
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].CompositeScore != scored[j].CompositeScore {
			return scored[i].CompositeScore > scored[j].CompositeScore
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > n {
		scored = scored[:n]
	}

	r.mu.Lock()
	r.recordsAfterRank += len(scored)
	r.mu.Unlock()

	r.logger.Debug("memories retrieved",
		zap.String("query", truncate(query, 50)),
		zap.Int("count", len(scored)),
	)
	return scored, nil
}

// RetrieveErrorPatterns returns only records carrying error context,
// for learning from past failures.
func (r *Retriever) RetrieveErrorPatterns(ctx context.Context, query string, n int, domain string) ([]MemoryRecord, error) {
	return r.Retrieve(ctx, query, n, Filters{Domain: domain, ErrorsOnly: true})
}

// Stats returns a snapshot of retrieval counters.
func (r *Retriever) Stats() RetrieverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	avg := 0.0
	if r.queriesExecuted > 0 {
		avg = float64(r.recordsRetrieved) / float64(r.queriesExecuted)
	}
	return RetrieverStats{
		QueriesExecuted:  r.queriesExecuted,
		RecordsRetrieved: r.recordsRetrieved,
		RecordsReturned:  r.recordsAfterRank,
		AvgPerQuery:      avg,
	}
}

// filterByTags keeps records sharing at least one tag with required,
// case-insensitively.
func filterByTags(recs []MemoryRecord, required []string) []MemoryRecord {
	want := make(map[string]bool, len(required))
	for _, t := range required {
		want[strings.ToLower(t)] = true
	}
	kept := recs[:0]
	for _, rec := range recs {
		for _, t := range rec.PatternTags {
			if want[strings.ToLower(t)] {
				kept = append(kept, rec)
				break
			}
		}
	}
	return kept
}
