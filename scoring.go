package reasonbank

import (
	"math"
	"time"
)

// --- Composite scoring ---

// ScoringWeights blends similarity, recency, and error-context signals into
// one ranking score. Weights are expected to sum to 1.0.
type ScoringWeights struct {
	Similarity float64
	Recency    float64
	Error      float64
}

// DefaultScoringWeights favors semantic similarity, as the original tuning did.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Similarity: 0.6, Recency: 0.3, Error: 0.1}
}

// Normalized returns weights rescaled proportionally so they sum to 1.0.
// Called once at construction time, never per query. Degenerate all-zero
// weights fall back to the defaults.
func (w ScoringWeights) Normalized() ScoringWeights {
	total := w.Similarity + w.Recency + w.Error
	if total <= 0 {
		return DefaultScoringWeights()
	}
	if math.Abs(total-1.0) < 1e-9 {
		return w
	}
	return ScoringWeights{
		Similarity: w.Similarity / total,
		Recency:    w.Recency / total,
		Error:      w.Error / total,
	}
}

// CompositeScore computes the blended relevance score for one candidate.
//
//	composite = w.Similarity×similarity + w.Recency×recency + w.Error×errorBoost
//
// The result is clamped to [0,1].
func CompositeScore(similarity, recency, errorBoost float64, w ScoringWeights) float64 {
	raw := w.Similarity*similarity + w.Recency*recency + w.Error*errorBoost
	return clamp01(raw)
}

// --- Recency ---

// DefaultSimilarity is used when the store returns no similarity signal.
const DefaultSimilarity = 0.5

// DefaultRecency is used when a record's timestamp is missing.
const DefaultRecency = 0.5

// RecencyScore computes exponential age decay against a half-life in days.
//
//	recency = exp(-ageDays / halfLifeDays)
//
// A zero timestamp yields DefaultRecency.
func RecencyScore(createdAt, now time.Time, halfLifeDays float64) float64 {
	if createdAt.IsZero() || halfLifeDays <= 0 {
		return DefaultRecency
	}
	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / halfLifeDays)
}

// --- Cosine similarity ---

// CosineSimilarity computes the cosine similarity between two float32 vectors.
// Returns 0 if either vector is zero-length or zero-norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
