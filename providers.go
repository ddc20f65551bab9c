package reasonbank

import "context"

// Filters narrows a similarity query before ranking.
type Filters struct {
	Domain        string   // restrict to one domain category
	PatternTags   []string // records must carry at least one matching tag
	ExcludeErrors bool     // drop records carrying error context
	MinScore      float64  // composite-score floor, 0 = retriever default
	ErrorsOnly    bool     // keep only records carrying error context
}

// ScoredRecord pairs a stored record with the backend's similarity signal.
// HasSimilarity is false when the backend cannot produce one, in which case
// the retriever substitutes DefaultSimilarity.
type ScoredRecord struct {
	Record        MemoryRecord
	Similarity    float64
	HasSimilarity bool
}

// MemoryStore is the similarity-search backend the engine consumes.
// Built-in: SQLiteStore. Implement this for any other vector backend.
type MemoryStore interface {
	QuerySimilar(ctx context.Context, query string, limit int, f Filters) ([]ScoredRecord, error)
	Add(ctx context.Context, rec MemoryRecord) error
	Delete(ctx context.Context, id string) error
}

// GenealogyStore is an optional MemoryStore capability for walking
// parent/derived-from references.
type GenealogyStore interface {
	GetRecord(ctx context.Context, id string) (MemoryRecord, error)
	ListDescendants(ctx context.Context, id string) ([]MemoryRecord, error)
}

// Generator invokes the LLM collaborator.
// Built-in: OpenRouterClient. The ResponseCache wraps any Generator.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// Embedder turns text into a vector for similarity search.
// Built-in: OpenAIEmbedder. Used by SQLiteStore; optional.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
