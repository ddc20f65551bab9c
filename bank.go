package reasonbank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bank is the reasoning engine's front door: iterative solving,
// multi-attempt search, memory retrieval, knowledge capture, and the
// statistics surface, all behind one handle.
type Bank struct {
	cfg    *Config
	logger *zap.Logger

	store      MemoryStore
	ownedStore *SQLiteStore // set when Init constructed the store itself
	cache      *ResponseCache
	retriever  *Retriever
	loop       *Loop
	searcher   *Searcher
	extractor  *Extractor
	capture    *CaptureWorker

	mu       sync.Mutex
	solves   int
	searches int
}

// Init wires a Bank from the configuration. Explicit provider instances in
// cfg win; otherwise Init constructs the bundled SQLite store, the
// configured embedding provider, and the OpenRouter client from the
// remaining fields.
func Init(cfg Config) (*Bank, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger

	b := &Bank{cfg: &cfg, logger: logger}

	b.store = cfg.Store
	if b.store == nil {
		embedder, err := cfg.BuildEmbedder()
		if err != nil {
			return nil, err
		}
		store, err := NewSQLiteStore(cfg.DBPath, embedder)
		if err != nil {
			return nil, err
		}
		b.store = store
		b.ownedStore = store
	}

	generator := cfg.Generator
	if generator == nil {
		generator = NewOpenRouterClient(cfg.APIKey, WithBaseURL(cfg.BaseURL))
	}
	if !cfg.DisableCache {
		b.cache = NewResponseCache(generator, cfg.CacheSize, cfg.CacheTTL(), logger)
		b.cache.StartSweeper(5 * time.Minute)
		generator = b.cache
	}

	b.retriever = NewRetriever(b.store, cfg.Weights(),
		cfg.RecencyHalfLifeDays, cfg.MinRelevanceScore, logger)
	b.loop = NewLoop(generator, b.retriever, &cfg)
	b.searcher = NewSearcher(b.loop, &cfg)
	b.extractor = NewExtractor(generator, &cfg)
	b.capture = NewCaptureWorker(b.extractor, b.store, 16, logger)

	logger.Info("reasonbank initialized",
		zap.String("model", cfg.Model),
		zap.String("db", cfg.DBPath),
		zap.String("embed", cfg.EmbedProvider),
		zap.Bool("cache", !cfg.DisableCache))
	return b, nil
}

// Solve runs the iterative reasoning loop for task. Successful runs are
// submitted for background knowledge capture so future tasks benefit.
func (b *Bank) Solve(ctx context.Context, task string, opts SolveOptions) (*SolveResult, error) {
	res, err := b.loop.Solve(ctx, task, opts)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.solves++
	b.mu.Unlock()

	if res.Solution != "" {
		b.capture.Submit(task, res.Solution, "")
	}
	return res, nil
}

// SolveMaTTS runs memory-aware test-time scaling: k candidates, best wins.
func (b *Bank) SolveMaTTS(ctx context.Context, task string, opts SearchOptions) (*SolveResult, error) {
	res, err := b.searcher.Search(ctx, task, opts)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.searches++
	b.mu.Unlock()

	if res.Solution != "" {
		b.capture.Submit(task, res.Solution, "")
	}
	return res, nil
}

// Retrieve returns up to n stored records ranked against the query.
func (b *Bank) Retrieve(ctx context.Context, query string, n int, f Filters) ([]MemoryRecord, error) {
	return b.retriever.Retrieve(ctx, query, n, f)
}

// RetrieveErrorPatterns returns only failure memories relevant to the query.
func (b *Bank) RetrieveErrorPatterns(ctx context.Context, query string, n int, domain string) ([]MemoryRecord, error) {
	return b.retriever.RetrieveErrorPatterns(ctx, query, n, domain)
}

// Capture synchronously judges a task/solution pair, stores the extracted
// learnings, and returns the judgment. Use this for explicit captures; Solve
// already captures in the background.
func (b *Bank) Capture(ctx context.Context, task, solution, parentID string) (*Judgment, error) {
	judgment, err := b.extractor.Extract(ctx, task, solution)
	if err != nil {
		return nil, err
	}
	for i := range judgment.Learnings {
		judgment.Learnings[i].ParentID = parentID
		if err := b.store.Add(ctx, judgment.Learnings[i]); err != nil {
			return nil, fmt.Errorf("store learning: %w", err)
		}
	}
	return judgment, nil
}

// AddMemory stores a record directly, classifying its domain when missing.
func (b *Bank) AddMemory(ctx context.Context, rec MemoryRecord) error {
	if rec.DomainCategory == "" {
		rec.DomainCategory, _ = NewDomainClassifier().Classify(rec.Title + " " + rec.Content)
	}
	if len(rec.PatternTags) > MaxPatternTags {
		rec.PatternTags = rec.PatternTags[:MaxPatternTags]
	}
	return b.store.Add(ctx, rec)
}

// Genealogy traces one record's ancestor chain and descendants. Fails when
// the configured store has no genealogy capability.
func (b *Bank) Genealogy(ctx context.Context, id string) (*Genealogy, error) {
	gs, ok := b.store.(GenealogyStore)
	if !ok {
		return nil, fmt.Errorf("reasonbank: store does not support genealogy")
	}
	return TraceGenealogy(ctx, gs, id)
}

// Statistics is one snapshot of the engine's counters.
type Statistics struct {
	Solves    int            `json:"solves"`
	Searches  int            `json:"searches"`
	Cache     CacheStats     `json:"cache"`
	Retriever RetrieverStats `json:"retriever"`
	Capture   CaptureStats   `json:"capture"`
	Store     *StoreStats    `json:"store,omitempty"`
}

// Statistics aggregates cache, retriever, capture, and store counters.
func (b *Bank) Statistics(ctx context.Context) Statistics {
	b.mu.Lock()
	stats := Statistics{Solves: b.solves, Searches: b.searches}
	b.mu.Unlock()

	if b.cache != nil {
		stats.Cache = b.cache.Stats()
	}
	stats.Retriever = b.retriever.Stats()
	stats.Capture = b.capture.Stats()
	if b.ownedStore != nil {
		if st, err := b.ownedStore.Stats(ctx); err == nil {
			stats.Store = &st
		}
	}
	return stats
}

// Close stops background workers and closes the owned store.
func (b *Bank) Close() error {
	b.capture.Stop()
	if b.cache != nil {
		b.cache.StopSweeper()
	}
	if b.ownedStore != nil {
		return b.ownedStore.Close()
	}
	return nil
}
