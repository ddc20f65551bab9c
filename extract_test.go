package reasonbank

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// cannedGenerator returns the same content for every call.
type cannedGenerator struct {
	content string
	err     error
}

func (g *cannedGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &GenerateResult{Content: g.content, TokensUsed: 50}, nil
}

// blockingGenerator holds every call until released, so tests can fill the
// capture queue deterministically.
type blockingGenerator struct {
	release chan struct{}
	content string
}

func (g *blockingGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &GenerateResult{Content: g.content, TokensUsed: 50}, nil
}

// recordingStore collects added records.
type recordingStore struct {
	mu    sync.Mutex
	added []MemoryRecord
}

func (s *recordingStore) Add(ctx context.Context, rec MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, rec)
	return nil
}

func (s *recordingStore) Delete(ctx context.Context, id string) error { return nil }

func (s *recordingStore) QuerySimilar(ctx context.Context, query string, limit int, f Filters) ([]ScoredRecord, error) {
	return nil, nil
}

func (s *recordingStore) snapshot() []MemoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MemoryRecord(nil), s.added...)
}

func newTestExtractor(gen Generator) *Extractor {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return NewExtractor(gen, cfg)
}

const successJudgment = "```json\n" + `{
  "verdict": "success",
  "score": 0.9,
  "reasoning": "clean solution",
  "learnings": [
    {
      "title": "Inclusive bounds for binary search",
      "description": "Keep both ends inclusive",
      "content": "Use lo <= hi with hi = len(s) - 1",
      "pattern_tags": ["search", "bounds"],
      "difficulty_level": "moderate",
      "domain_category": "algorithms",
      "error_context": {"error_type": "off_by_one", "failure_pattern": "x", "corrective_guidance": "y"}
    }
  ]
}` + "\n```"

func TestExtractParsesFencedJudgment(t *testing.T) {
	ex := newTestExtractor(&cannedGenerator{content: successJudgment})

	j, err := ex.Extract(context.Background(), "implement binary search", "func Search() {}")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if j.Verdict != "success" || j.Score != 0.9 {
		t.Errorf("unexpected judgment: %s %g", j.Verdict, j.Score)
	}
	if len(j.Learnings) != 1 {
		t.Fatalf("expected 1 learning, got %d", len(j.Learnings))
	}
	rec := j.Learnings[0]
	if rec.Title != "Inclusive bounds for binary search" || rec.DomainCategory != DomainAlgorithms {
		t.Errorf("learning fields did not parse: %+v", rec)
	}
	if rec.ErrorContext != nil {
		t.Error("error context must be cleared on non-failure verdicts")
	}
}

func TestExtractFailureKeepsErrorContext(t *testing.T) {
	content := `{
	  "verdict": "failure",
	  "score": 0.2,
	  "reasoning": "wrong approach",
	  "learnings": [
	    {
	      "title": "t", "description": "d", "content": "c",
	      "error_context": {"error_type": "timeout", "failure_pattern": "x", "corrective_guidance": "y"}
	    }
	  ]
	}`
	ex := newTestExtractor(&cannedGenerator{content: content})

	j, err := ex.Extract(context.Background(), "implement binary search", "solution")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if j.Learnings[0].ErrorContext == nil || j.Learnings[0].ErrorContext.ErrorType != "timeout" {
		t.Errorf("failure learnings must keep their error context: %+v", j.Learnings[0].ErrorContext)
	}
}

func TestExtractBackfillsDomain(t *testing.T) {
	content := `{
	  "verdict": "partial",
	  "score": 0.5,
	  "reasoning": "r",
	  "learnings": [{"title": "t", "description": "d", "content": "c"}]
	}`
	ex := newTestExtractor(&cannedGenerator{content: content})

	j, err := ex.Extract(context.Background(), "reproduce the crash from the stack trace", "solution")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if j.Learnings[0].DomainCategory != DomainDebugging {
		t.Errorf("missing domain should be classified from the task, got %q", j.Learnings[0].DomainCategory)
	}
}

func TestExtractCapsPatternTags(t *testing.T) {
	content := `{
	  "verdict": "success",
	  "score": 0.8,
	  "reasoning": "r",
	  "learnings": [{
	    "title": "t", "description": "d", "content": "c",
	    "pattern_tags": ["1","2","3","4","5","6","7","8","9","10","11","12"]
	  }]
	}`
	ex := newTestExtractor(&cannedGenerator{content: content})

	j, err := ex.Extract(context.Background(), "implement binary search", "solution")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(j.Learnings[0].PatternTags) != MaxPatternTags {
		t.Errorf("expected tags capped at %d, got %d", MaxPatternTags, len(j.Learnings[0].PatternTags))
	}
}

func TestExtractGeneratorError(t *testing.T) {
	ex := newTestExtractor(&cannedGenerator{err: errors.New("backend down")})
	if _, err := ex.Extract(context.Background(), "task text here", "solution"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseJudgmentRejectsBadInput(t *testing.T) {
	if _, err := parseJudgment("not json at all"); err == nil {
		t.Error("malformed JSON should fail")
	}
	if _, err := parseJudgment(`{"verdict": "amazing", "score": 0.9}`); err == nil {
		t.Error("unknown verdict should fail")
	}
}

func TestParseJudgmentClampsScore(t *testing.T) {
	j, err := parseJudgment(`{"verdict": "success", "score": 1.7, "reasoning": "r"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if j.Score != 1.0 {
		t.Errorf("score should clamp to 1.0, got %g", j.Score)
	}
}

func TestCaptureWorkerStoresLearnings(t *testing.T) {
	store := &recordingStore{}
	ex := newTestExtractor(&cannedGenerator{content: successJudgment})
	worker := NewCaptureWorker(ex, store, 4, nil)
	defer worker.Stop()

	if !worker.Submit("implement binary search", "func Search() {}", "origin-id") {
		t.Fatal("submit should succeed with a free queue")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if worker.Stats().Captured == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("capture never completed: %+v", worker.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}

	added := store.snapshot()
	if len(added) != 1 {
		t.Fatalf("expected 1 stored learning, got %d", len(added))
	}
	if added[0].ParentID != "origin-id" {
		t.Errorf("stored learning should carry the solve's record ID, got %q", added[0].ParentID)
	}
}

func TestCaptureWorkerDropsWhenFull(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{}), content: successJudgment}
	store := &recordingStore{}
	worker := NewCaptureWorker(newTestExtractor(gen), store, 1, nil)

	// First job occupies the worker, second fills the queue.
	worker.Submit("first task body", "s", "")
	worker.Submit("second task body", "s", "")

	dropped := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !worker.Submit("third task body", "s", "") {
			dropped = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !dropped {
		t.Error("a full queue must drop, not block")
	}
	if worker.Stats().Dropped < 1 {
		t.Errorf("dropped jobs must be counted, got %+v", worker.Stats())
	}

	close(gen.release)
	worker.Stop()
}

func TestCaptureWorkerCountsFailures(t *testing.T) {
	ex := newTestExtractor(&cannedGenerator{err: errors.New("backend down")})
	worker := NewCaptureWorker(ex, &recordingStore{}, 4, nil)
	defer worker.Stop()

	worker.Submit("some task body", "solution", "")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if worker.Stats().Failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failure never counted: %+v", worker.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
