package reasonbank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Judgment is the structured assessment of a finished solve: a verdict, a
// score, and the learnings worth banking for future tasks.
type Judgment struct {
	Verdict   string         `json:"verdict"` // success | failure | partial
	Score     float64        `json:"score"`
	Reasoning string         `json:"reasoning"`
	Learnings []MemoryRecord `json:"learnings"`
}

// Extractor distills memory records from completed solves. Extraction runs
// at temperature 0 so identical trajectories hit the response cache.
type Extractor struct {
	generator  Generator
	classifier *DomainClassifier
	logger     *zap.Logger
	model      string
	maxTokens  int
}

// NewExtractor wires an extractor; gen is typically the shared ResponseCache.
func NewExtractor(gen Generator, cfg *Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		generator:  gen,
		classifier: NewDomainClassifier(),
		logger:     logger,
		model:      cfg.Model,
		maxTokens:  4000,
	}
}

// Extract judges a task/solution pair and returns the distilled learnings
// as storable records. Records come back without IDs or timestamps; the
// store assigns both.
func (e *Extractor) Extract(ctx context.Context, task, solution string) (*Judgment, error) {
	result, err := e.generator.Generate(ctx, GenerateRequest{
		Model: e.model,
		Messages: []Message{
			{Role: "system", Content: evaluateSystemPrompt},
			{Role: "user", Content: buildExtractionPrompt(task, solution)},
		},
		Temperature:     0.0,
		MaxOutputTokens: e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extract learnings: %w", err)
	}

	judgment, err := parseJudgment(result.Content)
	if err != nil {
		return nil, fmt.Errorf("extract learnings: %w", err)
	}

	for i := range judgment.Learnings {
		rec := &judgment.Learnings[i]
		if len(rec.PatternTags) > MaxPatternTags {
			rec.PatternTags = rec.PatternTags[:MaxPatternTags]
		}
		if rec.DomainCategory == "" {
			rec.DomainCategory, _ = e.classifier.Classify(task)
		}
		// Error context belongs to failure learnings only.
		if judgment.Verdict != "failure" {
			rec.ErrorContext = nil
		}
	}

	e.logger.Info("learnings extracted",
		zap.String("verdict", judgment.Verdict),
		zap.Float64("score", judgment.Score),
		zap.Int("learnings", len(judgment.Learnings)))
	return judgment, nil
}

// buildExtractionPrompt asks the judge model for a verdict plus 1-3
// learnings in a fixed JSON shape.
func buildExtractionPrompt(task, solution string) string {
	return fmt.Sprintf(`You are evaluating a solution to a coding task.

**Task:**
%s

**Solution:**
%s

**Instructions:**
Evaluate the solution and provide your assessment in JSON format with the following structure:

{
    "verdict": "success" | "failure" | "partial",
    "score": <float between 0.0 and 1.0>,
    "reasoning": "<explanation of why this score was given>",
    "learnings": [
        {
            "title": "<concise title (5-10 words)>",
            "description": "<one-sentence summary>",
            "content": "<detailed knowledge content with patterns and insights>",
            "pattern_tags": ["<tag1>", "<tag2>"],
            "difficulty_level": "simple" | "moderate" | "complex" | "expert",
            "domain_category": "<domain like 'algorithms', 'api_usage', etc.>",
            "error_context": {
                "error_type": "<error type if failure>",
                "failure_pattern": "<what went wrong>",
                "corrective_guidance": "<how to avoid this error>"
            }
        }
    ]
}

Include error_context only when the verdict is "failure".

**Scoring Guide:**
- 0.0-0.3: Major issues, doesn't work
- 0.4-0.6: Partial solution, has problems
- 0.7-0.8: Good solution, minor issues
- 0.9-1.0: Excellent solution

Extract 1-3 key learnings that would be valuable for future similar tasks.
`, task, solution)
}

// parseJudgment tolerantly parses the judge's JSON, stripping markdown
// fences the model tends to add.
func parseJudgment(response string) (*Judgment, error) {
	text := strings.TrimSpace(response)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var j Judgment
	if err := json.Unmarshal([]byte(text), &j); err != nil {
		return nil, fmt.Errorf("parse judgment: %w", err)
	}
	switch j.Verdict {
	case "success", "failure", "partial":
	default:
		return nil, fmt.Errorf("parse judgment: unknown verdict %q", j.Verdict)
	}
	j.Score = clamp01(j.Score)
	return &j, nil
}

// --- Background capture ---

// captureJob is one pending extraction.
type captureJob struct {
	task     string
	solution string
	parentID string
}

// CaptureWorker extracts and stores learnings in the background so a solve
// never blocks on knowledge capture. Submissions are non-blocking: when the
// queue is full the job is dropped and counted, never queued unboundedly.
type CaptureWorker struct {
	extractor *Extractor
	store     MemoryStore
	logger    *zap.Logger

	jobs   chan captureJob
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	captured int
	dropped  int
	failed   int
}

// NewCaptureWorker creates a worker with the given queue depth and starts
// its goroutine.
func NewCaptureWorker(extractor *Extractor, store MemoryStore, queueDepth int, logger *zap.Logger) *CaptureWorker {
	if queueDepth < 1 {
		queueDepth = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &CaptureWorker{
		extractor: extractor,
		store:     store,
		logger:    logger,
		jobs:      make(chan captureJob, queueDepth),
		cancel:    cancel,
	}
	w.wg.Add(1)
	go w.run(ctx)
	return w
}

// Submit queues a capture without blocking. Returns false when the queue is
// full and the job was dropped.
func (w *CaptureWorker) Submit(task, solution, parentID string) bool {
	select {
	case w.jobs <- captureJob{task: task, solution: solution, parentID: parentID}:
		return true
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("capture queue full, dropping job")
		return false
	}
}

func (w *CaptureWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.jobs:
			w.process(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (w *CaptureWorker) process(ctx context.Context, job captureJob) {
	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	judgment, err := w.extractor.Extract(jobCtx, job.task, job.solution)
	if err != nil {
		w.mu.Lock()
		w.failed++
		w.mu.Unlock()
		w.logger.Warn("background capture failed", zap.Error(err))
		return
	}

	stored := 0
	for _, rec := range judgment.Learnings {
		rec.ParentID = job.parentID
		if err := w.store.Add(jobCtx, rec); err != nil {
			w.logger.Warn("store learning failed", zap.Error(err))
			continue
		}
		stored++
	}

	w.mu.Lock()
	w.captured += stored
	w.mu.Unlock()
	w.logger.Debug("background capture stored", zap.Int("learnings", stored))
}

// CaptureStats reports worker activity counters.
type CaptureStats struct {
	Captured int `json:"captured"`
	Dropped  int `json:"dropped"`
	Failed   int `json:"failed"`
}

// Stats returns a snapshot of worker counters.
func (w *CaptureWorker) Stats() CaptureStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return CaptureStats{Captured: w.captured, Dropped: w.dropped, Failed: w.failed}
}

// Stop shuts the worker down. Queued jobs that have not started are
// discarded.
func (w *CaptureWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}
