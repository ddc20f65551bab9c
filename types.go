package reasonbank

import "time"

// Action tags a trajectory step with what the loop was doing.
type Action string

const (
	ActionThink        Action = "think"
	ActionEvaluate     Action = "evaluate"
	ActionRefine       Action = "refine"
	ActionError        Action = "error"
	ActionLoopDetected Action = "loop_detected"
	ActionSuccess      Action = "success"
	ActionCandidate    Action = "candidate"
	ActionSelectBest   Action = "select_best"
)

// ErrorContext captures failure knowledge attached to a memory record.
// Records carrying one are boosted during retrieval so that past mistakes
// resurface before they are repeated.
type ErrorContext struct {
	ErrorType          string `json:"error_type"`
	FailurePattern     string `json:"failure_pattern"`
	CorrectiveGuidance string `json:"corrective_guidance"`
}

// MemoryRecord is one stored experience. Records are immutable after
// creation except for the ephemeral scoring fields, which are recomputed
// on every retrieval and never persisted.
type MemoryRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`

	ErrorContext *ErrorContext `json:"error_context,omitempty"`

	// Genealogy: weak back-references by ID only, never ownership edges.
	ParentID       string   `json:"parent_id,omitempty"`
	DerivedFrom    []string `json:"derived_from,omitempty"`
	EvolutionStage int      `json:"evolution_stage,omitempty"`

	PatternTags     []string `json:"pattern_tags,omitempty"`
	DifficultyLevel string   `json:"difficulty_level,omitempty"`
	DomainCategory  string   `json:"domain_category,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Ephemeral scoring fields, recomputed per query.
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	RecencyScore    float64 `json:"recency_score,omitempty"`
	CompositeScore  float64 `json:"composite_score,omitempty"`
}

// MaxPatternTags caps the tag set on a single record.
const MaxPatternTags = 10

// TrajectoryStep is one append-only log entry from a reasoning run.
type TrajectoryStep struct {
	Iteration     int     `json:"iteration"`
	Action        Action  `json:"action"`
	Thought       string  `json:"thought,omitempty"`
	Output        string  `json:"output"`
	OutputHash    string  `json:"output_hash,omitempty"`
	CandidateID   int     `json:"candidate_id,omitempty"`
	PreviousScore float64 `json:"previous_score,omitempty"`
}

// SolutionCandidate is one scored attempt from a multi-attempt search.
// Never mutated after creation.
type SolutionCandidate struct {
	Solution    string
	Score       float64
	Feedback    string
	TokensUsed  int
	CandidateID int
}

// SolveResult is the outcome of one reasoning run, iterative or MaTTS.
type SolveResult struct {
	Solution         string           `json:"solution"`
	Score            float64          `json:"score"`
	Trajectory       []TrajectoryStep `json:"trajectory"`
	Iterations       int              `json:"iterations"`
	TotalTokens      int              `json:"total_tokens"`
	EarlyTermination bool             `json:"early_termination"`
	LoopDetected     bool             `json:"loop_detected"`
}

// Message is one chat turn sent to the generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the full, cache-keyable description of one generation
// call. Extra carries provider-specific parameters; its key order never
// affects the cache key.
type GenerateRequest struct {
	Model           string         `json:"model"`
	Messages        []Message      `json:"messages"`
	Temperature     float64        `json:"temperature"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// GenerateResult is what comes back from the generator.
type GenerateResult struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// SearchMode selects how MaTTS candidates are generated.
type SearchMode string

const (
	ModeParallel   SearchMode = "parallel"
	ModeSequential SearchMode = "sequential"
)
