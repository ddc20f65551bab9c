package reasonbank

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Searcher implements memory-aware test-time scaling: k independent
// think+evaluate passes over the same task, best candidate wins. Diversity
// comes from the generation temperature; every candidate sees the same
// memories and prompt.
type Searcher struct {
	loop   *Loop
	logger *zap.Logger

	k          int
	mode       SearchMode
	skipRefine bool
	threshold  float64
}

// SearchOptions tunes a single search. Zero values defer to the searcher's
// configuration; SkipRefine true forces the refinement pass off even when
// the configuration keeps it on.
type SearchOptions struct {
	Memories   []MemoryRecord // pre-fetched; nil means retrieve
	Domain     string
	K          int
	Mode       SearchMode
	SkipRefine bool
}

// NewSearcher builds a searcher on top of an existing loop, sharing its
// generator, retriever, and prompt configuration.
func NewSearcher(loop *Loop, cfg *Config) *Searcher {
	return &Searcher{
		loop:       loop,
		logger:     loop.logger,
		k:          cfg.K,
		mode:       cfg.Mode,
		skipRefine: cfg.SkipRefine,
		threshold:  cfg.SuccessThreshold,
	}
}

// Search generates k candidate solutions for task and returns the best one,
// optionally refined. Candidate failures are isolated; the search fails only
// when every candidate fails.
func (s *Searcher) Search(ctx context.Context, task string, opts SearchOptions) (*SolveResult, error) {
	task = strings.TrimSpace(task)
	if len(task) < minTaskLength {
		return nil, &InvalidInputError{
			Reason: fmt.Sprintf("task too short: %d chars, need at least %d", len(task), minTaskLength),
		}
	}

	k := opts.K
	if k == 0 {
		k = s.k
	}
	if k < 1 {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("k must be >= 1, got %d", k)}
	}

	mode := opts.Mode
	if mode == "" {
		mode = s.mode
	}
	if mode != ModeParallel && mode != ModeSequential {
		s.logger.Warn("invalid search mode, defaulting to parallel", zap.String("mode", string(mode)))
		mode = ModeParallel
	}

	memories := opts.Memories
	if memories == nil && s.loop.retriever != nil {
		retrieved, err := s.loop.retriever.Retrieve(ctx, task, s.loop.retrievalK, Filters{Domain: opts.Domain})
		if err != nil {
			s.logger.Warn("memory retrieval failed, continuing without memories", zap.Error(err))
		} else {
			memories = retrieved
		}
	}

	s.logger.Info("starting multi-attempt search",
		zap.Int("k", k),
		zap.String("mode", string(mode)))

	var candidates []SolutionCandidate
	if mode == ModeParallel {
		candidates = s.generateParallel(ctx, task, memories, k)
	} else {
		candidates = s.generateSequential(ctx, task, memories, k)
	}

	res := &SolveResult{}
	for _, c := range candidates {
		res.TotalTokens += c.TokensUsed
		res.Trajectory = append(res.Trajectory, TrajectoryStep{
			Action:      ActionCandidate,
			CandidateID: c.CandidateID,
			Thought:     fmt.Sprintf("score %.2f", c.Score),
			Output:      c.Solution,
			OutputHash:  solutionHash(c.Solution),
		})
	}

	if len(candidates) == 0 {
		return nil, &GenerationError{Err: fmt.Errorf("all %d solution candidates failed", k)}
	}

	best := selectBest(candidates)
	res.Iterations = len(candidates)
	res.Trajectory = append(res.Trajectory, TrajectoryStep{
		Action:      ActionSelectBest,
		CandidateID: best.CandidateID,
		Thought:     fmt.Sprintf("selected candidate %d with score %.2f", best.CandidateID, best.Score),
	})
	s.logger.Info("best candidate selected",
		zap.Int("candidate_id", best.CandidateID),
		zap.Float64("score", best.Score))

	solution, score := best.Solution, best.Score
	skipRefine := s.skipRefine || opts.SkipRefine
	if !skipRefine && best.Score < s.threshold {
		solution, score = s.refineBest(ctx, task, best, memories, res)
	}

	res.Solution = solution
	res.Score = score
	res.EarlyTermination = score >= s.threshold

	s.logger.Info("multi-attempt search finished",
		zap.Float64("score", score),
		zap.Int("candidates", len(candidates)),
		zap.Int("total_tokens", res.TotalTokens))
	return res, nil
}

// generateParallel runs one worker goroutine per candidate and collects
// results over a channel. Workers share nothing but the generator, which is
// safe for concurrent use.
func (s *Searcher) generateParallel(ctx context.Context, task string, memories []MemoryRecord, k int) []SolutionCandidate {
	results := make(chan *SolutionCandidate, k)
	for id := 1; id <= k; id++ {
		go func(candidateID int) {
			results <- s.runCandidate(ctx, task, memories, candidateID)
		}(id)
	}

	var candidates []SolutionCandidate
	for i := 0; i < k; i++ {
		if c := <-results; c != nil {
			candidates = append(candidates, *c)
		}
	}
	// Channel arrival order is nondeterministic.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CandidateID < candidates[j].CandidateID
	})
	return candidates
}

// generateSequential runs the candidates one after another with the same
// isolation as the parallel path.
func (s *Searcher) generateSequential(ctx context.Context, task string, memories []MemoryRecord, k int) []SolutionCandidate {
	var candidates []SolutionCandidate
	for id := 1; id <= k; id++ {
		if c := s.runCandidate(ctx, task, memories, id); c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}

// runCandidate performs one isolated think+evaluate pass. A failed pass
// returns nil and is excluded from selection.
func (s *Searcher) runCandidate(ctx context.Context, task string, memories []MemoryRecord, candidateID int) *SolutionCandidate {
	step := s.loop.think(ctx, task, 1, "", "", memories)
	if step.status == stepFatal {
		s.logger.Error("candidate generation failed",
			zap.Int("candidate_id", candidateID),
			zap.Error(step.err))
		return nil
	}

	ev, evTokens := s.loop.evaluate(ctx, task, step.solution, candidateID)
	s.logger.Debug("candidate evaluated",
		zap.Int("candidate_id", candidateID),
		zap.Float64("score", ev.Score))

	return &SolutionCandidate{
		Solution:    step.solution,
		Score:       ev.Score,
		Feedback:    ev.Feedback,
		TokensUsed:  step.tokens + evTokens,
		CandidateID: candidateID,
	}
}

// refineBest runs one refinement pass over the winning candidate. The
// refined solution replaces the original only on a strictly better score;
// refinement failures keep the original.
func (s *Searcher) refineBest(ctx context.Context, task string, best SolutionCandidate, memories []MemoryRecord, res *SolveResult) (string, float64) {
	step := s.loop.think(ctx, task, 2, best.Solution, best.Feedback, memories)
	if step.status == stepFatal {
		s.logger.Warn("refinement failed, keeping original", zap.Error(step.err))
		res.Trajectory = append(res.Trajectory, TrajectoryStep{
			Action: ActionError,
			Output: fmt.Sprintf("refinement failed: %v", step.err),
		})
		return best.Solution, best.Score
	}
	res.TotalTokens += step.tokens

	ev, evTokens := s.loop.evaluate(ctx, task, step.solution, best.CandidateID)
	res.TotalTokens += evTokens
	res.Trajectory = append(res.Trajectory, TrajectoryStep{
		Action:        ActionRefine,
		Output:        step.solution,
		Thought:       fmt.Sprintf("score %.2f", ev.Score),
		PreviousScore: best.Score,
	})

	if ev.Score > best.Score {
		s.logger.Info("refinement improved solution",
			zap.Float64("before", best.Score),
			zap.Float64("after", ev.Score))
		return step.solution, ev.Score
	}
	s.logger.Info("refinement did not improve, keeping original",
		zap.Float64("refined", ev.Score),
		zap.Float64("original", best.Score))
	return best.Solution, best.Score
}

// selectBest picks the strictly highest-scoring candidate; equal scores
// resolve to the lowest candidate ID. Candidates arrive sorted by ID, so a
// strict greater-than comparison gives both properties.
func selectBest(candidates []SolutionCandidate) SolutionCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}
