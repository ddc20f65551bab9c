package reasonbank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// minTaskLength guards against degenerate tasks before any network work.
const minTaskLength = 10

// Loop runs the think -> evaluate -> refine cycle for one task. It is
// strictly sequential: one iteration's evaluate always completes before the
// next iteration's think begins. Not safe for concurrent use; create one
// Loop per run or serialize callers.
type Loop struct {
	generator  Generator
	retriever  *Retriever
	compressor *PromptCompressor
	logger     *zap.Logger

	model            string
	reasoningEffort  string
	maxIterations    int
	successThreshold float64
	tempGenerate     float64
	tempEvaluate     float64
	maxOutputTokens  int
	evaluationTokens int
	tokenBudget      int
	retrievalK       int
}

// SolveOptions tunes a single run. Zero values defer to the loop's
// configuration; a negative SuccessThreshold requests a threshold of
// exactly 0, accepting the first evaluated solution.
type SolveOptions struct {
	// Memories are pre-fetched records to ground the run. When nil the loop
	// retrieves its own; an explicitly empty slice suppresses retrieval.
	Memories []MemoryRecord

	Domain           string // retrieval filter when the loop retrieves
	MaxIterations    int
	SuccessThreshold float64
}

// NewLoop wires a reasoning loop from its collaborators. gen is typically a
// ResponseCache wrapping the raw client; retriever may be nil, in which case
// runs proceed without memory grounding.
func NewLoop(gen Generator, retriever *Retriever, cfg *Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		generator:        gen,
		retriever:        retriever,
		compressor:       NewPromptCompressor(cfg.TruncationThreshold, cfg.TruncationHeadRatio),
		logger:           logger,
		model:            cfg.Model,
		reasoningEffort:  cfg.ReasoningEffort,
		maxIterations:    cfg.MaxIterations,
		successThreshold: cfg.SuccessThreshold,
		tempGenerate:     cfg.TemperatureGenerate,
		tempEvaluate:     cfg.TemperatureEvaluate,
		maxOutputTokens:  cfg.MaxOutputTokens,
		evaluationTokens: cfg.EvaluationTokens,
		tokenBudget:      cfg.TokenBudget,
		retrievalK:       cfg.RetrievalK,
	}
}

// stepStatus classifies a step outcome explicitly rather than leaving the
// caller to infer severity from error types.
type stepStatus int

const (
	stepOK stepStatus = iota
	stepRecoverable
	stepFatal
)

type stepResult struct {
	status   stepStatus
	solution string
	tokens   int
	err      error
}

// Solve runs the iterative reasoning cycle for task. Validation failures
// return an InvalidInputError before any generation happens; after that the
// loop never propagates step errors, it records them in the trajectory and
// returns the best solution found so far.
func (l *Loop) Solve(ctx context.Context, task string, opts SolveOptions) (*SolveResult, error) {
	task = strings.TrimSpace(task)
	if len(task) < minTaskLength {
		return nil, &InvalidInputError{
			Reason: fmt.Sprintf("task too short: %d chars, need at least %d", len(task), minTaskLength),
		}
	}

	maxIter := opts.MaxIterations
	if maxIter < 1 {
		maxIter = l.maxIterations
	}
	threshold := opts.SuccessThreshold
	if threshold == 0 {
		threshold = l.successThreshold
	} else if threshold < 0 {
		threshold = 0
	}

	memories := opts.Memories
	if memories == nil && l.retriever != nil {
		retrieved, err := l.retriever.Retrieve(ctx, task, l.retrievalK, Filters{Domain: opts.Domain})
		if err != nil {
			// Degrade to an ungrounded run.
			l.logger.Warn("memory retrieval failed, continuing without memories", zap.Error(err))
		} else {
			memories = retrieved
		}
	}

	res := &SolveResult{}
	seen := make(map[string]bool)
	bestScore := -1.0
	var bestSolution string
	var prevSolution, feedback string
	var prevScore float64

	for iter := 1; iter <= maxIter; iter++ {
		step := l.think(ctx, task, iter, prevSolution, feedback, memories)
		if step.status == stepFatal {
			res.Trajectory = append(res.Trajectory, TrajectoryStep{
				Iteration: iter,
				Action:    ActionError,
				Output:    step.err.Error(),
			})
			l.logger.Error("think step failed",
				zap.Int("iteration", iter),
				zap.Error(step.err))
			break
		}

		res.Iterations = iter
		res.TotalTokens += step.tokens

		hash := solutionHash(step.solution)
		action := ActionThink
		if iter > 1 {
			action = ActionRefine
		}
		res.Trajectory = append(res.Trajectory, TrajectoryStep{
			Iteration:     iter,
			Action:        action,
			Output:        step.solution,
			OutputHash:    hash,
			PreviousScore: prevScore,
		})

		if l.tokenBudget > 0 && res.TotalTokens > l.tokenBudget {
			budgetErr := &TokenBudgetError{Used: res.TotalTokens, Budget: l.tokenBudget}
			res.Trajectory = append(res.Trajectory, TrajectoryStep{
				Iteration: iter,
				Action:    ActionError,
				Output:    budgetErr.Error(),
			})
			l.logger.Warn("token budget exceeded",
				zap.Int("used", res.TotalTokens),
				zap.Int("budget", l.tokenBudget))
			// The unevaluated solution may still be the only one we have.
			if bestScore < 0 {
				bestSolution = step.solution
				bestScore = 0
			}
			break
		}

		if seen[hash] {
			res.LoopDetected = true
			res.Trajectory = append(res.Trajectory, TrajectoryStep{
				Iteration:  iter,
				Action:     ActionLoopDetected,
				Output:     "identical solution produced twice, terminating",
				OutputHash: hash,
			})
			l.logger.Warn("reasoning loop detected", zap.Int("iteration", iter))
			break
		}
		seen[hash] = true

		ev, evTokens := l.evaluate(ctx, task, step.solution, iter)
		res.TotalTokens += evTokens
		res.Trajectory = append(res.Trajectory, TrajectoryStep{
			Iteration: iter,
			Action:    ActionEvaluate,
			Thought:   fmt.Sprintf("score %.2f", ev.Score),
			Output:    ev.Feedback,
		})

		if ev.Score > bestScore {
			bestScore = ev.Score
			bestSolution = step.solution
		}

		if ev.Score >= threshold {
			res.EarlyTermination = true
			res.Trajectory = append(res.Trajectory, TrajectoryStep{
				Iteration: iter,
				Action:    ActionSuccess,
				Thought:   fmt.Sprintf("score %.2f meets threshold %.2f", ev.Score, threshold),
			})
			break
		}

		prevSolution = step.solution
		feedback = ev.Feedback
		prevScore = ev.Score
	}

	if bestScore < 0 {
		bestScore = 0
	}
	res.Solution = bestSolution
	res.Score = bestScore

	l.logger.Info("solve finished",
		zap.Int("iterations", res.Iterations),
		zap.Float64("score", res.Score),
		zap.Int("total_tokens", res.TotalTokens),
		zap.Bool("early_termination", res.EarlyTermination),
		zap.Bool("loop_detected", res.LoopDetected))
	return res, nil
}

// think builds the generation prompt for this iteration and invokes the
// generator. Iteration 1 grounds on memories alone; later iterations carry
// the previous attempt and the evaluator's feedback.
func (l *Loop) think(ctx context.Context, task string, iteration int, prevSolution, feedback string, memories []MemoryRecord) stepResult {
	var prompt string
	if iteration == 1 {
		prompt = buildGenerationPrompt(task, memories)
	} else {
		prompt = buildRefinementPrompt(task, prevSolution, feedback, memories)
	}

	if estimated := EstimateTokens(prompt); estimated > l.compressor.MaxTokens && l.compressor.MaxTokens > 0 {
		l.logger.Debug("compressing prompt",
			zap.Int("estimated_tokens", estimated),
			zap.Int("threshold", l.compressor.MaxTokens))
		prompt = l.compressor.Compress(prompt)
	}

	result, err := l.generator.Generate(ctx, GenerateRequest{
		Model: l.model,
		Messages: []Message{
			{Role: "system", Content: generateSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:     l.tempGenerate,
		MaxOutputTokens: l.maxOutputTokens,
		ReasoningEffort: l.reasoningEffort,
	})
	if err != nil {
		return stepResult{status: stepFatal, err: fmt.Errorf("generate solution at iteration %d: %w", iteration, err)}
	}

	l.logger.Debug("think step",
		zap.Int("iteration", iteration),
		zap.Int("solution_chars", len(result.Content)),
		zap.Int("tokens", result.TokensUsed))
	return stepResult{status: stepOK, solution: result.Content, tokens: result.TokensUsed}
}

// evaluate scores a solution through the judge model. Evaluation runs at the
// evaluation temperature (0.0 by default, which makes it cacheable). It is
// always recoverable: any failure degrades to the neutral default score so
// the loop can continue.
func (l *Loop) evaluate(ctx context.Context, task, solution string, iteration int) (Evaluation, int) {
	result, err := l.generator.Generate(ctx, GenerateRequest{
		Model: l.model,
		Messages: []Message{
			{Role: "system", Content: evaluateSystemPrompt},
			{Role: "user", Content: buildEvaluationPrompt(task, solution)},
		},
		Temperature:     l.tempEvaluate,
		MaxOutputTokens: l.evaluationTokens,
	})
	if err != nil {
		l.logger.Warn("evaluate step failed, using default score",
			zap.Int("iteration", iteration),
			zap.Error(err))
		return Evaluation{
			Score:    defaultEvaluationScore,
			Feedback: "Evaluation failed, continuing with default score",
		}, 0
	}

	ev := parseEvaluation(result.Content)
	if !ev.Parsed {
		l.logger.Warn("evaluation response did not match expected format",
			zap.Int("iteration", iteration))
	}
	return ev, result.TokensUsed
}

// solutionHash returns a short content hash of a solution, used to detect
// the generator re-producing an identical answer within one run.
func solutionHash(solution string) string {
	sum := sha256.Sum256([]byte(solution))
	return hex.EncodeToString(sum[:])[:16]
}
