package reasonbank

import "fmt"

// InvalidInputError rejects a request before any work is done. It is never
// retried and never reaches the generator.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "reasonbank: invalid input: " + e.Reason
}

// GenerationError is a transport or HTTP failure from the LLM collaborator.
// A timeout is one kind of GenerationError.
type GenerationError struct {
	Status int // HTTP status, 0 for transport-level failures
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("reasonbank: generation failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("reasonbank: generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// RetrievalError wraps a memory-store failure. Callers of the retriever
// treat it as "no memories available" rather than failing the whole run.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("reasonbank: retrieval failed for %q: %v", truncate(e.Query, 50), e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// TokenBudgetError aborts the current iteration when a run's cumulative
// token usage crosses the configured budget.
type TokenBudgetError struct {
	Used   int
	Budget int
}

func (e *TokenBudgetError) Error() string {
	return fmt.Sprintf("reasonbank: token budget exceeded: used %d of %d", e.Used, e.Budget)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
