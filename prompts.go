package reasonbank

import (
	"fmt"
	"strings"
)

const (
	generateSystemPrompt = "You are an expert problem solver and programmer."
	evaluateSystemPrompt = "You are an expert code reviewer and evaluator."
)

// Prompt-context limits. Initial generation gets more memories than
// refinement, which already carries the previous attempt and feedback.
const (
	generationMemoryLimit = 3
	refinementMemoryLimit = 2
)

// FormatForPrompt renders a memory as a markdown block for LLM prompts.
// Error memories carry an explicit warning so the model treats them as
// patterns to avoid rather than patterns to follow.
func (m *MemoryRecord) FormatForPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", m.Title)
	fmt.Fprintf(&b, "**Description:** %s\n", m.Description)
	fmt.Fprintf(&b, "**Content:**\n%s\n", m.Content)

	if m.ErrorContext != nil {
		b.WriteString("\n**Error Warning:** This memory contains failure patterns:\n")
		fmt.Fprintf(&b, "- Error Type: %s\n", orUnknown(m.ErrorContext.ErrorType))
		fmt.Fprintf(&b, "- Failure Pattern: %s\n", orUnknown(m.ErrorContext.FailurePattern))
		fmt.Fprintf(&b, "- Corrective Guidance: %s\n", orUnknown(m.ErrorContext.CorrectiveGuidance))
	}

	var meta []string
	if len(m.PatternTags) > 0 {
		meta = append(meta, fmt.Sprintf("**Tags:** %s", strings.Join(m.PatternTags, ", ")))
	}
	if m.DifficultyLevel != "" {
		meta = append(meta, fmt.Sprintf("**Difficulty:** %s", m.DifficultyLevel))
	}
	if m.DomainCategory != "" {
		meta = append(meta, fmt.Sprintf("**Domain:** %s", m.DomainCategory))
	}
	if len(meta) > 0 {
		b.WriteString("\n" + strings.Join(meta, " | ") + "\n")
	}
	return b.String()
}

// FormatMemoriesForPrompt renders up to max memories as one prompt section.
// A max < 1 means no limit.
func FormatMemoriesForPrompt(memories []MemoryRecord, max int) string {
	if len(memories) == 0 {
		return "No relevant memories found."
	}
	if max > 0 && len(memories) > max {
		memories = memories[:max]
	}
	var b strings.Builder
	b.WriteString("# Relevant Past Experiences\n")
	for i := range memories {
		fmt.Fprintf(&b, "\n## Memory %d\n", i+1)
		b.WriteString(memories[i].FormatForPrompt())
	}
	return b.String()
}

// buildGenerationPrompt assembles the first-iteration prompt: the task,
// relevant memories, and solution instructions.
func buildGenerationPrompt(task string, memories []MemoryRecord) string {
	var b strings.Builder
	b.WriteString("# Task\n")
	b.WriteString(task)
	b.WriteString("\n\n")

	if len(memories) > 0 {
		b.WriteString(FormatMemoriesForPrompt(memories, generationMemoryLimit))
		b.WriteString("\n")
	}

	b.WriteString("# Instructions\n")
	b.WriteString("Generate a high-quality solution to the task above.\n")
	b.WriteString("If memories are provided, learn from the patterns and avoid past mistakes.\n")
	b.WriteString("Provide clear, well-structured code with explanations.\n\n")
	b.WriteString("# Solution\n")
	return b.String()
}

// buildRefinementPrompt assembles a follow-up prompt carrying the previous
// attempt and the evaluator's feedback.
func buildRefinementPrompt(task, previousSolution, feedback string, memories []MemoryRecord) string {
	var b strings.Builder
	b.WriteString("# Task\n")
	b.WriteString(task)
	b.WriteString("\n\n# Previous Solution Attempt\n")
	b.WriteString(previousSolution)
	b.WriteString("\n\n# Evaluation Feedback\n")
	b.WriteString(feedback)
	b.WriteString("\n\n")

	if len(memories) > 0 {
		b.WriteString(FormatMemoriesForPrompt(memories, refinementMemoryLimit))
		b.WriteString("\n")
	}

	b.WriteString("# Instructions\n")
	b.WriteString("Refine the previous solution based on the evaluation feedback.\n")
	b.WriteString("Address the specific issues mentioned in the feedback.\n")
	b.WriteString("Maintain what was working well in the previous attempt.\n")
	b.WriteString("Provide an improved, complete solution.\n\n")
	b.WriteString("# Refined Solution\n")
	return b.String()
}

// buildEvaluationPrompt asks the judge model for a score and feedback in a
// fixed "Score:" / "Feedback:" format that parseEvaluation understands.
func buildEvaluationPrompt(task, solution string) string {
	return fmt.Sprintf(`# Task
%s

# Solution to Evaluate
%s

# Instructions
Evaluate the solution and provide:
1. A quality score from 0.0 to 1.0
2. Specific feedback for improvement

**Scoring Guide:**
- 0.0-0.3: Major issues, doesn't work
- 0.4-0.6: Partial solution, has problems
- 0.7-0.8: Good solution, minor issues
- 0.9-1.0: Excellent solution

**Format your response as:**
Score: <number between 0.0 and 1.0>
Feedback: <specific feedback for improvement>

# Evaluation
`, task, solution)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
