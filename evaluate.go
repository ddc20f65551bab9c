package reasonbank

import (
	"strconv"
	"strings"
)

// Evaluation is the parsed result of a judge call.
type Evaluation struct {
	Score    float64
	Feedback string
	Parsed   bool // false when the response did not match the expected format
}

const defaultEvaluationScore = 0.5

// parseEvaluation extracts "Score:" and "Feedback:" lines from a judge
// response. Malformed responses never fail the loop: the score falls back
// to a neutral default and the raw text becomes the feedback.
func parseEvaluation(response string) Evaluation {
	ev := Evaluation{Score: defaultEvaluationScore}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "score:"):
			raw := strings.TrimSpace(line[len("score:"):])
			if score, err := strconv.ParseFloat(raw, 64); err == nil {
				ev.Score = clamp01(score)
				ev.Parsed = true
			}
		case strings.HasPrefix(lower, "feedback:") && ev.Feedback == "":
			ev.Feedback = strings.TrimSpace(line[len("feedback:"):])
		}
	}

	// Multi-line feedback loses everything after the first line above, so
	// prefer the full remainder when the marker is present.
	if idx := strings.Index(response, "Feedback:"); idx >= 0 {
		ev.Feedback = strings.TrimSpace(response[idx+len("Feedback:"):])
	}
	if ev.Feedback == "" {
		if trimmed := strings.TrimSpace(response); len(trimmed) > 20 {
			ev.Feedback = trimmed
		} else {
			ev.Feedback = "No feedback provided"
		}
	}
	return ev
}
