package reasonbank

import (
	"fmt"
	"regexp"
	"strings"
)

// PromptCompressor shrinks prompts that exceed a token threshold. It first
// collapses whitespace and strips comments out of fenced code blocks; if the
// prompt is still too long it truncates, keeping the head and tail where the
// task statement and the current context live.
type PromptCompressor struct {
	MaxTokens int     // token budget; <1 disables compression
	HeadRatio float64 // fraction of the retained budget given to the head
}

const defaultHeadRatio = 0.6

var (
	spaceRuns   = regexp.MustCompile(` +`)
	blankRuns   = regexp.MustCompile(`\n\n+`)
	codeFence   = regexp.MustCompile("(?s)```[\\w]*\\n(.*?)```")
	lineComment = regexp.MustCompile(`(?m)(#|//).*$`)
)

func NewPromptCompressor(maxTokens int, headRatio float64) *PromptCompressor {
	if headRatio <= 0 || headRatio >= 1 {
		headRatio = defaultHeadRatio
	}
	return &PromptCompressor{MaxTokens: maxTokens, HeadRatio: headRatio}
}

// EstimateTokens approximates the token count of s. Four characters per
// token is a rough but serviceable average for English prose and code.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Compress returns prompt reduced to fit the token budget. Prompts already
// within budget pass through untouched.
func (p *PromptCompressor) Compress(prompt string) string {
	if p.MaxTokens < 1 || EstimateTokens(prompt) <= p.MaxTokens {
		return prompt
	}

	compressed := compactWhitespace(prompt)
	compressed = compressCodeBlocks(compressed)

	if EstimateTokens(compressed) > p.MaxTokens {
		compressed = p.truncate(compressed)
	}
	return compressed
}

// compactWhitespace collapses space runs and blank-line runs and drops
// trailing whitespace, preserving overall structure.
func compactWhitespace(text string) string {
	text = spaceRuns.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// compressCodeBlocks strips line comments and empty lines inside fenced
// code blocks.
func compressCodeBlocks(text string) string {
	return codeFence.ReplaceAllStringFunc(text, func(block string) string {
		inner := codeFence.FindStringSubmatch(block)[1]
		inner = lineComment.ReplaceAllString(inner, "")
		var kept []string
		for _, line := range strings.Split(inner, "\n") {
			if strings.TrimSpace(line) != "" {
				kept = append(kept, line)
			}
		}
		return fmt.Sprintf("```\n%s\n```", strings.Join(kept, "\n"))
	})
}

// truncate keeps the head and tail of the text with an explicit marker in
// between. The tail gets most of what the head ratio leaves over; a small
// slack stays unused so the marker itself fits.
func (p *PromptCompressor) truncate(text string) string {
	maxChars := p.MaxTokens * 4
	if len(text) <= maxChars {
		return text
	}

	tailRatio := 1.0 - p.HeadRatio - 0.1
	if tailRatio < 0.05 {
		tailRatio = 0.05
	}
	headLen := int(float64(maxChars) * p.HeadRatio)
	tailLen := int(float64(maxChars) * tailRatio)

	return text[:headLen] +
		"\n\n[... Content truncated for token optimization ...]\n\n" +
		text[len(text)-tailLen:]
}
