package reasonbank

import "strings"

// Domain categories assigned by the heuristic classifier. Callers may store
// any other string; these are just what ClassifyDomain can infer.
const (
	DomainAlgorithms   = "algorithms"
	DomainAPIUsage     = "api_usage"
	DomainDebugging    = "debugging"
	DomainDataHandling = "data_handling"
	DomainTesting      = "testing"
	DomainInfra        = "infrastructure"
	DomainGeneral      = "general"
)

// DomainClassifier assigns a domain category to task or memory text using
// keyword matching. Zero-cost and deterministic; used when the caller (or
// the extraction model) supplies no domain of its own.
type DomainClassifier struct{}

// NewDomainClassifier creates a keyword-based domain classifier.
func NewDomainClassifier() *DomainClassifier {
	return &DomainClassifier{}
}

// Classify returns the best-matching domain for the text along with a
// confidence in [0,1]. Text matching nothing classifies as general with
// zero confidence.
func (c *DomainClassifier) Classify(text string) (string, float64) {
	lower := strings.ToLower(text)

	scores := map[string]float64{}

	signals := map[string][]string{
		DomainAlgorithms: {
			"algorithm", "complexity", "sort", "search", "recursion",
			"dynamic programming", "graph", "tree", "heap", "big-o",
			"optimize", "data structure",
		},
		DomainAPIUsage: {
			"api", "endpoint", "request", "response", "sdk", "client",
			"rest", "http", "auth", "rate limit", "webhook", "integration",
		},
		DomainDebugging: {
			"bug", "debug", "error", "crash", "stack trace", "exception",
			"panic", "fix", "regression", "reproduce", "fails", "broken",
		},
		DomainDataHandling: {
			"parse", "json", "csv", "serialize", "schema", "database",
			"query", "migration", "encoding", "transform", "validate",
		},
		DomainTesting: {
			"test", "assert", "mock", "fixture", "coverage", "unit test",
			"integration test", "flaky", "test case",
		},
		DomainInfra: {
			"deploy", "docker", "kubernetes", "container", "pipeline",
			"ci", "terraform", "server", "config", "environment",
		},
	}

	for domain, words := range signals {
		for _, w := range words {
			if strings.Contains(lower, w) {
				scores[domain] += 0.25
			}
		}
	}

	best := DomainGeneral
	bestScore := 0.0
	for domain, score := range scores {
		if score > bestScore || (score == bestScore && domain < best) {
			bestScore = score
			best = domain
		}
	}

	if bestScore > 1.0 {
		bestScore = 1.0
	}
	return best, bestScore
}
