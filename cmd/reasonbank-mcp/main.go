// reasonbank-mcp exposes reasonbank as an MCP stdio server.
//
// Environment variables (all optional, REASONBANK_ prefix):
//
//	REASONBANK_DB_PATH   - SQLite database path (default: ./data/reasonbank.db)
//	REASONBANK_API_KEY   - OpenRouter API key (falls back to OPENROUTER_API_KEY)
//	REASONBANK_MODEL     - model slug (default: google/gemini-2.5-pro)
//	REASONBANK_CONFIG    - optional YAML config file path
//
// Embedding configuration (optional; without it retrieval ranks by
// recency and reliability only):
//
//	REASONBANK_EMBED_PROVIDER  - "openai" or "ollama"
//	REASONBANK_EMBED_API_KEY   - embeddings API key (falls back to OPENAI_API_KEY)
//	REASONBANK_EMBED_MODEL     - embedding model per provider
//	REASONBANK_EMBED_DIMENSION - output vector dimension
//	REASONBANK_EMBED_BASE_URL  - API base URL or Ollama host
//
// Usage:
//
//	go install github.com/solverforge/reasonbank/cmd/reasonbank-mcp
//	reasonbank-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/solverforge/reasonbank"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reasonbank-mcp: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := reasonbank.LoadConfig(os.Getenv("REASONBANK_CONFIG"))
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	cfg.Logger = logger

	bank, err := reasonbank.Init(*cfg)
	if err != nil {
		logger.Fatal("reasonbank init", zap.Error(err))
	}
	defer bank.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "reasonbank-mcp",
		Version: "1.0.0",
	}, nil)

	// --- Tool: solve_task ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "solve_task",
		Description: "Solve a task with memory-grounded iterative reasoning (think, evaluate, refine). Set matts=true for multi-attempt test-time scaling.",
	}, solveHandler(bank))

	// --- Tool: retrieve_memories ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "retrieve_memories",
		Description: "Retrieve stored reasoning memories ranked by composite score (similarity + recency + error boost).",
	}, retrieveHandler(bank))

	// --- Tool: capture_knowledge ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "capture_knowledge",
		Description: "Judge a task/solution pair and store the extracted learnings as memories.",
	}, captureHandler(bank))

	// --- Tool: get_memory_genealogy ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_memory_genealogy",
		Description: "Trace a memory's ancestor chain and descendants through parent/derived-from references.",
	}, genealogyHandler(bank))

	// --- Tool: get_statistics ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_statistics",
		Description: "Report engine statistics: solve counts, cache hit rate, retrieval activity, stored memory counts.",
	}, statisticsHandler(bank))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Fatal("reasonbank-mcp", zap.Error(err))
	}
}

// --- Input types ---

type solveInput struct {
	Task             string  `json:"task"                        jsonschema:"Task description to solve (at least 10 characters)"`
	MaTTS            bool    `json:"matts,omitempty"             jsonschema:"Use multi-attempt test-time scaling instead of the iterative loop"`
	K                int     `json:"k,omitempty"                 jsonschema:"Candidate count for MaTTS (default from config)"`
	Mode             string  `json:"mode,omitempty"              jsonschema:"MaTTS generation mode: parallel or sequential"`
	MaxIterations    int     `json:"max_iterations,omitempty"    jsonschema:"Iteration cap for the iterative loop"`
	SuccessThreshold float64 `json:"success_threshold,omitempty" jsonschema:"Score at which the run stops early (0-1)"`
	Domain           string  `json:"domain,omitempty"            jsonschema:"Restrict memory retrieval to one domain category"`
}

type retrieveInput struct {
	Query      string   `json:"query"                 jsonschema:"Search query to find relevant memories"`
	Limit      int      `json:"limit,omitempty"       jsonschema:"Max results to return (default 5)"`
	Domain     string   `json:"domain,omitempty"      jsonschema:"Filter to one domain category"`
	Tags       []string `json:"tags,omitempty"        jsonschema:"Require at least one matching pattern tag"`
	ErrorsOnly bool     `json:"errors_only,omitempty" jsonschema:"Return only failure memories with error context"`
}

type captureInput struct {
	Task     string `json:"task"                jsonschema:"The task that was solved"`
	Solution string `json:"solution"            jsonschema:"The solution to judge and learn from"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Optional parent memory ID for genealogy"`
}

type genealogyInput struct {
	MemoryID string `json:"memory_id" jsonschema:"ID of the memory to trace"`
}

type statisticsInput struct{}

// --- Handlers ---

func solveHandler(bank *reasonbank.Bank) func(context.Context, *mcp.CallToolRequest, solveInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input solveInput) (*mcp.CallToolResult, any, error) {
		var res *reasonbank.SolveResult
		var err error
		if input.MaTTS {
			res, err = bank.SolveMaTTS(ctx, input.Task, reasonbank.SearchOptions{
				K:      input.K,
				Mode:   reasonbank.SearchMode(input.Mode),
				Domain: input.Domain,
			})
		} else {
			res, err = bank.Solve(ctx, input.Task, reasonbank.SolveOptions{
				MaxIterations:    input.MaxIterations,
				SuccessThreshold: input.SuccessThreshold,
				Domain:           input.Domain,
			})
		}
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(res)), nil, nil
	}
}

func retrieveHandler(bank *reasonbank.Bank) func(context.Context, *mcp.CallToolRequest, retrieveInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input retrieveInput) (*mcp.CallToolResult, any, error) {
		records, err := bank.Retrieve(ctx, input.Query, input.Limit, reasonbank.Filters{
			Domain:      input.Domain,
			PatternTags: input.Tags,
			ErrorsOnly:  input.ErrorsOnly,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		out := make([]map[string]any, len(records))
		for i, r := range records {
			out[i] = recordToMap(r)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func captureHandler(bank *reasonbank.Bank) func(context.Context, *mcp.CallToolRequest, captureInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input captureInput) (*mcp.CallToolResult, any, error) {
		judgment, err := bank.Capture(ctx, input.Task, input.Solution, input.ParentID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"verdict":   judgment.Verdict,
			"score":     judgment.Score,
			"reasoning": judgment.Reasoning,
			"learnings": len(judgment.Learnings),
		})), nil, nil
	}
}

func genealogyHandler(bank *reasonbank.Bank) func(context.Context, *mcp.CallToolRequest, genealogyInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input genealogyInput) (*mcp.CallToolResult, any, error) {
		g, err := bank.Genealogy(ctx, input.MemoryID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(g)), nil, nil
	}
}

func statisticsHandler(bank *reasonbank.Bank) func(context.Context, *mcp.CallToolRequest, statisticsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input statisticsInput) (*mcp.CallToolResult, any, error) {
		return textResult(jsonString(bank.Statistics(ctx))), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func recordToMap(r reasonbank.MemoryRecord) map[string]any {
	m := map[string]any{
		"id":              r.ID,
		"title":           r.Title,
		"description":     r.Description,
		"content":         r.Content,
		"domain_category": r.DomainCategory,
		"pattern_tags":    r.PatternTags,
		"composite_score": r.CompositeScore,
		"similarity":      r.SimilarityScore,
		"recency":         r.RecencyScore,
		"created_at":      r.CreatedAt.Format(time.RFC3339),
	}
	if r.ErrorContext != nil {
		m["error_context"] = r.ErrorContext
	}
	return m
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
