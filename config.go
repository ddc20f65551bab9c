package reasonbank

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// Config holds every knob the engine recognizes. Zero values are filled by
// ApplyDefaults; construction normalizes scoring weights exactly once.
type Config struct {
	// Model / transport
	Model           string `koanf:"model"`
	APIKey          string `koanf:"api_key"`
	BaseURL         string `koanf:"base_url"`
	ReasoningEffort string `koanf:"reasoning_effort"`

	// Iteration. A SuccessThreshold of 0 means "use the default"; pass a
	// negative value to request a threshold of exactly 0.
	MaxIterations    int     `koanf:"max_iterations"`
	SuccessThreshold float64 `koanf:"success_threshold"`

	// Temperatures. Same convention: 0 means "use the default" and a
	// negative TemperatureGenerate requests deterministic generation.
	TemperatureGenerate float64 `koanf:"temperature_generate"`
	TemperatureEvaluate float64 `koanf:"temperature_evaluate"`

	// Token management
	MaxOutputTokens     int     `koanf:"max_output_tokens"`
	EvaluationTokens    int     `koanf:"evaluation_tokens"`
	TokenBudget         int     `koanf:"token_budget"`
	TruncationThreshold int     `koanf:"truncation_threshold"`
	TruncationHeadRatio float64 `koanf:"truncation_head_ratio"`

	// Retrieval
	RetrievalK          int     `koanf:"retrieval_k"`
	RecencyHalfLifeDays float64 `koanf:"recency_half_life_days"`
	MinRelevanceScore   float64 `koanf:"min_relevance_score"`
	SimilarityWeight    float64 `koanf:"similarity_weight"`
	RecencyWeight       float64 `koanf:"recency_weight"`
	ErrorWeight         float64 `koanf:"error_weight"`

	// Response cache. DisableCache's zero value keeps caching on.
	CacheSize       int  `koanf:"cache_size"`
	CacheTTLSeconds int  `koanf:"cache_ttl_seconds"`
	DisableCache    bool `koanf:"disable_cache"`

	// Multi-attempt search. SkipRefine's zero value keeps the optional
	// refinement pass on.
	K          int        `koanf:"k"`
	Mode       SearchMode `koanf:"mode"`
	SkipRefine bool       `koanf:"skip_refine"`

	// Storage
	DBPath string `koanf:"db_path"`

	// Embeddings. An empty provider runs the store without a vector index,
	// leaving similarity scoring on its neutral default.
	EmbedProvider  string `koanf:"embed_provider"` // "openai" or "ollama"
	EmbedAPIKey    string `koanf:"embed_api_key"`
	EmbedModel     string `koanf:"embed_model"`
	EmbedDimension int    `koanf:"embed_dimension"`
	EmbedBaseURL   string `koanf:"embed_base_url"` // API base URL or Ollama host

	// Providers: explicit instances win over anything constructed from the
	// fields above. Not loadable from file or env.
	Store     MemoryStore `koanf:"-"`
	Generator Generator   `koanf:"-"`
	Embedder  Embedder    `koanf:"-"`
	Logger    *zap.Logger `koanf:"-"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "google/gemini-2.5-pro"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 0.8
	} else if c.SuccessThreshold < 0 {
		c.SuccessThreshold = 0
	}
	if c.TemperatureGenerate == 0 {
		c.TemperatureGenerate = 0.7
	} else if c.TemperatureGenerate < 0 {
		c.TemperatureGenerate = 0
	}
	// TemperatureEvaluate stays 0.0: evaluation must be deterministic so it
	// is cacheable.
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 8000
	}
	if c.EvaluationTokens == 0 {
		c.EvaluationTokens = 3000
	}
	if c.TruncationThreshold == 0 {
		c.TruncationThreshold = 12000
	}
	if c.TruncationHeadRatio == 0 {
		c.TruncationHeadRatio = 0.6
	}
	if c.RetrievalK == 0 {
		c.RetrievalK = 5
	}
	if c.RecencyHalfLifeDays == 0 {
		c.RecencyHalfLifeDays = 30
	}
	if c.MinRelevanceScore == 0 {
		c.MinRelevanceScore = 0.3
	}
	if c.SimilarityWeight == 0 && c.RecencyWeight == 0 && c.ErrorWeight == 0 {
		w := DefaultScoringWeights()
		c.SimilarityWeight = w.Similarity
		c.RecencyWeight = w.Recency
		c.ErrorWeight = w.Error
	}
	if c.CacheSize == 0 {
		c.CacheSize = 100
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 3600
	}
	if c.K == 0 {
		c.K = 5
	}
	if c.Mode == "" {
		c.Mode = ModeParallel
	}
	if c.DBPath == "" {
		c.DBPath = "./data/reasonbank.db"
	}
	switch c.EmbedProvider {
	case "openai":
		if c.EmbedModel == "" {
			c.EmbedModel = "text-embedding-3-small"
		}
		if c.EmbedDimension == 0 {
			c.EmbedDimension = 1536
		}
	case "ollama":
		if c.EmbedModel == "" {
			c.EmbedModel = "nomic-embed-text"
		}
		if c.EmbedDimension == 0 {
			c.EmbedDimension = 768
		}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 1 {
		return fmt.Errorf("success_threshold must be in [0,1], got %g", c.SuccessThreshold)
	}
	if c.TruncationHeadRatio < 0 || c.TruncationHeadRatio > 1 {
		return fmt.Errorf("truncation_head_ratio must be in [0,1], got %g", c.TruncationHeadRatio)
	}
	if c.K < 1 {
		return fmt.Errorf("k must be >= 1, got %d", c.K)
	}
	switch c.EmbedProvider {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("embed_provider must be openai or ollama, got %q", c.EmbedProvider)
	}
	return nil
}

// BuildEmbedder constructs the configured embedding provider. An explicit
// Embedder instance wins; an empty provider returns nil and the store runs
// without similarity ranking.
func (c *Config) BuildEmbedder() (Embedder, error) {
	if c.Embedder != nil {
		return c.Embedder, nil
	}
	switch c.EmbedProvider {
	case "":
		return nil, nil
	case "openai":
		if c.EmbedAPIKey == "" {
			return nil, fmt.Errorf("embed_provider openai requires embed_api_key")
		}
		opts := []OpenAIOption{
			WithOpenAIModel(c.EmbedModel),
			WithOpenAIDimension(c.EmbedDimension),
		}
		if c.EmbedBaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(c.EmbedBaseURL))
		}
		return NewOpenAIEmbedder(c.EmbedAPIKey, opts...), nil
	case "ollama":
		var opts []OllamaOption
		if c.EmbedBaseURL != "" {
			opts = append(opts, WithOllamaHost(c.EmbedBaseURL))
		}
		return NewOllamaEmbedder(c.EmbedModel, c.EmbedDimension, opts...), nil
	default:
		return nil, fmt.Errorf("embed_provider must be openai or ollama, got %q", c.EmbedProvider)
	}
}

// Weights returns the configured scoring weights, normalized.
func (c *Config) Weights() ScoringWeights {
	return ScoringWeights{
		Similarity: c.SimilarityWeight,
		Recency:    c.RecencyWeight,
		Error:      c.ErrorWeight,
	}.Normalized()
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LoadConfig builds a Config from an optional YAML file overridden by
// REASONBANK_-prefixed environment variables.
//
// Precedence (highest first): environment, YAML file, defaults.
// Example: REASONBANK_MAX_ITERATIONS=5 maps to max_iterations.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("REASONBANK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "REASONBANK_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.EmbedProvider == "openai" && cfg.EmbedAPIKey == "" {
		cfg.EmbedAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
