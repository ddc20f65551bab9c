package reasonbank

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "google/gemini-2.5-pro", cfg.Model)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 0.8, cfg.SuccessThreshold)
	assert.Equal(t, 0.7, cfg.TemperatureGenerate)
	assert.Equal(t, 0.0, cfg.TemperatureEvaluate, "evaluation must stay deterministic")
	assert.Equal(t, 5, cfg.RetrievalK)
	assert.Equal(t, 100, cfg.CacheSize)
	assert.Equal(t, 3600, cfg.CacheTTLSeconds)
	assert.Equal(t, 5, cfg.K)
	assert.Equal(t, ModeParallel, cfg.Mode)
	assert.Equal(t, "./data/reasonbank.db", cfg.DBPath)
	assert.False(t, cfg.DisableCache)
	assert.False(t, cfg.SkipRefine)
	assert.NotNil(t, cfg.Logger)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Model: "custom/model", MaxIterations: 7, K: 2}
	cfg.ApplyDefaults()

	assert.Equal(t, "custom/model", cfg.Model)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, 2, cfg.K)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative iterations", func(c *Config) { c.MaxIterations = -1 }},
		{"threshold above one", func(c *Config) { c.SuccessThreshold = 1.5 }},
		{"threshold below zero", func(c *Config) { c.SuccessThreshold = -0.1 }},
		{"head ratio above one", func(c *Config) { c.TruncationHeadRatio = 1.5 }},
		{"negative k", func(c *Config) { c.K = -3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWeightsNormalized(t *testing.T) {
	cfg := &Config{SimilarityWeight: 2, RecencyWeight: 1, ErrorWeight: 1}
	w := cfg.Weights()

	assert.InDelta(t, 0.5, w.Similarity, 1e-9)
	assert.InDelta(t, 0.25, w.Recency, 1e-9)
	assert.InDelta(t, 0.25, w.Error, 1e-9)
}

func TestCacheTTL(t *testing.T) {
	cfg := &Config{CacheTTLSeconds: 90}
	assert.Equal(t, 90*time.Second, cfg.CacheTTL())
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: openai/gpt-5
max_iterations: 4
success_threshold: 0.9
cache_size: 50
mode: sequential
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-5", cfg.Model)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 0.9, cfg.SuccessThreshold)
	assert.Equal(t, 50, cfg.CacheSize)
	assert.Equal(t, ModeSequential, cfg.Mode)
	// Defaults still fill what the file leaves out.
	assert.Equal(t, 5, cfg.RetrievalK)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 4\n"), 0644))

	t.Setenv("REASONBANK_MAX_ITERATIONS", "7")
	t.Setenv("REASONBANK_MODEL", "anthropic/claude-sonnet-4.5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", cfg.Model)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxIterations)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigAPIKeyFallback(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-fallback")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-fallback", cfg.APIKey)

	t.Setenv("REASONBANK_API_KEY", "sk-or-explicit")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-explicit", cfg.APIKey)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("success_threshold: 2.5\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestBuildEmbedder(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		cfg := &Config{}
		cfg.ApplyDefaults()
		e, err := cfg.BuildEmbedder()
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("openai", func(t *testing.T) {
		cfg := &Config{EmbedProvider: "openai", EmbedAPIKey: "sk-embed"}
		cfg.ApplyDefaults()
		e, err := cfg.BuildEmbedder()
		require.NoError(t, err)
		oai, ok := e.(*OpenAIEmbedder)
		require.True(t, ok, "expected *OpenAIEmbedder, got %T", e)
		assert.Equal(t, "text-embedding-3-small", oai.model)
		assert.Equal(t, 1536, oai.Dimension())
	})

	t.Run("openai requires key", func(t *testing.T) {
		cfg := &Config{EmbedProvider: "openai"}
		cfg.ApplyDefaults()
		_, err := cfg.BuildEmbedder()
		assert.Error(t, err)
	})

	t.Run("ollama", func(t *testing.T) {
		cfg := &Config{EmbedProvider: "ollama", EmbedBaseURL: "http://embed-host:11434"}
		cfg.ApplyDefaults()
		e, err := cfg.BuildEmbedder()
		require.NoError(t, err)
		oll, ok := e.(*OllamaEmbedder)
		require.True(t, ok, "expected *OllamaEmbedder, got %T", e)
		assert.Equal(t, "nomic-embed-text", oll.model)
		assert.Equal(t, 768, oll.Dimension())
		assert.Equal(t, "http://embed-host:11434", oll.host)
	})

	t.Run("explicit instance wins", func(t *testing.T) {
		custom := NewOllamaEmbedder("all-minilm", 384)
		cfg := &Config{EmbedProvider: "openai", EmbedAPIKey: "sk", Embedder: custom}
		cfg.ApplyDefaults()
		e, err := cfg.BuildEmbedder()
		require.NoError(t, err)
		assert.Same(t, custom, e)
	})
}

func TestValidateRejectsUnknownEmbedProvider(t *testing.T) {
	cfg := &Config{EmbedProvider: "cohere"}
	cfg.ApplyDefaults()
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigEmbedSettings(t *testing.T) {
	t.Setenv("REASONBANK_EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-openai-env")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.EmbedProvider)
	assert.Equal(t, "sk-openai-env", cfg.EmbedAPIKey)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbedModel)
	assert.Equal(t, 1536, cfg.EmbedDimension)

	t.Setenv("REASONBANK_EMBED_API_KEY", "sk-explicit")
	t.Setenv("REASONBANK_EMBED_MODEL", "text-embedding-3-large")
	t.Setenv("REASONBANK_EMBED_DIMENSION", "256")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.EmbedAPIKey)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbedModel)
	assert.Equal(t, 256, cfg.EmbedDimension)
}

func TestApplyDefaultsNegativeMeansExplicitZero(t *testing.T) {
	cfg := &Config{SuccessThreshold: -1, TemperatureGenerate: -1}
	cfg.ApplyDefaults()

	assert.Equal(t, 0.0, cfg.SuccessThreshold)
	assert.Equal(t, 0.0, cfg.TemperatureGenerate)
	require.NoError(t, cfg.Validate())
}
