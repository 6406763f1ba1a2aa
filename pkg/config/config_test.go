package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
providers:
  default: openai
  groq:
    model: "llama-3.1-70b-versatile"
  openai:
    api_key: "sk-test"
    model: "gpt-4"

embedder:
  base_url: "http://localhost:11434"
  model: "nomic-embed-text"

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_chunks"
  vector_dim: 768
  batch_size: 50

scraper:
  max_depth: 5
  rate_limit: 1.5
  ignore_patterns:
    - "/test/"
  allowed_extensions:
    - ".html"
    - "/"

processor:
  chunk_size: 500
  chunk_overlap: 100

memory:
  token_limit: 4000
  max_tokens: 1024
  recent_messages: 5

retrieval:
  top_k: 4
  min_similarity: 0.65

server:
  addr: ":9090"
  streaming: true
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "openai", config.Providers.Default)
	assert.Equal(t, "llama-3.1-70b-versatile", config.Providers.Groq.Model)
	assert.Equal(t, "sk-test", config.Providers.OpenAI.APIKey)
	assert.Equal(t, "gpt-4", config.Providers.OpenAI.Model)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, "test_chunks", config.Database.TableName)
	assert.Equal(t, 5, config.Scraper.MaxDepth)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 4000, config.Memory.TokenLimit)
	assert.Equal(t, 5, config.Memory.RecentMessages)
	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.InDelta(t, 0.65, config.Retrieval.MinSimilarity, 1e-9)
	assert.Equal(t, ":9090", config.Server.Addr)
	assert.True(t, config.Server.Streaming)
}

func TestLoadConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("{}\n"), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "groq", config.Providers.Default)
	assert.Equal(t, "llama-3.1-8b-instant", config.Providers.Groq.Model)
	assert.Equal(t, "https://api.groq.com/openai/v1", config.Providers.Groq.BaseURL)
	assert.Equal(t, "gpt-3.5-turbo", config.Providers.OpenAI.Model)
	assert.Equal(t, "deepseek-chat", config.Providers.Deepseek.Model)
	assert.Equal(t, "https://api.deepseek.com/v1", config.Providers.Deepseek.BaseURL)
	assert.Equal(t, "nomic-embed-text", config.Embedder.Model)
	assert.Equal(t, "chunks", config.Database.TableName)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.Equal(t, 8000, config.Memory.TokenLimit)
	assert.Equal(t, 2048, config.Memory.MaxTokens)
	assert.Equal(t, 3, config.Memory.RecentMessages)
	assert.InDelta(t, 0.7, config.Memory.SummarizeThreshold, 1e-9)
	assert.InDelta(t, 0.2, config.Memory.QuestionThreshold, 1e-9)
	assert.Equal(t, 3, config.Retrieval.TopK)
	assert.InDelta(t, 0.70, config.Retrieval.MinSimilarity, 1e-9)
	assert.Equal(t, ":8080", config.Server.Addr)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			mutate:       func(c *Config) {},
			expectedErrs: 0,
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.Providers.Default = "claude"
				c.Embedder.BaseURL = ""
				c.Database.VectorDim = -1
				c.Memory.MaxTokens = c.Memory.TokenLimit + 1
				c.Retrieval.MinSimilarity = 1.5
			},
			expectedErrs: 5,
			errorMessages: []string{
				`providers.default: unknown provider "claude"`,
				"embedder.base_url: embedder base URL is required",
				"database.vector_dim: vector_dim must be positive",
				"memory.max_tokens: max_tokens must be positive and within token_limit",
				"retrieval.min_similarity: min_similarity must be between 0 and 1",
			},
		},
		{
			name: "chunk overlap larger than chunk size",
			mutate: func(c *Config) {
				c.Processor.ChunkSize = 100
				c.Processor.ChunkOverlap = 100
			},
			expectedErrs: 1,
			errorMessages: []string{
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			applyDefaults(config)
			tt.mutate(config)

			errors := config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("GROQ_API_KEY", "gsk-env")
	t.Setenv("PORT", "3000")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "gsk-env", config.Providers.Groq.APIKey)
	assert.Equal(t, ":3000", config.Server.Addr)
}
