package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds settings for one hosted LLM provider. The API key here
// is a fallback; keys supplied by the user at request time take precedence.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type ProvidersConfig struct {
	Default  string         `yaml:"default"`
	Groq     ProviderConfig `yaml:"groq"`
	OpenAI   ProviderConfig `yaml:"openai"`
	Gemini   ProviderConfig `yaml:"gemini"`
	Deepseek ProviderConfig `yaml:"deepseek"`
}

type EmbedderConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MinChunkLen  int `yaml:"min_chunk_length"`
}

type MemoryConfig struct {
	TokenLimit         int     `yaml:"token_limit"`
	MaxTokens          int     `yaml:"max_tokens"`
	RecentMessages     int     `yaml:"recent_messages"`
	SummarizeThreshold float64 `yaml:"summarize_threshold"`
	QuestionThreshold  float64 `yaml:"question_threshold"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	Streaming bool   `yaml:"streaming"`
}

type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Database  DatabaseConfig  `yaml:"database"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Processor ProcessorConfig `yaml:"processor"`
	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docq/config.yaml"),
			"/etc/docq/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Providers.Default == "" {
		config.Providers.Default = "groq"
	}
	if config.Providers.Groq.Model == "" {
		config.Providers.Groq.Model = "llama-3.1-8b-instant"
	}
	if config.Providers.Groq.BaseURL == "" {
		config.Providers.Groq.BaseURL = "https://api.groq.com/openai/v1"
	}
	if config.Providers.OpenAI.Model == "" {
		config.Providers.OpenAI.Model = "gpt-3.5-turbo"
	}
	if config.Providers.Gemini.Model == "" {
		config.Providers.Gemini.Model = "gemini-1.5-pro"
	}
	if config.Providers.Deepseek.Model == "" {
		config.Providers.Deepseek.Model = "deepseek-chat"
	}
	if config.Providers.Deepseek.BaseURL == "" {
		config.Providers.Deepseek.BaseURL = "https://api.deepseek.com/v1"
	}

	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}
	if config.Processor.MinChunkLen == 0 {
		config.Processor.MinChunkLen = 100
	}

	if config.Memory.TokenLimit == 0 {
		config.Memory.TokenLimit = 8000
	}
	if config.Memory.MaxTokens == 0 {
		config.Memory.MaxTokens = 2048
	}
	if config.Memory.RecentMessages == 0 {
		config.Memory.RecentMessages = 3
	}
	if config.Memory.SummarizeThreshold == 0 {
		config.Memory.SummarizeThreshold = 0.7
	}
	if config.Memory.QuestionThreshold == 0 {
		config.Memory.QuestionThreshold = 0.2
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}
	if config.Retrieval.MinSimilarity == 0 {
		config.Retrieval.MinSimilarity = 0.70
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		config.Providers.Groq.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Providers.Gemini.APIKey = key
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		config.Providers.Deepseek.APIKey = key
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
