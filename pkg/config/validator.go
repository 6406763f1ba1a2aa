package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var knownProviders = map[string]bool{
	"groq":     true,
	"openai":   true,
	"gemini":   true,
	"deepseek": true,
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if !knownProviders[c.Providers.Default] {
		errors = append(errors, ValidationError{
			Field:   "providers.default",
			Message: fmt.Sprintf("unknown provider %q", c.Providers.Default),
		})
	}

	if c.Embedder.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "embedder base URL is required",
		})
	} else if _, err := url.Parse(c.Embedder.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid embedder base URL",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Scraper.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must be positive",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			errors = append(errors, ValidationError{
				Field:   "scraper.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Memory.TokenLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "memory.token_limit",
			Message: "token_limit must be positive",
		})
	}

	if c.Memory.MaxTokens < 1 || c.Memory.MaxTokens > c.Memory.TokenLimit {
		errors = append(errors, ValidationError{
			Field:   "memory.max_tokens",
			Message: "max_tokens must be positive and within token_limit",
		})
	}

	if c.Memory.SummarizeThreshold <= 0 || c.Memory.SummarizeThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "memory.summarize_threshold",
			Message: "summarize_threshold must be in (0, 1]",
		})
	}

	if c.Memory.QuestionThreshold <= 0 || c.Memory.QuestionThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "memory.question_threshold",
			Message: "question_threshold must be in (0, 1]",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.min_similarity",
			Message: "min_similarity must be between 0 and 1",
		})
	}

	return errors
}
