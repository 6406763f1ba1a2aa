package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/avass/docq/internal/models"
)

// Provider identifies a hosted LLM API.
type Provider string

const (
	ProviderGroq     Provider = "groq"
	ProviderOpenAI   Provider = "openai"
	ProviderGemini   Provider = "gemini"
	ProviderDeepseek Provider = "deepseek"
)

var (
	// ErrNoAPIKey is returned when the selected provider has no key. There is
	// no fallback between providers.
	ErrNoAPIKey        = errors.New("API key not configured")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyResponse   = errors.New("no response from LLM")
)

const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	deepseekBaseURL = "https://api.deepseek.com/v1"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    Provider
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// ChatEngine generates answers with one configured provider. Groq and
// Deepseek expose OpenAI-compatible endpoints, so all providers except Gemini
// share the openai client with a base URL override.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(ctx context.Context, config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = ProviderGroq
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", config.Provider, ErrNoAPIKey)
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}

	applyProviderDefaults(&config)

	var (
		model llms.Model
		err   error
	)

	switch config.Provider {
	case ProviderGroq, ProviderDeepseek:
		model, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
			openai.WithBaseURL(config.BaseURL),
		)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultModel(config.Model),
		)
	default:
		return nil, fmt.Errorf("%q: %w", config.Provider, ErrUnknownProvider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s client: %w", config.Provider, err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

func applyProviderDefaults(config *ChatConfig) {
	switch config.Provider {
	case ProviderGroq:
		if config.Model == "" {
			config.Model = "llama-3.1-8b-instant"
		}
		if config.BaseURL == "" {
			config.BaseURL = groqBaseURL
		}
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "gpt-3.5-turbo"
		}
	case ProviderGemini:
		if config.Model == "" {
			config.Model = "gemini-1.5-pro"
		}
	case ProviderDeepseek:
		if config.Model == "" {
			config.Model = "deepseek-chat"
		}
		if config.BaseURL == "" {
			config.BaseURL = deepseekBaseURL
		}
	}
}

// Generate answers the prepared prompt and returns the full response text.
func (ce *ChatEngine) Generate(ctx context.Context, messages []models.ChatMessage) (string, error) {
	content := toMessageContent(messages)

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	if response == nil || len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return response.Choices[0].Content, nil
}

// GenerateStream answers the prepared prompt, invoking onChunk for every
// piece of the response as it arrives, and returns the assembled text.
func (ce *ChatEngine) GenerateStream(ctx context.Context, messages []models.ChatMessage, onChunk func(string)) (string, error) {
	content := toMessageContent(messages)

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if onChunk != nil && len(chunk) > 0 {
				onChunk(string(chunk))
			}
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	if response == nil || len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return response.Choices[0].Content, nil
}

func toMessageContent(messages []models.ChatMessage) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		var role llms.ChatMessageType
		switch msg.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}
	return content
}
