// Package rag sequences the retrieval pipeline: embed the question, search
// the vector store, gate on similarity, assemble a budgeted prompt, and call
// the selected provider.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/avass/docq/internal/models"
	"github.com/avass/docq/internal/types"
	"github.com/avass/docq/pkg/llm"
	"github.com/avass/docq/pkg/logging"
	"github.com/avass/docq/pkg/memory"
)

// NoInfoAnswer is returned verbatim when retrieval finds nothing relevant.
const NoInfoAnswer = "I don't have enough information to answer this question."

// SystemPrompt locks the assistant to the retrieved context.
const SystemPrompt = `You are a retrieval-only assistant.

Rules:
1. You may ONLY answer using the text inside the context block.
2. If the answer is not fully contained in the context you MUST respond:
"I don't have enough information to answer this question."
3. Ignore world knowledge, user statements, memory, assumptions, and logical inferences.
4. Never expand, rephrase, guess, or infer anything not explicitly present in the context.
5. The question is never part of the context.
6. Detect the question's language and answer in it.

Respond in a professional, clear, and structured manner. Use bullet points or
numbered lists when they aid clarity. Do not invent information.`

type Config struct {
	TopK          int
	MinSimilarity float64
	EmbedBatch    int
	MaxTokens     int

	// DefaultProvider is used when a request names none.
	DefaultProvider llm.Provider
	// Providers holds per-provider fallbacks for key, model and base URL.
	// Keys arriving with a request take precedence.
	Providers map[llm.Provider]llm.ChatConfig
}

// ChatFactory builds a chat engine for one request. Engines are constructed
// per request because the API key arrives with the request.
type ChatFactory func(ctx context.Context, config llm.ChatConfig) (types.ChatModel, error)

func defaultChatFactory(ctx context.Context, config llm.ChatConfig) (types.ChatModel, error) {
	return llm.NewWithConfig(ctx, config)
}

// System wires the store, embedder, processor and memory together.
type System struct {
	config    Config
	store     types.VectorStore
	embedder  types.Embedder
	processor types.Processor
	memory    *memory.Manager
	newChat   ChatFactory
	logger    logging.Logger
}

func New(config Config, store types.VectorStore, embedder types.Embedder,
	processor types.Processor, mem *memory.Manager, logger logging.Logger) *System {

	if config.TopK == 0 {
		config.TopK = 3
	}
	if config.MinSimilarity == 0 {
		config.MinSimilarity = 0.70
	}
	if config.EmbedBatch == 0 {
		config.EmbedBatch = 32
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &System{
		config:    config,
		store:     store,
		embedder:  embedder,
		processor: processor,
		memory:    mem,
		newChat:   defaultChatFactory,
		logger:    logger,
	}
}

// WithChatFactory overrides chat engine construction. Tests use this.
func (s *System) WithChatFactory(f ChatFactory) *System {
	s.newChat = f
	return s
}

// AskRequest is one question with its provider selection and key.
type AskRequest struct {
	Query    string
	Provider llm.Provider
	APIKey   string
	Model    string
	// OnChunk, when set, receives response fragments as they stream in.
	OnChunk func(string)
}

// Answer is the assistant's reply with its source attributions.
type Answer struct {
	Text    string
	Sources []string
	// Gated is true when the similarity gate refused without calling an LLM.
	Gated bool
}

// Ask runs the full pipeline for one question.
func (s *System) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.store.Search(ctx, queryEmbedding, s.config.TopK)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to search documents: %w", err)
	}

	best := bestSimilarity(results)
	if len(results) == 0 || best < float32(s.config.MinSimilarity) {
		s.logger.Debug("similarity gate refused", "results", len(results), "best", best)
		return Answer{Text: NoInfoAnswer, Gated: true}, nil
	}

	contextBlock, sources := formatContext(results)

	messages, err := s.memory.PrepareContext(req.Query, SystemPrompt, contextBlock)
	if err != nil {
		return Answer{}, err
	}

	engine, err := s.newChat(ctx, s.resolveChat(req))
	if err != nil {
		return Answer{}, err
	}

	var text string
	if req.OnChunk != nil {
		text, err = engine.GenerateStream(ctx, messages, req.OnChunk)
	} else {
		text, err = engine.Generate(ctx, messages)
	}
	if err != nil {
		return Answer{}, err
	}

	s.memory.AddExchange(req.Query, text)

	return Answer{Text: text, Sources: sources}, nil
}

// Ingest chunks, embeds and stores documents, returning the chunk count.
func (s *System) Ingest(ctx context.Context, docs []models.Document) (int, error) {
	chunks, err := s.processor.Process(docs)
	if err != nil {
		return 0, fmt.Errorf("failed to process documents: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	for start := 0; start < len(chunks); start += s.config.EmbedBatch {
		end := start + s.config.EmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Content)
		}

		embeddings, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}

		for i := range embeddings {
			chunks[start+i].Embedding = embeddings[i]
		}
	}

	if err := s.store.Store(ctx, chunks); err != nil {
		return 0, err
	}

	s.logger.Info("ingested documents", "documents", len(docs), "chunks", len(chunks))

	return len(chunks), nil
}

// ListDocuments returns the stored documents with their chunk counts.
func (s *System) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	return s.store.ListDocuments(ctx)
}

// DeleteDocument removes one document's chunks from the store.
func (s *System) DeleteDocument(ctx context.Context, docID string) error {
	return s.store.DeleteDocument(ctx, docID)
}

// ClearDocuments removes every stored chunk.
func (s *System) ClearDocuments(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// ChunkCount returns the number of stored chunks.
func (s *System) ChunkCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// ClearHistory drops the conversation transcript.
func (s *System) ClearHistory() {
	s.memory.Clear()
}

// Transcript renders the conversation for export.
func (s *System) Transcript() string {
	return s.memory.FormatTranscript()
}

// History returns a copy of the transcript turns.
func (s *System) History() []models.ChatMessage {
	return s.memory.History()
}

// resolveChat merges request fields over the configured provider fallbacks.
func (s *System) resolveChat(req AskRequest) llm.ChatConfig {
	provider := req.Provider
	if provider == "" {
		provider = s.config.DefaultProvider
	}

	base := s.config.Providers[provider]
	chatConfig := llm.ChatConfig{
		Provider:  provider,
		APIKey:    req.APIKey,
		Model:     req.Model,
		BaseURL:   base.BaseURL,
		MaxTokens: s.config.MaxTokens,
	}
	if chatConfig.APIKey == "" {
		chatConfig.APIKey = base.APIKey
	}
	if chatConfig.Model == "" {
		chatConfig.Model = base.Model
	}
	return chatConfig
}

func bestSimilarity(results []models.SearchResult) float32 {
	best := float32(-1)
	for _, r := range results {
		if sim := r.Similarity(); sim > best {
			best = sim
		}
	}
	return best
}

// formatContext renders retrieved chunks into the context block and collects
// the distinct source names for attribution.
func formatContext(results []models.SearchResult) (string, []string) {
	var b strings.Builder
	var sources []string
	seen := make(map[string]bool)

	for _, r := range results {
		fmt.Fprintf(&b, "Source: %s\n%s\n\n", r.Chunk.Name, r.Chunk.Content)
		if !seen[r.Chunk.Name] {
			sources = append(sources, r.Chunk.Name)
			seen[r.Chunk.Name] = true
		}
	}

	return strings.TrimSpace(b.String()), sources
}
