package types

import (
	"context"

	"github.com/avass/docq/internal/models"
)

// VectorStore is the persistence surface the orchestrator and server depend on.
type VectorStore interface {
	Store(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error)
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)
	DeleteDocument(ctx context.Context, docID string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close()
}

// Embedder turns text into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChatModel answers a prepared prompt with the selected provider.
type ChatModel interface {
	Generate(ctx context.Context, messages []models.ChatMessage) (string, error)
	GenerateStream(ctx context.Context, messages []models.ChatMessage, onChunk func(string)) (string, error)
}

// Processor splits documents into storable chunks.
type Processor interface {
	Process(docs []models.Document) ([]models.Chunk, error)
}
