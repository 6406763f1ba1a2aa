package models

import "time"

// Document is a single ingested source: an uploaded file or a crawled page.
type Document struct {
	ID       string
	Name     string
	Source   string // file path or URL
	Content  string
	Size     int64
	Metadata map[string]interface{}
}

// Chunk is one embeddable piece of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Name       string
	Content    string
	Index      int
	Embedding  []float32
	Metadata   map[string]interface{}
}

// SearchResult pairs a chunk with its cosine distance to the query.
type SearchResult struct {
	Chunk    Chunk
	Distance float32
}

// Similarity converts cosine distance to a similarity score in [0, 1].
func (r SearchResult) Similarity() float32 {
	return 1 - r.Distance
}

// DocumentInfo summarizes one stored document for listings.
type DocumentInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of the in-process transcript.
type ChatMessage struct {
	Role    Role
	Content string
}
