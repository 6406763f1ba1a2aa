package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/avass/docq/internal/models"
)

type ProcessorConfig struct {
	ChunkSize          int
	ChunkOverlap       int
	MinChunkLength     int
	RemoveStopwords    bool
	CustomStopwords    []string
	PreserveLineBreaks bool
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 100
	}

	return Processor{
		config: config,
	}
}

// Process cleans each document and splits it into chunks ready for embedding.
// Chunk ids are derived from the document id so that every chunk of a
// document can be located and deleted together.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for _, doc := range docs {
		cleanContent := p.cleanText(sanitizeUTF8(doc.Content))

		pieces := p.splitIntoChunks(cleanContent)

		for i, piece := range pieces {
			metadata := map[string]interface{}{
				"name":   doc.Name,
				"source": doc.Source,
				"size":   doc.Size,
			}
			for k, v := range doc.Metadata {
				metadata[k] = v
			}

			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s_%d", doc.ID, i),
				DocumentID: doc.ID,
				Name:       doc.Name,
				Content:    piece,
				Index:      i,
				Metadata:   metadata,
			})
		}
	}

	return chunks, nil
}

func (p *Processor) cleanText(text string) string {
	if p.config.PreserveLineBreaks {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		text = strings.Join(lines, "\n")
	} else {
		text = strings.Join(strings.Fields(text), " ")
	}

	if p.config.RemoveStopwords {
		text = p.removeStopwords(text)
	}

	return strings.TrimSpace(text)
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string

	// Split by sentences first
	sentences := p.splitIntoSentences(text)

	currentChunk := strings.Builder{}

	for _, sentence := range sentences {
		// If adding this sentence would exceed chunk size
		if currentChunk.Len()+len(sentence) > p.config.ChunkSize {
			// Save current chunk if it meets minimum length
			if currentChunk.Len() >= p.config.MinChunkLength {
				chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
			}

			// Start new chunk with overlap. The byte slice can land inside a
			// multi-byte rune, so strip any half rune at the cut.
			if p.config.ChunkOverlap > 0 && currentChunk.Len() > p.config.ChunkOverlap {
				text := currentChunk.String()
				lastPart := strings.ToValidUTF8(text[len(text)-p.config.ChunkOverlap:], "")
				currentChunk.Reset()
				currentChunk.WriteString(lastPart)
			} else {
				currentChunk.Reset()
			}
		}

		currentChunk.WriteString(sentence)
		currentChunk.WriteString(" ")
	}

	// Add the last chunk if it meets minimum length
	if currentChunk.Len() >= p.config.MinChunkLength {
		chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
	}

	return chunks
}

func (p *Processor) splitIntoSentences(text string) []string {
	sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
	var sentences []string

	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		for _, ender := range sentenceEnders {
			if strings.HasSuffix(current.String(), ender) {
				sentences = append(sentences, strings.TrimSpace(current.String()))
				current.Reset()
				break
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}

	return sentences
}

func (p *Processor) removeStopwords(text string) string {
	words := strings.Fields(text)
	var filtered []string

	stopwords := getStopwords()
	if len(p.config.CustomStopwords) > 0 {
		stopwords = append(stopwords, p.config.CustomStopwords...)
	}

	for _, word := range words {
		if !contains(stopwords, strings.ToLower(word)) {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
	}
}

// sanitizeUTF8 strips invalid byte sequences so text is safe for Postgres.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
