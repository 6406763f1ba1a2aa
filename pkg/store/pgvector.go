package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/avass/docq/internal/models"
	"github.com/avass/docq/pkg/logging"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Logger     logging.Logger
}

// VectorStore persists chunk embeddings in Postgres with pgvector and serves
// nearest-neighbor search over them.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	logger logging.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		logger: config.Logger,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			name TEXT NOT NULL,
			content TEXT,
			chunk_index INTEGER,
			embedding vector(%d),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createDocIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_document_id_idx
		ON %s (document_id)`,
		vs.config.TableName, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createDocIndex); err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}

	return nil
}

// Store upserts chunks in one transaction. Every chunk must already carry its
// embedding.
func (vs *VectorStore) Store(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", chunk.ID)
		}
		if len(chunk.Embedding) != vs.config.VectorDim {
			return fmt.Errorf("chunk %s embedding has dimension %d, want %d",
				chunk.ID, len(chunk.Embedding), vs.config.VectorDim)
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, name, content, chunk_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := &pgx.Batch{}
		for _, chunk := range chunks[start:end] {
			batch.Queue(stmt,
				chunk.ID,
				chunk.DocumentID,
				chunk.Name,
				chunk.Content,
				chunk.Index,
				pgvector.NewVector(chunk.Embedding),
				chunk.Metadata,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Debug("stored chunks", "count", len(chunks))

	return nil
}

// Search returns the limit nearest chunks by cosine distance.
func (vs *VectorStore) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, name, content, chunk_index, metadata,
		       embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var result models.SearchResult
		err := rows.Scan(
			&result.Chunk.ID,
			&result.Chunk.DocumentID,
			&result.Chunk.Name,
			&result.Chunk.Content,
			&result.Chunk.Index,
			&result.Chunk.Metadata,
			&result.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// ListDocuments groups stored chunks back into their source documents.
func (vs *VectorStore) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	query := fmt.Sprintf(`
		SELECT document_id,
		       max(name),
		       count(*),
		       coalesce(max((metadata->>'size')::bigint), 0),
		       min(created_at)
		FROM %s
		GROUP BY document_id
		ORDER BY min(created_at)`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentInfo
	for rows.Next() {
		var doc models.DocumentInfo
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.ChunkCount, &doc.Size, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// DeleteDocument removes every chunk of one document.
func (vs *VectorStore) DeleteDocument(ctx context.Context, docID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.config.TableName)

	tag, err := vs.pool.Exec(ctx, query, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	vs.logger.Debug("deleted document", "id", docID, "chunks", tag.RowsAffected())

	return nil
}

// Clear removes every stored chunk.
func (vs *VectorStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s", vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}

	return nil
}

// Count returns the number of stored chunks.
func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s", vs.config.TableName)

	var count int
	if err := vs.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	return count, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
