package vectorstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the dimensionality of the title embeddings stored here.
const EmbeddingDim = 1536

// ListIndex stores one title embedding per completed list and answers
// similarity queries over them.
type ListIndex struct {
	pool      *pgxpool.Pool
	tableName string
}

// Match is a similar list found by Search.
type Match struct {
	ListID uuid.UUID `json:"list_id"`
	Title  string    `json:"title"`
	Score  float64   `json:"score"`
}

// isValidTableName validates that a table name contains only safe characters
// to prevent SQL injection attacks
func isValidTableName(name string) bool {
	// Only allow alphanumeric characters and underscores
	// Table names must start with a letter or underscore and be between 1-63 chars (PostgreSQL limit)
	matched, _ := regexp.MatchString(`^[a-z_][a-zA-Z0-9_]{0,62}$`, name)
	return matched
}

// NewListIndex creates the index, ensuring the pgvector extension, the
// backing table and its HNSW index exist.
func NewListIndex(ctx context.Context, pool *pgxpool.Pool, tableName string) (*ListIndex, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long")
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("failed to ensure vector extension: %w", err)
	}

	table := pgx.Identifier{tableName}.Sanitize()
	createQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			list_id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, table, EmbeddingDim)
	if _, err := pool.Exec(ctx, createQuery); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s USING hnsw (embedding vector_cosine_ops)
	`, tableName, table)
	if _, err := pool.Exec(ctx, indexQuery); err != nil {
		return nil, fmt.Errorf("failed to create index on %s: %w", tableName, err)
	}

	return &ListIndex{pool: pool, tableName: tableName}, nil
}

// Add upserts the title embedding for a completed list.
func (ix *ListIndex) Add(ctx context.Context, listID uuid.UUID, title string, embedding []float32) error {
	if len(embedding) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), EmbeddingDim)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (list_id, title, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id) DO UPDATE SET title = $2, embedding = $3
	`, pgx.Identifier{ix.tableName}.Sanitize())

	if _, err := ix.pool.Exec(ctx, query, listID, title, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("failed to index list: %w", err)
	}
	return nil
}

// Search returns up to topK lists whose titles are closest to the query
// embedding, ordered by descending cosine similarity.
func (ix *ListIndex) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Match, error) {
	query := fmt.Sprintf(`
		SELECT list_id, title, 1 - (embedding <=> $1) as similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgx.Identifier{ix.tableName}.Sanitize())

	rows, err := ix.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ListID, &m.Title, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return matches, nil
}

// Remove deletes the embedding for a list, if present.
func (ix *ListIndex) Remove(ctx context.Context, listID uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE list_id = $1", pgx.Identifier{ix.tableName}.Sanitize())
	if _, err := ix.pool.Exec(ctx, query, listID); err != nil {
		return fmt.Errorf("failed to remove list embedding: %w", err)
	}
	return nil
}
