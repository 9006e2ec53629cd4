// Package pg provides a vector store backed by PostgreSQL with the
// pgvector extension. Chunk metadata is stored as JSONB alongside the
// embedding so hits come back with everything retrieval filtering needs.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/vector"
)

// Store implements vector.VectorStore on PostgreSQL/pgvector
type Store struct {
	db        *sql.DB
	dimension int
	tableName string
}

// Config holds pgvector connection settings
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int    // Embedding dimension (default: 1536)
	TableName string // Table name (default: book_chunks)
}

// DefaultConfig returns default pgvector configuration
func DefaultConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		Password:  "postgres",
		DBName:    "bookrag",
		SSLMode:   "disable",
		Dimension: 1536,
		TableName: "book_chunks",
	}
}

// New creates a pgvector-backed store and ensures the schema exists
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &Store{
		db:        db,
		dimension: config.Dimension,
		tableName: config.TableName,
	}
	if err := store.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to setup pgvector: %w", err)
	}
	return store, nil
}

func (s *Store) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		text TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// AddEmbedding adds a new embedding to the store
func (s *Store) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return fmt.Errorf("embedding cannot be nil: %w", errors.ErrInvalidInput)
	}
	if embedding.ID == "" {
		return fmt.Errorf("embedding ID cannot be empty: %w", errors.ErrInvalidInput)
	}
	if len(embedding.Vector) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding.Vector))
	}

	metadata := embedding.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, text, metadata, embedding)
	VALUES ($1, $2, $3, $4::vector)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, embedding.ID, embedding.Text, metadataJSON, s.vectorToString(embedding.Vector)); err != nil {
		return fmt.Errorf("failed to add embedding: %w", err)
	}
	return nil
}

// Search finds the topK embeddings most similar to the query vector.
// Scores use cosine similarity computed from the pgvector cosine distance.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]*vector.Match, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty: %w", errors.ErrInvalidInput)
	}
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(queryVector))
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
	SELECT id, text, metadata, 1 - (embedding <=> $1::vector) AS similarity
	FROM %s
	ORDER BY embedding <=> $1::vector
	LIMIT $2
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, s.vectorToString(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	matches := make([]*vector.Match, 0, topK)
	for rows.Next() {
		var id, text string
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&id, &text, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		var metadata map[string]any
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for embedding %s: %w", id, err)
		}

		matches = append(matches, &vector.Match{
			Embedding: &vector.Embedding{ID: id, Text: text, Metadata: metadata},
			Score:     float32(similarity),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return matches, nil
}

// DeleteEmbedding removes an embedding by ID
func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("embedding %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *Store) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	query := fmt.Sprintf(`
	SELECT id, text, metadata, embedding
	FROM %s
	WHERE id = $1
	`, s.tableName)

	var embID, text, vectorStr string
	var metadataJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&embID, &text, &metadataJSON, &vectorStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("embedding %s: %w", id, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	vec, err := s.stringToVector(vectorStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vector: %w", err)
	}

	var metadata map[string]any
	if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &vector.Embedding{
		ID:       embID,
		Text:     text,
		Metadata: metadata,
		Vector:   vec,
	}, nil
}

// Clear removes all embeddings
func (s *Store) Clear(ctx context.Context) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

// Count returns the number of embeddings
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (s *Store) stringToVector(str string) ([]float32, error) {
	str = strings.TrimPrefix(str, "[")
	str = strings.TrimSuffix(str, "]")
	parts := strings.Split(str, ",")

	vec := make([]float32, 0, len(parts))
	for i, part := range parts {
		var v float32
		n, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &v)
		if err != nil || n != 1 {
			return nil, fmt.Errorf("failed to parse vector component at index %d: %q", i, part)
		}
		vec = append(vec, v)
	}
	return vec, nil
}
