// Package inmemory provides a process-local vector store, used for tests
// and for single-node deployments that index one book at startup.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/vector"
)

// Store keeps embeddings in memory and searches by brute-force cosine scan.
type Store struct {
	mu         sync.RWMutex
	embeddings map[string]*vector.Embedding
}

// New creates an empty in-memory vector store
func New() *Store {
	return &Store{
		embeddings: make(map[string]*vector.Embedding),
	}
}

// AddEmbedding adds a new embedding to the store
func (s *Store) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return fmt.Errorf("embedding cannot be nil: %w", errors.ErrInvalidInput)
	}
	if embedding.ID == "" {
		return fmt.Errorf("embedding ID cannot be empty: %w", errors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[embedding.ID] = embedding
	return nil
}

// Search finds the topK embeddings most similar to the query vector
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]*vector.Match, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty: %w", errors.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	matches := make([]*vector.Match, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		matches = append(matches, &vector.Match{
			Embedding: emb,
			Score:     vector.CosineSimilarity(queryVector, emb.Vector),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteEmbedding removes an embedding by ID
func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.embeddings[id]; !exists {
		return fmt.Errorf("embedding %s: %w", id, errors.ErrNotFound)
	}
	delete(s.embeddings, id)
	return nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *Store) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, exists := s.embeddings[id]
	if !exists {
		return nil, fmt.Errorf("embedding %s: %w", id, errors.ErrNotFound)
	}
	return emb, nil
}

// Clear removes all embeddings
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings = make(map[string]*vector.Embedding)
	return nil
}

// Count returns the number of embeddings
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}
