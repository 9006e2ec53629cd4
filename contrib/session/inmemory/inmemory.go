// Package inmemory provides a process-local session store.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/session"
)

// Store keeps session records in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]*session.Record
}

// New creates an empty in-memory session store
func New() *Store {
	return &Store{
		records: make(map[string]*session.Record),
	}
}

// Save persists a record, overwriting any existing one with the same ID
func (s *Store) Save(ctx context.Context, record *session.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record must have an ID: %w", errors.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	return nil
}

// Load returns the record with the given ID
func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	return record.Clone(), nil
}

// Delete removes a record
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}
