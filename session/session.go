// Package session tracks multi-turn reading conversations. A Record is the
// durable unit: the turn history for one reader session, keyed by session ID.
package session

import (
	"context"
	"time"
)

// Turn is a single utterance in a conversation
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the persisted conversation history for one session
type Record struct {
	ID        string         `json:"id"`
	BookID    string         `json:"book_id,omitempty"`
	Turns     []Turn         `json:"turns"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewRecord creates an empty conversation record
func NewRecord(id, bookID string) *Record {
	now := time.Now()
	return &Record{
		ID:        id,
		BookID:    bookID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn to the history
func (r *Record) Append(role, content string) {
	r.Turns = append(r.Turns, Turn{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	r.UpdatedAt = time.Now()
}

// Recent returns the last n turns in order
func (r *Record) Recent(n int) []Turn {
	if n <= 0 || len(r.Turns) == 0 {
		return nil
	}
	if n > len(r.Turns) {
		n = len(r.Turns)
	}
	out := make([]Turn, n)
	copy(out, r.Turns[len(r.Turns)-n:])
	return out
}

// LastExchange returns the most recent user question and assistant answer.
// Either may be empty when the history does not contain one yet.
func (r *Record) LastExchange() (question, answer string) {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		turn := r.Turns[i]
		if turn.Role == "assistant" && answer == "" {
			answer = turn.Content
		}
		if turn.Role == "user" && question == "" {
			question = turn.Content
		}
		if question != "" && answer != "" {
			break
		}
	}
	return question, answer
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	out := *r
	out.Turns = make([]Turn, len(r.Turns))
	copy(out.Turns, r.Turns)
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Store persists conversation records
type Store interface {
	// Save persists a record, overwriting any existing one with the same ID
	Save(ctx context.Context, record *Record) error

	// Load returns the record with the given ID
	Load(ctx context.Context, id string) (*Record, error)

	// Delete removes a record
	Delete(ctx context.Context, id string) error
}
