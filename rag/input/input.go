// Package input defines the inbound question request and its normalized form.
package input

import (
	"strings"
	"time"

	"github.com/sweetpotato0/bookrag/errors"
	"github.com/sweetpotato0/bookrag/session"
)

// BookMetadata identifies the book the reader is asking about
type BookMetadata struct {
	BookID              string `json:"book_id"`
	BookTitle           string `json:"book_title"`
	CurrentChapterID    string `json:"current_chapter_id,omitempty"`
	CurrentChapterTitle string `json:"current_chapter_title,omitempty"`
}

// SelectedText is a passage the reader highlighted before asking
type SelectedText struct {
	Text        string `json:"text"`
	ChapterID   string `json:"chapter_id,omitempty"`
	ParagraphID string `json:"paragraph_id,omitempty"`
	StartIndex  int    `json:"start_index,omitempty"`
	EndIndex    int    `json:"end_index,omitempty"`
}

// HistoryTurn is one prior conversation turn supplied with the request
type HistoryTurn struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Request is the inbound question payload
type Request struct {
	Query               string        `json:"query"`
	BookMetadata        BookMetadata  `json:"book_metadata"`
	SelectedText        *SelectedText `json:"selected_text,omitempty"`
	ConversationHistory []HistoryTurn `json:"conversation_history,omitempty"`
	SessionID           string        `json:"session_id,omitempty"`
	MaxIterations       int           `json:"max_iterations,omitempty"`
}

// Input is the normalized request the pipeline operates on
type Input struct {
	Query         string
	Book          BookMetadata
	Selected      *SelectedText
	History       []session.Turn
	SessionID     string
	MaxIterations int
}

// HasSelectedText reports whether the reader highlighted a passage
func (in *Input) HasSelectedText() bool {
	return in.Selected != nil && strings.TrimSpace(in.Selected.Text) != ""
}

// Normalize validates a request and produces the pipeline input. An empty
// query is the only rejected condition.
func Normalize(req *Request) (*Input, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, errors.ErrInvalidInput
	}

	in := &Input{
		Query:         strings.TrimSpace(req.Query),
		Book:          req.BookMetadata,
		SessionID:     req.SessionID,
		MaxIterations: req.MaxIterations,
	}

	if req.SelectedText != nil && strings.TrimSpace(req.SelectedText.Text) != "" {
		selected := *req.SelectedText
		selected.Text = strings.TrimSpace(selected.Text)
		in.Selected = &selected
	}

	for _, turn := range req.ConversationHistory {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		created := time.Time{}
		if turn.Timestamp != nil {
			created = *turn.Timestamp
		}
		in.History = append(in.History, session.Turn{
			Role:      role,
			Content:   content,
			CreatedAt: created,
		})
	}

	return in, nil
}
