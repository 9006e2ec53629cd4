// Package ragcontext assembles the read-only context bundle for one
// question: the selected passage with its surroundings, book-level
// position, and the conversational thread. Built once per request, read by
// every downstream stage.
package ragcontext

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweetpotato0/bookrag/book"
	"github.com/sweetpotato0/bookrag/pkg/logging"
	"github.com/sweetpotato0/bookrag/rag/input"
	"github.com/sweetpotato0/bookrag/rag/intent"
	"github.com/sweetpotato0/bookrag/session"
)

// SelectedTextContext is the highlighted passage plus its surroundings
type SelectedTextContext struct {
	SelectedText        string
	PreviousParagraphs  []string
	FollowingParagraphs []string
	SectionTitle        string
	ChapterTitle        string
}

// BookContext is the reader's position in the book
type BookContext struct {
	BookID              string
	BookTitle           string
	CurrentChapterID    string
	CurrentChapterTitle string
}

// ConversationContext is the thread the question continues
type ConversationContext struct {
	RelevantTurns []session.Turn
	LastQuestion  string
	LastAnswer    string
}

// Context is the complete bundle for one question
type Context struct {
	Selected     *SelectedTextContext
	Book         *BookContext
	Conversation *ConversationContext
}

// HasSelectedText reports whether the bundle includes a highlighted passage
func (c *Context) HasSelectedText() bool {
	return c != nil && c.Selected != nil && c.Selected.SelectedText != ""
}

// MetadataSchema lists the metadata fields retrieval filters may reference
func (c *Context) MetadataSchema() []string {
	return []string{"book_id", "chapter_id", "chapter_title", "section_title", "paragraph_index"}
}

// ConversationSummary renders the recent thread as a short text block for
// prompt construction. Empty when there is no history.
func (c *Context) ConversationSummary() string {
	if c == nil || c.Conversation == nil || len(c.Conversation.RelevantTurns) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, turn := range c.Conversation.RelevantTurns {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
	}
	return strings.TrimSpace(sb.String())
}

// Manager builds context bundles, looking surrounding paragraphs up through
// an optional content provider.
type Manager struct {
	provider book.ContentProvider
	window   int
}

// NewManager creates a context manager. provider may be nil; selected-text
// context then carries the passage without surroundings.
func NewManager(provider book.ContentProvider) *Manager {
	return &Manager{provider: provider, window: 2}
}

// Build assembles the context bundle for one question. It never fails:
// content lookups that error are logged and the bundle degrades to what is
// available.
func (m *Manager) Build(ctx context.Context, in *input.Input, result *intent.Result) *Context {
	return &Context{
		Selected:     m.selectedContext(ctx, in),
		Book:         bookContext(in),
		Conversation: conversationContext(in, result),
	}
}

func (m *Manager) selectedContext(ctx context.Context, in *input.Input) *SelectedTextContext {
	if !in.HasSelectedText() {
		return nil
	}

	out := &SelectedTextContext{SelectedText: in.Selected.Text}

	if m.provider == nil || in.Selected.ChapterID == "" || in.Selected.ParagraphID == "" {
		return out
	}
	paragraphIndex, err := strconv.Atoi(in.Selected.ParagraphID)
	if err != nil {
		return out
	}

	surrounding, err := m.provider.Surrounding(ctx, in.Book.BookID, in.Selected.ChapterID, paragraphIndex, m.window)
	if err != nil {
		logging.WithComponent("context").Warn("surrounding paragraph lookup failed",
			"book_id", in.Book.BookID,
			"chapter_id", in.Selected.ChapterID,
			"error", err)
		return out
	}

	out.PreviousParagraphs = surrounding.Previous
	out.FollowingParagraphs = surrounding.Following
	out.SectionTitle = surrounding.SectionTitle
	out.ChapterTitle = surrounding.ChapterTitle
	return out
}

func bookContext(in *input.Input) *BookContext {
	if in.Book.BookID == "" && in.Book.BookTitle == "" {
		return nil
	}
	return &BookContext{
		BookID:              in.Book.BookID,
		BookTitle:           in.Book.BookTitle,
		CurrentChapterID:    in.Book.CurrentChapterID,
		CurrentChapterTitle: in.Book.CurrentChapterTitle,
	}
}

func conversationContext(in *input.Input, result *intent.Result) *ConversationContext {
	if len(in.History) == 0 {
		return nil
	}

	// Follow-up questions lean on the thread, so they get a wider window
	window := 2
	if result != nil && result.Intent == intent.FollowUp {
		window = 6
	}
	if window > len(in.History) {
		window = len(in.History)
	}

	out := &ConversationContext{
		RelevantTurns: in.History[len(in.History)-window:],
	}
	for i := len(in.History) - 1; i >= 0; i-- {
		turn := in.History[i]
		if turn.Role == "assistant" && out.LastAnswer == "" {
			out.LastAnswer = turn.Content
		}
		if turn.Role == "user" && out.LastQuestion == "" {
			out.LastQuestion = turn.Content
		}
	}
	return out
}
